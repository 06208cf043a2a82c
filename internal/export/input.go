package export

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/dataharvest/harvester/internal/model"
)

// Recognized input column names, lowercased. The first matching alias wins.
var (
	urlAliases  = []string{"url", "website", "site", "domain", "website url"}
	nameAliases = []string{"company", "company name", "name", "business name"}
	geoAliases  = []string{"geography", "country", "location", "region", "city"}
)

// ReadInputFile parses a bulk input file (.csv or .xlsx) into job inputs, one
// per data row, in file order. The first row must be a header naming at least
// a URL or a company column. Rows whose mapped cells are all empty are
// skipped; otherwise the row is kept even when invalid, so the caller can
// report it at its original index.
func ReadInputFile(path string) ([]model.JobInput, error) {
	var rows [][]string
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = readCSVRows(path)
	case ".xlsx":
		rows, err = readXLSXRows(path)
	default:
		return nil, eris.Errorf("input: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	return MapRows(rows)
}

// MapRows converts header-plus-data rows into job inputs using the column
// aliases.
func MapRows(rows [][]string) ([]model.JobInput, error) {
	if len(rows) == 0 {
		return nil, eris.New("input: empty file")
	}

	urlCol := findColumn(rows[0], urlAliases)
	nameCol := findColumn(rows[0], nameAliases)
	geoCol := findColumn(rows[0], geoAliases)
	if urlCol < 0 && nameCol < 0 {
		return nil, eris.New("input: no url or company column in header")
	}

	var inputs []model.JobInput
	for _, row := range rows[1:] {
		in := model.JobInput{
			URL:         cellAt(row, urlCol),
			CompanyName: cellAt(row, nameCol),
			Geography:   cellAt(row, geoCol),
		}
		if in.URL == "" && in.CompanyName == "" && in.Geography == "" {
			continue
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}

func readCSVRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "input: open csv")
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "input: read csv")
		}
		rows = append(rows, record)
	}
	return rows, nil
}

func readXLSXRows(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "input: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("input: xlsx has no sheets")
	}

	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func findColumn(header []string, aliases []string) int {
	for _, alias := range aliases {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), alias) {
				return i
			}
		}
	}
	return -1
}

func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
