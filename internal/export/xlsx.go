// Package export renders company profiles as XLSX workbooks and reads the
// tabular input files that feed bulk jobs.
package export

import (
	"bytes"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/dataharvest/harvester/internal/model"
)

const (
	sheetName = "Companies"

	// Light red fill marking contact cells on rows that did not verify.
	unverifiedFillColor = "FFFFCDD2"
)

// Column indexes of the contact cells that get flagged on non-verified rows.
var contactColumns = []int{columnIndex("Phone"), columnIndex("Email")}

func columnIndex(header string) int {
	for i, h := range model.ProfileHeaders {
		if h == header {
			return i
		}
	}
	return -1
}

// WriteProfiles renders profiles into an XLSX workbook and returns the file
// bytes. Rows keep the given order. A profile list of zero length still
// produces a workbook with the header row, so downloads are never empty
// files. Phone and Email cells of rows that are not Verified get a red fill.
func WriteProfiles(profiles []model.ExtractedProfile) ([]byte, error) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return nil, eris.Wrap(err, "export: add sheet")
	}

	headerStyle := xlsx.NewStyle()
	headerStyle.Font.Bold = true
	headerStyle.ApplyFont = true

	flagStyle := xlsx.NewStyle()
	flagStyle.Fill = *xlsx.NewFill("solid", unverifiedFillColor, unverifiedFillColor)
	flagStyle.ApplyFill = true

	header := sheet.AddRow()
	for _, h := range append(append([]string{}, model.ProfileHeaders...), "Scraped At") {
		cell := header.AddCell()
		cell.Value = h
		cell.SetStyle(headerStyle)
	}

	for _, p := range profiles {
		row := sheet.AddRow()
		flagged := p.Verification != model.StatusVerified

		for i, v := range p.Row() {
			cell := row.AddCell()
			cell.Value = v
			if flagged && isContactColumn(i) {
				cell.SetStyle(flagStyle)
			}
		}

		scraped := p.ScrapedAt
		if scraped.IsZero() {
			scraped = time.Now().UTC()
		}
		row.AddCell().Value = scraped.Format("2006-01-02 15:04:05")
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, eris.Wrap(err, "export: write workbook")
	}
	return buf.Bytes(), nil
}

func isContactColumn(i int) bool {
	for _, c := range contactColumns {
		if i == c {
			return true
		}
	}
	return false
}
