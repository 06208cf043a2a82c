package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dataharvest/harvester/internal/export"
	"github.com/dataharvest/harvester/internal/model"
)

var (
	bulkFile string
	bulkMode string
	bulkOut  string
)

var bulkCmd = &cobra.Command{
	Use:   "bulk",
	Short: "Harvest a batch of companies from a CSV or XLSX file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		inputs, err := export.ReadInputFile(bulkFile)
		if err != nil {
			return eris.Wrap(err, "read input file")
		}
		zap.L().Info("input file loaded",
			zap.String("path", bulkFile),
			zap.Int("rows", len(inputs)),
		)

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		bulk, err := env.Orchestrator.RunBulk(ctx, model.ParseMode(bulkMode), inputs)
		if err != nil {
			return eris.Wrap(err, "run bulk job")
		}

		succeeded := 0
		for _, row := range bulk.Rows {
			if row.Error == nil {
				succeeded++
			}
		}
		zap.L().Info("bulk harvest complete",
			zap.String("bulk_id", bulk.ID),
			zap.Int("rows", len(bulk.Rows)),
			zap.Int("succeeded", succeeded),
		)
		for _, rowErr := range bulk.Errors() {
			zap.L().Warn("row failed",
				zap.Int("row", rowErr.RowIndex),
				zap.String("error", rowErr.Message),
			)
		}

		if bulkOut != "" && bulk.ArtifactRef != "" {
			artifact, err := env.Store.GetArtifact(ctx, bulk.ArtifactRef)
			if err != nil {
				return eris.Wrap(err, "load artifact")
			}
			if err := os.WriteFile(bulkOut, artifact.Data, 0o644); err != nil {
				return eris.Wrap(err, "write workbook")
			}
			zap.L().Info("workbook written", zap.String("path", bulkOut))
		}

		return nil
	},
}

func init() {
	bulkCmd.Flags().StringVar(&bulkFile, "file", "", "input CSV or XLSX file (required)")
	bulkCmd.Flags().StringVar(&bulkMode, "mode", "realtime", "crawl mode: realtime or deep")
	bulkCmd.Flags().StringVar(&bulkOut, "out", "companies.xlsx", "write the combined workbook to this path")
	_ = bulkCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(bulkCmd)
}
