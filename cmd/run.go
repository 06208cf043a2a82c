package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dataharvest/harvester/internal/model"
)

var (
	runURL  string
	runName string
	runGeo  string
	runMode string
	runOut  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Harvest a single company profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if runURL == "" && runName == "" {
			return eris.New("one of --url or --name is required")
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		input := model.JobInput{
			URL:         runURL,
			CompanyName: runName,
			Geography:   runGeo,
		}

		job, err := env.Orchestrator.Run(ctx, model.ParseMode(runMode), input)
		if err != nil {
			return eris.Wrap(err, "run job")
		}

		zap.L().Info("harvest complete",
			zap.String("job_id", job.ID),
			zap.String("website", job.Result.Website),
			zap.String("verification", string(job.Result.Verification)),
		)

		if runOut != "" && job.ArtifactRef != "" {
			artifact, err := env.Store.GetArtifact(ctx, job.ArtifactRef)
			if err != nil {
				return eris.Wrap(err, "load artifact")
			}
			if err := os.WriteFile(runOut, artifact.Data, 0o644); err != nil {
				return eris.Wrap(err, "write workbook")
			}
			zap.L().Info("workbook written", zap.String("path", runOut))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

func init() {
	runCmd.Flags().StringVar(&runURL, "url", "", "company website URL")
	runCmd.Flags().StringVar(&runName, "name", "", "company name to resolve")
	runCmd.Flags().StringVar(&runGeo, "geo", "", "geography hint for name resolution")
	runCmd.Flags().StringVar(&runMode, "mode", "realtime", "crawl mode: realtime or deep")
	runCmd.Flags().StringVar(&runOut, "out", "", "write the export workbook to this path")
	rootCmd.AddCommand(runCmd)
}
