package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runTable string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run duplicate resolution for a source table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Pipeline.Run(ctx, runTable)
		if err != nil {
			return eris.Wrapf(err, "run table %s", runTable)
		}

		zap.L().Info("run complete",
			zap.String("table", runTable),
			zap.String("output_table", result.OutputTable),
			zap.Int("processed", result.ProcessedCount),
			zap.Int("groups", result.GroupCount),
			zap.Int("review", result.ReviewCount),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	runCmd.Flags().StringVar(&runTable, "table", "", "source table to deduplicate (required)")
	_ = runCmd.MarkFlagRequired("table")
	rootCmd.AddCommand(runCmd)
}
