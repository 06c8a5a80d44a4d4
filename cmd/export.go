package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-dedup/internal/model"
)

var (
	exportRunID string
	exportPath  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a run's resolved records to an XLSX workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		records, err := st.ListResults(ctx, exportRunID)
		if err != nil {
			return eris.Wrap(err, "load results")
		}
		if len(records) == 0 {
			return eris.Errorf("no results for run %s", exportRunID)
		}

		if err := writeResultsXLSX(exportPath, records); err != nil {
			return err
		}

		zap.L().Info("export complete",
			zap.String("run_id", exportRunID),
			zap.String("path", exportPath),
			zap.Int("records", len(records)),
		)
		return nil
	},
}

func writeResultsXLSX(path string, records []*model.Record) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("resolved")
	if err != nil {
		return eris.Wrap(err, "add sheet")
	}

	header := sheet.AddRow()
	for _, name := range []string{
		"record_id", "item_code", "barcode", "description", "description_ext",
		"group_id", "match_type", "confidence", "review_required",
	} {
		header.AddCell().Value = name
	}

	for _, r := range records {
		row := sheet.AddRow()
		row.AddCell().Value = r.ID
		row.AddCell().Value = r.ItemCode
		row.AddCell().Value = r.Barcode
		row.AddCell().Value = r.Description
		row.AddCell().Value = r.DescriptionExt
		row.AddCell().SetInt64(r.GroupID)
		row.AddCell().Value = string(r.MatchType)
		row.AddCell().SetFloat(r.Confidence)
		row.AddCell().SetBool(r.ReviewRequired)
	}

	return eris.Wrap(f.Save(path), "save xlsx")
}

func init() {
	exportCmd.Flags().StringVar(&exportRunID, "run", "", "run ID (required)")
	exportCmd.Flags().StringVar(&exportPath, "output", "results.xlsx", "output file path")
	_ = exportCmd.MarkFlagRequired("run")
	rootCmd.AddCommand(exportCmd)
}
