package main

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-dedup/internal/model"
)

var (
	importCSVPath string
	importTable   string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import catalog rows from CSV into a source table",
	Long:  "Reads a CSV with a header row (record_id, item_code, barcode, description, description_ext) and loads it into the given source table.",
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

		f, err := os.Open(importCSVPath)
		if err != nil {
			return eris.Wrap(err, "open csv")
		}
		defer f.Close()

		records, err := parseCatalogCSV(f)
		if err != nil {
			return err
		}

		if err := st.InsertRecords(ctx, importTable, records); err != nil {
			return eris.Wrap(err, "insert records")
		}

		zap.L().Info("import complete",
			zap.String("table", importTable),
			zap.String("csv", importCSVPath),
			zap.Int("records", len(records)),
		)
		return nil
	},
}

// parseCatalogCSV reads catalog rows from CSV. Column order is resolved from
// the header; only record_id and description are required.
func parseCatalogCSV(r io.Reader) ([]*model.Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "read csv header")
	}

	colIdx := make(map[string]int, len(header))
	for i, name := range header {
		colIdx[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := colIdx["record_id"]; !ok {
		return nil, eris.New("csv missing record_id column")
	}
	if _, ok := colIdx["description"]; !ok {
		return nil, eris.New("csv missing description column")
	}

	field := func(row []string, name string) string {
		idx, ok := colIdx[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var records []*model.Record
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "read csv row")
		}
		records = append(records, &model.Record{
			ID:             field(row, "record_id"),
			ItemCode:       field(row, "item_code"),
			Barcode:        field(row, "barcode"),
			Description:    field(row, "description"),
			DescriptionExt: field(row, "description_ext"),
		})
	}

	if len(records) == 0 {
		return nil, eris.New("csv contains no data rows")
	}
	return records, nil
}

func init() {
	importCmd.Flags().StringVar(&importCSVPath, "csv", "", "path to CSV file (required)")
	importCmd.Flags().StringVar(&importTable, "table", "", "target source table (required)")
	_ = importCmd.MarkFlagRequired("csv")
	_ = importCmd.MarkFlagRequired("table")
	rootCmd.AddCommand(importCmd)
}
