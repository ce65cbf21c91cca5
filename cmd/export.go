package main

import (
	"context"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/geonext/internal/evaluate"
	"github.com/sells-group/geonext/internal/export"
	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/internal/store"
)

var (
	exportFormat     string
	exportOutput     string
	exportRunID      string
	exportUnresolved bool
	exportText       bool
)

const exportPageSize = 500

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored results as GeoJSON or an evaluation run as xlsx",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("export"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		w := io.Writer(os.Stdout)
		if exportOutput != "" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return eris.Wrap(err, "create export file")
			}
			defer f.Close() //nolint:errcheck
			w = f
		}

		switch exportFormat {
		case "geojson":
			results, err := allResults(ctx, st)
			if err != nil {
				return err
			}
			return export.WriteGeoJSON(w, results, export.GeoJSONOptions{
				IncludeUnresolved: exportUnresolved,
				IncludeText:       exportText,
			})
		case "xlsx":
			if exportRunID == "" {
				return eris.New("--run-id is required for xlsx export")
			}
			opts, err := evaluateOptions(cfg.Evaluate)
			if err != nil {
				return err
			}
			records, err := st.ListEvaluation(ctx, exportRunID)
			if err != nil {
				return err
			}
			return export.WriteEvaluationReport(w, exportRunID, evaluate.Aggregate(records, opts), records)
		default:
			return eris.Errorf("unknown export format %q", exportFormat)
		}
	},
}

// allResults pages through every stored document result.
func allResults(ctx context.Context, st store.Store) ([]model.DocumentResult, error) {
	var out []model.DocumentResult
	for offset := 0; ; offset += exportPageSize {
		page, err := st.ListResults(ctx, store.ResultFilter{Limit: exportPageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < exportPageSize {
			return out, nil
		}
	}
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "geojson", "geojson or xlsx")
	exportCmd.Flags().StringVar(&exportOutput, "output", "", "output file (default stdout)")
	exportCmd.Flags().StringVar(&exportRunID, "run-id", "", "evaluation run to export (xlsx)")
	exportCmd.Flags().BoolVar(&exportUnresolved, "unresolved", false, "include unresolved mentions with null geometry")
	exportCmd.Flags().BoolVar(&exportText, "text", false, "include document text in feature properties")
	rootCmd.AddCommand(exportCmd)
}
