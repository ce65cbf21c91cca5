package main

import (
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geonext/internal/model"
)

var (
	runText      string
	runInput     string
	runOutput    string
	runCountries []string
	runLanguage  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Geoparse a single text or a batch of documents",
	Long: "Geoparses --text directly, or every document of --input (JSONL or a JSON array, - for stdin). " +
		"Batch runs resume from results already in the store and dead-letter failed documents.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if (runText == "") == (runInput == "") {
			return eris.New("exactly one of --text or --input is required")
		}
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		hints := hintsFromFlags(runCountries, runLanguage)

		if runText != "" {
			doc := model.NewDocument("", runText, runLanguage)
			result, err := env.Pipeline.ProcessDocument(ctx, doc, hints)
			if result != nil {
				if saveErr := env.Store.SaveResult(ctx, *result); saveErr != nil {
					zap.L().Warn("save result failed", zap.Error(saveErr))
				}
				if werr := writeJSON(os.Stdout, result); werr != nil {
					return werr
				}
			}
			return err
		}

		docs, err := readDocuments(runInput)
		if err != nil {
			return err
		}

		out := io.Writer(os.Stdout)
		if runOutput != "" {
			f, err := os.OpenFile(runOutput, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return eris.Wrap(err, "open output")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		bar := newProgressBar(len(docs), "Geoparsing")
		var mu sync.Mutex
		enc := json.NewEncoder(out)
		stats, err := env.Pipeline.ProcessBatch(ctx, docs, hints, func(r model.DocumentResult) {
			mu.Lock()
			defer mu.Unlock()
			if encErr := enc.Encode(r); encErr != nil {
				zap.L().Warn("write result failed", zap.String("document", r.DocumentID), zap.Error(encErr))
			}
			if bar != nil {
				_ = bar.Add(1)
			}
		})
		if bar != nil {
			_ = bar.Finish()
		}

		zap.L().Info("run complete",
			zap.Int("total", stats.Total),
			zap.Int("processed", stats.Processed),
			zap.Int("skipped", stats.Skipped),
			zap.Int("failed", stats.Failed),
		)
		return err
	},
}

// newProgressBar returns a bar on stderr when it is a terminal, nil otherwise.
func newProgressBar(n int, description string) *progressbar.ProgressBar {
	if !isatty.IsTerminal(os.Stderr.Fd()) {
		return nil
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func init() {
	runCmd.Flags().StringVar(&runText, "text", "", "text to geoparse")
	runCmd.Flags().StringVar(&runInput, "input", "", "documents file (JSONL or JSON array, - for stdin)")
	runCmd.Flags().StringVar(&runOutput, "output", "", "append results as JSONL to this file instead of stdout")
	runCmd.Flags().StringSliceVar(&runCountries, "country", nil, "restrict places to these ISO country codes")
	runCmd.Flags().StringVar(&runLanguage, "language", "", "document language (ISO 639-1)")
	rootCmd.AddCommand(runCmd)
}
