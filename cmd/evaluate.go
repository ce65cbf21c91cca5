package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geonext/internal/config"
	"github.com/sells-group/geonext/internal/evaluate"
	"github.com/sells-group/geonext/internal/export"
	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/internal/store"
)

var (
	evalGold   string
	evalRunID  string
	evalReport string
	evalLimit  int
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Geoparse a gold dataset and score the results",
	Long: "Runs every document of --gold through the pipeline (resuming from stored results), " +
		"matches predictions to gold mentions and reports accuracy, error distances, AUC and extraction F1.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		opts, err := evaluateOptions(cfg.Evaluate)
		if err != nil {
			return err
		}
		gold, err := evaluate.LoadGold(evalGold)
		if err != nil {
			return err
		}
		if evalLimit > 0 && evalLimit < len(gold) {
			gold = gold[:evalLimit]
		}

		env, err := initPipeline(ctx, "evaluate")
		if err != nil {
			return err
		}
		defer env.Close()

		docs := make([]model.Document, len(gold))
		for i, g := range gold {
			docs[i] = g.Document
		}

		bar := newProgressBar(len(docs), "Evaluating")
		stats, runErr := env.Pipeline.ProcessBatch(ctx, docs, model.QueryHints{}, func(model.DocumentResult) {
			if bar != nil {
				_ = bar.Add(1)
			}
		})
		if bar != nil {
			_ = bar.Finish()
		}
		if runErr != nil {
			zap.L().Warn("evaluation run incomplete, scoring what finished", zap.Error(runErr))
		}

		results, err := loadResults(ctx, env.Store, docs)
		if err != nil {
			return err
		}
		records, metrics := evaluate.Score(gold, results, opts)

		if evalRunID == "" {
			evalRunID = "eval-" + time.Now().UTC().Format("20060102T150405Z")
		}
		n, err := env.Store.SaveEvaluation(ctx, evalRunID, records)
		if err != nil {
			return err
		}
		zap.L().Info("evaluation complete",
			zap.String("run_id", evalRunID),
			zap.Int64("records", n),
			zap.Int("processed", stats.Processed),
			zap.Int("skipped", stats.Skipped),
			zap.Int("failed", stats.Failed),
			zap.Float64("accuracy_at_161km", metrics.AccuracyAt161),
			zap.Float64("auc", metrics.AUC),
		)

		if evalReport != "" {
			if err := writeReportFile(evalReport, evalRunID, metrics, records); err != nil {
				return err
			}
		}

		if err := writeJSON(os.Stdout, struct {
			RunID   string           `json:"run_id"`
			Metrics evaluate.Metrics `json:"metrics"`
		}{evalRunID, metrics}); err != nil {
			return err
		}
		return runErr
	},
}

func evaluateOptions(ec config.EvaluateConfig) (evaluate.Options, error) {
	policy, err := evaluate.ParsePolicy(ec.UnresolvedPolicy)
	if err != nil {
		return evaluate.Options{}, err
	}
	return evaluate.Options{
		Policy:     policy,
		PenaltyKM:  ec.PenaltyKM,
		MaxErrorKM: ec.MaxErrorKM,
		AUCBins:    ec.AUCBins,
	}, nil
}

// loadResults reads the stored result of every document; documents that
// never finished are left out.
func loadResults(ctx context.Context, st store.Store, docs []model.Document) (map[string]model.DocumentResult, error) {
	out := make(map[string]model.DocumentResult, len(docs))
	for _, d := range docs {
		r, err := st.GetResult(ctx, d.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[d.ID] = *r
	}
	return out, nil
}

func writeReportFile(path, runID string, m evaluate.Metrics, records []model.EvaluationRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "create report")
	}
	if err := export.WriteEvaluationReport(f, runID, m, records); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrap(f.Close(), "close report")
}

func init() {
	evaluateCmd.Flags().StringVar(&evalGold, "gold", "", "gold dataset (JSONL or JSON array, GeoCorpora records accepted)")
	evaluateCmd.Flags().StringVar(&evalRunID, "run-id", "", "evaluation run ID (default: timestamp)")
	evaluateCmd.Flags().StringVar(&evalReport, "report", "", "write an xlsx report to this path")
	evaluateCmd.Flags().IntVar(&evalLimit, "limit", 0, "evaluate only the first N documents")
	_ = evaluateCmd.MarkFlagRequired("gold")
	rootCmd.AddCommand(evaluateCmd)
}
