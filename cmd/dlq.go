package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/geonext/internal/resilience"
)

var (
	dlqErrorType string
	dlqLimit     int
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and retry dead-lettered documents",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered documents that are due for retry",
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

		total, err := st.CountDLQ(ctx)
		if err != nil {
			return err
		}
		due, err := st.DequeueDLQ(ctx, resilience.DLQFilter{ErrorType: dlqErrorType, Limit: dlqLimit})
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, struct {
			Total int                   `json:"total"`
			Due   []resilience.DLQEntry `json:"due"`
		}{total, due})
	},
}

var dlqRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Reprocess dead-lettered documents that are due",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Pipeline.RetryDLQ(ctx, resilience.DLQFilter{ErrorType: dlqErrorType, Limit: dlqLimit}, hintsFromFlags(nil, ""))
		zap.L().Info("dlq retry complete",
			zap.Int("attempted", stats.Attempted),
			zap.Int("succeeded", stats.Succeeded),
			zap.Int("failed", stats.Failed),
		)
		if werr := writeJSON(os.Stdout, stats); werr != nil {
			return werr
		}
		return err
	},
}

func init() {
	dlqCmd.PersistentFlags().StringVar(&dlqErrorType, "error-type", "", "only entries of this type (transient or permanent)")
	dlqCmd.PersistentFlags().IntVar(&dlqLimit, "limit", 100, "maximum entries")
	dlqCmd.AddCommand(dlqListCmd, dlqRetryCmd)
	rootCmd.AddCommand(dlqCmd)
}
