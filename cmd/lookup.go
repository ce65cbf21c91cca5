package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/geonext/internal/extract"
	"github.com/sells-group/geonext/internal/model"
	"github.com/sells-group/geonext/internal/store"
)

var (
	lookupCountries []string
	lookupNoCache   bool
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <query>",
	Short: "Query the configured gazetteers for one place name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("lookup"); err != nil {
			return err
		}

		var st store.Store
		if !lookupNoCache && cfg.Gazetteers.CacheEnabled {
			s, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer s.Close() //nolint:errcheck
			st = s
		}

		var closers []func()
		defer func() {
			for _, fn := range closers {
				fn()
			}
		}()
		set, err := initGazetteers(ctx, cfg, st, func(fn func()) { closers = append(closers, fn) })
		if err != nil {
			return err
		}

		res, faults := set.Lookup(ctx, args[0], hintsFromFlags(lookupCountries, ""))
		return writeJSON(os.Stdout, struct {
			Query      string                  `json:"query"`
			Gazetteer  string                  `json:"gazetteer,omitempty"`
			Cached     bool                    `json:"cached"`
			Candidates []extract.ToolCandidate `json:"candidates"`
			Faults     []model.Fault           `json:"faults,omitempty"`
		}{args[0], res.Gazetteer, res.Cached, extract.ToolCandidates(res.Candidates), faults})
	},
}

func init() {
	lookupCmd.Flags().StringSliceVar(&lookupCountries, "country", nil, "restrict results to these ISO country codes")
	lookupCmd.Flags().BoolVar(&lookupNoCache, "no-cache", false, "bypass the gazetteer cache")
	rootCmd.AddCommand(lookupCmd)
}
