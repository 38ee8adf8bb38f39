package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-enricher/internal/model"
)

var (
	enrichExternal    bool
	enrichConcurrency int
)

var enrichCmd = &cobra.Command{
	Use:   "enrich <lead-id>...",
	Short: "Run one enrichment pass for the given leads",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "enrich")
		if err != nil {
			return err
		}
		defer env.Close()

		ids := args
		if enrichExternal {
			ids, err = resolveExternalIDs(cmd, env, args)
			if err != nil {
				return err
			}
		}

		outcomes := make([]model.Outcome, len(ids))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(enrichConcurrency, 1))
		for i, id := range ids {
			g.Go(func() error {
				outcomes[i] = env.Orchestrator.Process(gctx, id)
				return nil
			})
		}
		_ = g.Wait()

		failed := 0
		for _, out := range outcomes {
			if !out.Success {
				failed++
			}
		}
		zap.L().Info("enrich complete", zap.Int("leads", len(ids)), zap.Int("failed", failed))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(outcomes); err != nil {
			return eris.Wrap(err, "write outcomes")
		}
		if failed > 0 {
			return eris.Errorf("%d of %d leads failed", failed, len(ids))
		}
		return nil
	},
}

func resolveExternalIDs(cmd *cobra.Command, env *enrichEnv, externalIDs []string) ([]string, error) {
	ids := make([]string, 0, len(externalIDs))
	for _, ext := range externalIDs {
		lead, err := env.Store.FindLeadByExternalID(cmd.Context(), ext)
		if err != nil {
			return nil, eris.Wrapf(err, "find lead %s", ext)
		}
		if lead == nil {
			return nil, eris.Errorf("no lead with external id %s", ext)
		}
		ids = append(ids, lead.ID)
	}
	return ids, nil
}

func init() {
	enrichCmd.Flags().BoolVar(&enrichExternal, "external", false, "treat arguments as external ids")
	enrichCmd.Flags().IntVar(&enrichConcurrency, "concurrency", 4, "leads processed in parallel")
	rootCmd.AddCommand(enrichCmd)
}
