package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	catalogsync "github.com/conductorone/catalog-sync/pkg/sync"
	"github.com/conductorone/catalog-sync/pkg/syncrunner"
)

var ErrSigTerm = errors.New("context cancelled by process shutdown")

// appCommand wraps fn with setup and teardown of the application.
func appCommand(v *viper.Viper, n needs, fn func(ctx context.Context, cmd *cobra.Command, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx, a, err := setup(cmd.Context(), v, n)
		if err != nil {
			return err
		}
		defer a.close(ctx)
		return fn(ctx, cmd, a)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func countCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of products the source store reports",
		RunE: appCommand(v, needSource, func(ctx context.Context, cmd *cobra.Command, a *app) error {
			n, err := a.engine.CountProducts(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]int64{"remote_total": n})
		}),
	}
}

func productsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "products",
		Short: "Sync one page of products; page 1 resumes after what is already stored",
	}
	page := cmd.Flags().Int("page", 1, "Page to fetch")
	cmd.RunE = appCommand(v, needSource, func(ctx context.Context, cmd *cobra.Command, a *app) error {
		res, err := a.engine.SyncProductsPage(ctx, *page)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	})
	return cmd
}

func variationsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "variations",
		Short: "Merge variations into one batch of variable products",
		RunE: appCommand(v, needSource, func(ctx context.Context, cmd *cobra.Command, a *app) error {
			res, err := a.engine.SyncVariationsBatch(ctx, a.cfg.VariationBatchSize)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}),
	}
}

func categoriesCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "Map categories to destination terms and rewrite product references",
		RunE: appCommand(v, needSource|needDestination, func(ctx context.Context, cmd *cobra.Command, a *app) error {
			res, err := a.engine.SyncCategoriesFromProducts(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}),
	}
}

type statusOutput struct {
	*catalogsync.SyncStatus
	Phase catalogsync.Phase
}

func statusCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize what is stored and what is left to do",
		RunE: appCommand(v, 0, func(ctx context.Context, cmd *cobra.Command, a *app) error {
			status, err := a.engine.GetSyncStatus(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), statusOutput{
				SyncStatus: status,
				Phase:      catalogsync.DerivePhase(status, -1),
			})
		}),
	}
}

func readinessCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "readiness",
		Short: "Check that every category referenced by a product is stored and mapped",
		RunE: appCommand(v, 0, func(ctx context.Context, cmd *cobra.Command, a *app) error {
			res, err := a.engine.ValidateCategoryMappingReadiness(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}),
	}
}

func statsCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print row and distinct id counts of the catalog store",
		RunE: appCommand(v, 0, func(ctx context.Context, cmd *cobra.Command, a *app) error {
			stats, err := a.db.IdentityStats(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		}),
	}
}

func resetCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete stored products and categories; imported images are kept",
	}
	yes := cmd.Flags().Bool("yes", false, "Confirm deletion")
	cmd.RunE = appCommand(v, 0, func(ctx context.Context, cmd *cobra.Command, a *app) error {
		if !*yes {
			return errors.New("reset deletes all synced data, pass --yes to confirm")
		}
		if err := a.db.Reset(ctx); err != nil {
			return err
		}
		ctxzap.Extract(ctx).Info("catalog store reset", zap.String("db", a.cfg.DBPath))
		return nil
	})
	return cmd
}

func exportCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the catalog store as zstd compressed newline delimited JSON",
	}
	out := cmd.Flags().StringP("output", "o", "catalog-export.ndjson.zst", "Output file")
	cmd.RunE = appCommand(v, 0, func(ctx context.Context, cmd *cobra.Command, a *app) error {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		stats, err := a.db.Export(ctx, f)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), stats)
	})
	return cmd
}

func testConnectionCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "test-connection",
		Short: "Check that the configured stores accept the credentials",
		RunE: appCommand(v, 0, func(ctx context.Context, cmd *cobra.Command, a *app) error {
			if a.source == nil && a.dest == nil {
				return errors.New("neither a source nor a destination store is configured")
			}

			results := make(map[string]string)
			var errs []error
			check := func(name string, fn func(context.Context) error) {
				if err := fn(ctx); err != nil {
					results[name] = err.Error()
					errs = append(errs, fmt.Errorf("%s: %w", name, err))
					return
				}
				results[name] = "ok"
			}
			if a.source != nil {
				check("source", a.source.TestConnection)
			}
			if a.dest != nil {
				check("destination", a.dest.TestConnection)
			}

			if err := printJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			return errors.Join(errs...)
		}),
	}
}

func runCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync products, variations and categories until done or interrupted",
	}
	passes := cmd.Flags().Int("max-category-passes", 5, "Upper bound on category reconciliation passes")
	cmd.RunE = appCommand(v, needSource, func(ctx context.Context, cmd *cobra.Command, a *app) error {
		l := ctxzap.Extract(ctx)

		ctx, cancel := context.WithCancelCause(ctx)
		defer cancel(ErrSigTerm)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		go func() {
			select {
			case sig := <-sigChan:
				l.Info("received signal, finishing current operation", zap.String("signal", sig.String()))
				cancel(ErrSigTerm)
			case <-ctx.Done():
			}
		}()

		if a.dest == nil {
			l.Warn("no destination store configured, categories will not be mapped")
		}

		runner := syncrunner.New(a.engine,
			syncrunner.WithVariationBatchSize(a.cfg.VariationBatchSize),
			syncrunner.WithMaxCategoryPasses(*passes),
			syncrunner.WithSkipCategories(a.dest == nil),
			syncrunner.WithRetry(httpRetryConfig(a.cfg)),
		)
		report, err := runner.Run(ctx)
		if report != nil {
			if perr := printJSON(cmd.OutOrStdout(), report); perr != nil && err == nil {
				err = perr
			}
		}
		return err
	})
	return cmd
}
