package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cxrgraph/cxrgraph-api/internal/config"
	"github.com/cxrgraph/cxrgraph-api/internal/database"
	"github.com/cxrgraph/cxrgraph-api/internal/database/bunstore"
	"github.com/cxrgraph/cxrgraph-api/internal/dataset"
	"github.com/cxrgraph/cxrgraph-api/internal/infrastructure/server"
)

type configLoader func() (*config.Config, error)

// withApp loads the config, wires the app and closes it when fn returns.
func withApp(ctx context.Context, load configLoader, fn func(*server.App) error) (err error) {
	cfg, err := load()
	if err != nil {
		return err
	}
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(context.WithoutCancel(ctx)); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(app)
}

func newIngestCmd(load configLoader) *cobra.Command {
	var (
		reportsPath    string
		annotationPath string
		imageDir       string
		mappingPath    string
		reset          bool
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Build the graph from reports and their images",
		Long: `Ingest reads a reports file (one report per blank-line separated block),
extracts entities and relationships, registers each report's images and
links entities to images by embedding similarity.

Images come from an annotation file (train[i].image_path belongs to report
i) or from a JSON mapping of doc_id to image paths.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if annotationPath != "" && mappingPath != "" {
				return errors.New("use either --annotation or --mapping, not both")
			}

			reports, err := dataset.LoadReports(reportsPath)
			if err != nil {
				return err
			}

			mapping := map[string][]string{}
			switch {
			case annotationPath != "":
				mapping, err = dataset.LoadAnnotation(annotationPath, imageDir)
			case mappingPath != "":
				mapping, err = dataset.LoadImageMapping(mappingPath)
			}
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, load, func(app *server.App) error {
				report, err := app.Pipeline(reset).Run(ctx, reports, mapping)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "run %s: %d/%d documents ingested, %d failed\n",
					report.RunID, report.Succeeded, report.Documents, report.Failed)
				_, _ = fmt.Fprintf(out, "  entities: %d  relationships: %d  images: %d  links: %d  fallbacks: %d\n",
					report.Entities, report.Relationships, report.Images, report.Links, report.Fallbacks)
				for _, f := range report.Failures {
					_, _ = fmt.Fprintf(out, "  failure: %s\n", f)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reportsPath, "reports", "", "Reports text file")
	cmd.Flags().StringVar(&annotationPath, "annotation", "", "Annotation JSON with a train list")
	cmd.Flags().StringVar(&imageDir, "image-dir", "", "Directory the annotation image paths are relative to")
	cmd.Flags().StringVar(&mappingPath, "mapping", "", "JSON object mapping doc_id to image paths")
	cmd.Flags().BoolVar(&reset, "reset", false, "Clear the graph before ingesting")
	_ = cmd.MarkFlagRequired("reports")
	return cmd
}

func newAskCmd(load configLoader) *cobra.Command {
	var (
		contextOnly bool
		topK        int
	)

	cmd := &cobra.Command{
		Use:   "ask <image> [question]",
		Short: "Answer a question about a chest X-ray image",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !contextOnly && len(args) < 2 {
				return errors.New("a question is required unless --context-only is set")
			}

			return withApp(cmd.Context(), load, func(app *server.App) error {
				out := cmd.OutOrStdout()
				if contextOnly {
					res, err := app.Answerer().Retrieve(cmd.Context(), args[0], topK)
					if err != nil {
						return err
					}
					enc := json.NewEncoder(out)
					enc.SetIndent("", "  ")
					return enc.Encode(res)
				}

				ans, err := app.Answerer().Answer(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(out, ans.Text)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&contextOnly, "context-only", false, "Print the retrieved graph context as JSON instead of answering")
	cmd.Flags().IntVar(&topK, "top-k", 0, "Number of nearest images to consider (0 uses the configured default)")
	return cmd
}

func newResetCmd(load configLoader) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every node and edge in the graph",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear the graph without --yes")
			}
			return withApp(cmd.Context(), load, func(app *server.App) error {
				if err := app.Graph().ClearAll(cmd.Context()); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "graph cleared")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm clearing the graph")
	return cmd
}

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, load, func(app *server.App) error {
				return app.Serve(ctx)
			})
		},
	}
}

func newRunsCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "Show the latest ingest run and its per-document outcomes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ledger, err := bunstore.Open(cmd.Context(), cfg.LedgerPath)
			if err != nil {
				return err
			}
			defer func() { _ = ledger.Close() }()

			return printLatestRun(cmd, ledger)
		},
	}
}

func printLatestRun(cmd *cobra.Command, ledger database.LedgerRepository) error {
	out := cmd.OutOrStdout()
	run, err := ledger.LatestRun(cmd.Context())
	if errors.Is(err, database.ErrNotFound) {
		_, _ = fmt.Fprintln(out, "no ingest runs recorded")
		return nil
	}
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "run %s  %s  started %s\n", run.ID, run.Status, run.StartedAt.Format("2006-01-02 15:04:05"))
	_, _ = fmt.Fprintf(out, "  documents: %d  succeeded: %d  failed: %d  images: %d  links: %d\n",
		run.Documents, run.Succeeded, run.Failed, run.Images, run.Links)
	if run.ErrorMessage != "" {
		_, _ = fmt.Fprintf(out, "  error: %s\n", run.ErrorMessage)
	}

	items, err := ledger.ListItems(cmd.Context(), run.ID)
	if err != nil {
		return err
	}
	for _, it := range items {
		line := fmt.Sprintf("  %-10s %-10s stage=%-10s strategy=%-8s entities=%d relationships=%d images=%d links=%d",
			it.DocID, it.Status, it.Stage, it.Strategy, it.Entities, it.Relationships, it.Images, it.Links)
		if it.ErrorLog != "" {
			line += " error=" + it.ErrorLog
		}
		_, _ = fmt.Fprintln(out, line)
	}
	return nil
}
