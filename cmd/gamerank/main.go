package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/joelkehle/gamerank/internal/httpapi"
	"github.com/joelkehle/gamerank/internal/pipeline"
	"github.com/joelkehle/gamerank/internal/ranking"
	"github.com/joelkehle/gamerank/internal/report"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	code := 0
	root := newRootCmd(&code)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		if code == 0 {
			code = 1
		}
	}
	return code
}

func newRootCmd(code *int) *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "gamerank",
		Short:         "Collect upcoming game releases, score them and publish rankings",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (optional)")

	withApp := func(fn func(ctx context.Context, a *app, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			a, err := newApp(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			return fn(ctx, a, cmd)
		}
	}
	withSchema := func(fn func(ctx context.Context, a *app, cmd *cobra.Command) error) func(*cobra.Command, []string) error {
		return withApp(migrateFirst(fn))
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "migrate",
			Short: "Create or update the database schema",
			RunE: withSchema(func(_ context.Context, a *app, cmd *cobra.Command) error {
				fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", a.store.Dialect())
				return nil
			}),
		},
		&cobra.Command{
			Use:   "run",
			Short: "Run one evaluation pass and exit",
			// The pipeline pings and migrates as its storage precondition so
			// an unreachable database is reported and exits with code 2.
			RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command) error {
				p, err := a.pipeline()
				if err != nil {
					return err
				}
				res, err := p.Run(ctx)
				if err != nil {
					*code = exitCode(err)
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "run %s: collected=%d unique=%d filtered=%d evaluated=%d persisted=%d\n",
					res.RunID, res.Collected, res.Unique, res.Filtered, res.Evaluated, res.Persisted)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the HTTP API",
			RunE:  withSchema(serve),
		},
		newRankingsCmd(withSchema),
		newReportCmd(withSchema),
	)
	return root
}

func migrateFirst(fn func(ctx context.Context, a *app, cmd *cobra.Command) error) func(ctx context.Context, a *app, cmd *cobra.Command) error {
	return func(ctx context.Context, a *app, cmd *cobra.Command) error {
		if err := a.store.Migrate(ctx); err != nil {
			return err
		}
		return fn(ctx, a, cmd)
	}
}

func serve(ctx context.Context, a *app, _ *cobra.Command) error {
	p, err := a.pipeline()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr: a.cfg.HTTP.Addr,
		Handler: httpapi.NewServer(httpapi.Deps{
			Rankings: a.rankings(),
			Runner:   p,
			Storage:  a.store,
			Metrics:  a.metrics.Handler(),
			Log:      a.log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("gamerank listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		a.log.Info("gamerank shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("gamerank shutdown_failed", "err", err)
		}
	}
	if p.IsRunning() {
		a.log.Info("gamerank waiting_for_run")
	}
	p.Wait()
	return nil
}

type appCmd func(fn func(ctx context.Context, a *app, cmd *cobra.Command) error) func(*cobra.Command, []string) error

func newRankingsCmd(withApp appCmd) *cobra.Command {
	var (
		date, typ string
		limit     int
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "rankings",
		Short: "Print a ranking snapshot",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command) error {
			gameType, err := ranking.ParseTypeFilter(typ)
			if err != nil {
				return err
			}
			svc := a.rankings()
			var snap ranking.Snapshot
			if date == "" {
				snap, err = svc.Latest(ctx, gameType, limit)
			} else {
				snap, err = svc.Snapshot(ctx, date, gameType, limit)
			}
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			return printSnapshot(cmd.OutOrStdout(), snap)
		}),
	}
	cmd.Flags().StringVar(&date, "date", "", "evaluation date YYYY-MM-DD (default latest)")
	cmd.Flags().StringVar(&typ, "type", "", "consumer, social or empty for all")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printSnapshot(w io.Writer, snap ranking.Snapshot) error {
	fmt.Fprintf(w, "date %s  games %d  avg %.1f\n\n", snap.Date, snap.Stats.TotalGames, snap.Stats.AverageScore)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSCORE\tTREND\tTYPE\tTITLE\tRELEASE")
	for _, r := range snap.Rows {
		fmt.Fprintf(tw, "%d\t%d\t%.1f\t%s\t%s\t%s\n", r.Rank, r.Score, r.TrendScore, r.Type, r.Title, r.ReleaseDate)
	}
	return tw.Flush()
}

func newReportCmd(withApp appCmd) *cobra.Command {
	var (
		date, out string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write a ranking report as Markdown, HTML or PDF",
		RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command) error {
			svc := a.rankings()
			resolved, _, err := svc.Distribution(ctx, date)
			if err != nil {
				return err
			}
			data, err := report.Build(ctx, svc, resolved, limit, 3)
			if err != nil {
				return err
			}
			body, err := renderReport(ctx, data, out)
			if err != nil {
				return err
			}
			if out == "" {
				_, err = cmd.OutOrStdout().Write(body)
				return err
			}
			if dir := filepath.Dir(out); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return err
				}
			}
			if err := os.WriteFile(out, body, 0o644); err != nil {
				return err
			}
			a.log.Info("gamerank report_written", "path", out, "date", resolved, "bytes", len(body))
			return nil
		}),
	}
	cmd.Flags().StringVar(&date, "date", "", "evaluation date YYYY-MM-DD (default latest)")
	cmd.Flags().StringVar(&out, "out", "", "output file; extension selects .md, .html or .pdf (default markdown to stdout)")
	cmd.Flags().IntVar(&limit, "limit", 20, "rows per section")
	return cmd
}

// renderReport picks the format from the output extension.
func renderReport(ctx context.Context, data report.Data, out string) ([]byte, error) {
	md := report.Markdown(data)
	ext := strings.ToLower(filepath.Ext(out))
	if ext == "" || ext == ".md" {
		return []byte(md), nil
	}
	doc, err := report.HTML(md, "GameRank "+data.Date)
	if err != nil {
		return nil, err
	}
	switch ext {
	case ".html", ".htm":
		return []byte(doc), nil
	case ".pdf":
		return (&report.PDFRenderer{Timeout: 60 * time.Second}).Render(ctx, doc)
	default:
		return nil, fmt.Errorf("unsupported report format %q", ext)
	}
}

var _ httpapi.Runner = (*pipeline.Pipeline)(nil)
