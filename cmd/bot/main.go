package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"llm-autotrader/internal/logger"
	"llm-autotrader/internal/metrics"
	"llm-autotrader/internal/trace"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "bot",
		Short: "LLM-ranked automated trader for an IB-style broker gateway",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initializeSystem()
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to config file")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(cycleCmd())
	rootCmd.AddCommand(rankCmd())
	rootCmd.AddCommand(positionsCmd())
	rootCmd.AddCommand(eodCmd())

	err := rootCmd.Execute()
	shutdown()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = trace.Shutdown(ctx)
	logger.Sync()
}

// withApp loads config, wires the bot, connects the broker and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	if err := a.broker.Connect(ctx); err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.broker.Close(closeCtx)
	}()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler and serve metrics until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if addr := a.cfg.Metrics.Addr; addr != "" {
					srv := &http.Server{Addr: addr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
					go func() {
						if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
							logger.ErrorWithErr(ctx, "Metrics server failed", err, "addr", addr)
						}
					}()
					defer func() {
						sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
						defer cancel()
						_ = srv.Shutdown(sctx)
					}()
					logger.Info(ctx, "Serving metrics", "addr", addr)
				}

				a.scheduler.Start(ctx)
				logger.Info(ctx, "Bot started", "watchlist", len(a.cfg.Watchlist), "mode", a.cfg.Mode)
				<-ctx.Done()

				logger.Info(ctx, "Shutting down...")
				a.scheduler.Stop()
				if _, err := a.eod.SummarizeDay(context.Background(), time.Now()); err != nil {
					logger.Warn(ctx, "EOD summary on shutdown failed", "error", err)
				}
				return nil
			})
		},
	}
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func cycleCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run a single trading cycle now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if !force && !a.hours.IsOpen(time.Now()) {
					return errors.New("market is closed; use --force to run anyway")
				}
				return printJSON(a.engine.RunCycle(ctx))
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Run even when the market is closed")
	return cmd
}

func rankCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "rank [TICKER...]",
		Short: "Rank tickers (default: the configured watchlist) without trading",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				tickers := args
				if len(tickers) == 0 {
					tickers = a.cfg.Watchlist
				}
				if mode == "" {
					mode = a.cfg.Ranking.Mode
				}
				res, err := a.ranker.Rank(ctx, tickers, mode)
				if err != nil && len(res.All) == 0 {
					return err
				}
				errs := make(map[string]string, len(res.Errors))
				for t, e := range res.Errors {
					errs[t] = e.Error()
				}
				return printJSON(map[string]any{"ranked": res.Ranked, "all": res.All, "errors": errs})
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "Ranking mode: swing or day")
	return cmd
}

func positionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "Show broker positions, open orders and account values",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				// push subscriptions fill the snapshot shortly after connect
				select {
				case <-time.After(a.cfg.Broker.Timeouts.SnapshotWindow.D()):
				case <-ctx.Done():
					return ctx.Err()
				}
				summary, err := a.broker.AccountSummary(ctx)
				if err != nil {
					logger.Warn(ctx, "Account summary unavailable", "error", err)
				}
				return printJSON(map[string]any{
					"positions":       a.broker.Positions(),
					"orders":          a.broker.Orders(),
					"account_summary": summary,
					"trade_log":       a.tradeLog.Positions(),
				})
			})
		},
	}
}

func eodCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "eod",
		Short: "Write the end-of-day CSV summary from the trade log",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx, configPath)
			if err != nil {
				return err
			}
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			day := time.Now()
			if date != "" {
				if day, err = time.ParseInLocation("2006-01-02", date, a.hours.Location); err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
			}
			path, err := a.eod.SummarizeDay(ctx, day)
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Println("no trades recorded")
				return nil
			}
			fmt.Println(path)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Day to summarize (YYYY-MM-DD, default today)")
	return cmd
}
