package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/enrich"
	"github.com/sells-group/lead-enricher/internal/guard"
	"github.com/sells-group/lead-enricher/internal/intake"
	"github.com/sells-group/lead-enricher/internal/monitoring"
	"github.com/sells-group/lead-enricher/internal/server"
)

var (
	servePort    int
	serveNoRetry bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server with the retry scheduler and monitoring",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		workers := enrich.NewRunner(cfg.Server.IntakeWorkers, cfg.Server.IntakeQueue, 5*time.Minute)
		defer workers.Close()

		srv := server.New(server.Deps{
			Store:    env.Store,
			Intake:   intake.New(env.Store, env.Metrics),
			Enricher: env.Orchestrator,
			Workers:  workers,
			Breakers: env.Breakers,
			Guard:    env.Guard,
			Metrics:  env.Metrics,
		},
			server.WithWebhookSecret(cfg.Server.WebhookSecret),
			server.WithCORSOrigins(cfg.Server.CORSOrigins),
		)

		if !serveNoRetry {
			go env.Scheduler.Run(ctx)
		}
		checker := monitoring.NewChecker(monitoring.NewCollector(env.Store, env.Metrics), env.Alerter, cfg.Monitoring)
		go checker.Run(ctx)
		go sweepGuard(ctx, env.Guard, time.Minute)

		return startServer(ctx, srv.Handler(), resolvePort(servePort, cfg.Server.Port))
	},
}

// resolvePort prefers the flag over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves h until ctx is done, then shuts down gracefully.
func startServer(ctx context.Context, h http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

// sweepGuard drops expired locks and cooldowns every interval.
func sweepGuard(ctx context.Context, g *guard.Guard, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep()
		}
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoRetry, "no-retry", false, "do not run the retry scheduler in this process")
	rootCmd.AddCommand(serveCmd)
}
