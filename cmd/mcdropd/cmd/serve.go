package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/materials-commons/mcdrop/pkg/clog"
	"github.com/materials-commons/mcdrop/pkg/config"
	"github.com/materials-commons/mcdrop/pkg/mcdropd"
	"github.com/materials-commons/mcdrop/pkg/metrics"
	"github.com/materials-commons/mcdrop/pkg/notify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var skipMigrations bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mcdrop API server",
	Long: `Run the mcdrop API server. The server also runs the periodic maintenance
task that expires sessions, reclaims completed files, reaps orphaned staging
directories and purges old history. SIGINT or SIGTERM shut it down gracefully.`,
	Run: func(cmd *cobra.Command, args []string) {
		settings := mustLoadSettings()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := runServer(ctx, settings); err != nil {
			clog.Global().Fatalf("mcdropd: %s", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "do not migrate the database on startup")
}

func runServer(ctx context.Context, settings config.Settings) error {
	m := metrics.New(prometheus.DefaultRegisterer)
	hub := notify.NewHub()

	svc, stors, err := openService(serviceDeps{
		settings: settings,
		notifier: hub,
		metrics:  m,
		migrate:  !skipMigrations,
	})
	if err != nil {
		return err
	}

	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	server := mcdropd.NewServer(mcdropd.ServerDeps{
		Service:  svc,
		Stors:    stors,
		Hub:      hub,
		Settings: settings,
		Metrics:  m,
		Gatherer: prometheus.DefaultGatherer,
	})

	errc := make(chan error, 1)
	go func() {
		errc <- server.Start(ctx, mcdropd.Address(settings.Port))
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	clog.Global().Infof("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return server.Shutdown(shutdownCtx)
}
