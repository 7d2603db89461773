package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"newspipe/analytics"
	"newspipe/api"
	"newspipe/config"
	"newspipe/logging"
	"newspipe/scheduler"
	"newspipe/sources"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the HTTP API and run scheduled ingestion",
	Long: `Serve POST /api/v1/ingest, health, sources, quota, dedup stats/check and /metrics
on PORT.
When ATHENA_DATABASE is set, /api/v1/analytics/{counts,trending,sources} query the
normalized tier through Athena.
When SCHEDULE_FILE is set, its cron entries enqueue jobs as well.`,
	RunE: runAPI,
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.For("api")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	publisher, err := newProducer(cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	deps := api.Deps{
		Publisher:     publisher,
		QuotaProvider: sources.NewsAPIName,
		QuotaLimit:    cfg.NewsAPI.DailyLimit,
		Gatherer:      registry,
	}

	cache, err := newCache(cfg)
	if err != nil {
		return err
	}
	providers, quota := newRegistry(cfg, cache)
	deps.Sources = providers
	if quota != nil {
		deps.Quota = quota
	}
	if cache != nil {
		defer cache.Close()
		deps.Stats = cache
		deps.Seen = cache
		deps.Checks = map[string]api.HealthCheck{"redis": cache.Ping}
	}

	if cfg.Athena.Database != "" {
		client, err := analytics.NewAthena(ctx, analytics.Config{
			Database:       cfg.Athena.Database,
			Table:          cfg.Athena.Table,
			Workgroup:      cfg.Athena.Workgroup,
			OutputLocation: cfg.Athena.OutputLocation,
			MaxWait:        cfg.Athena.MaxWait,
			Region:         cfg.S3.Region,
			Profile:        cfg.S3.Profile,
		})
		if err != nil {
			return err
		}
		deps.Analytics = client
		log.WithField("database", cfg.Athena.Database).Info("analytics_enabled")
	}

	if cfg.ScheduleFile != "" {
		sched, err := config.LoadSchedule(cfg.ScheduleFile)
		if err != nil {
			return err
		}
		s := scheduler.New(publisher)
		if err := s.Load(sched); err != nil {
			return err
		}
		s.Start()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			s.Stop(sctx)
		}()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("api_listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}
