package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"newspipe/api"
	"newspipe/config"
	"newspipe/logging"
	"newspipe/queue"

	"github.com/spf13/cobra"
)

var flagMetricsAddr string

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume ingestion jobs from the queue",
	Long: `Consume ingestion jobs from Kafka or RabbitMQ (QUEUE_BACKEND) and run each one
through the pipeline. Failed jobs are retried up to QUEUE_MAX_ATTEMPTS times and then
dead-lettered.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", ":9090", "address for /metrics and /api/v1/health (empty disables)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.For("worker")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	out, err := newProducer(cfg)
	if err != nil {
		return err
	}
	defer out.Close()

	if flagMetricsAddr != "" {
		srv := &http.Server{Addr: flagMetricsAddr, Handler: api.NewRouter(api.Deps{
			Gatherer: p.registry,
			Checks:   p.healthChecks(cfg),
		})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics_server_failed")
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	handler := queue.NewJobHandler(p.orch)
	switch cfg.Queue.Backend {
	case config.QueueRabbitMQ:
		consumer, err := queue.NewRabbitConsumer(rabbitConfig(cfg), handler, out)
		if err != nil {
			return err
		}
		defer consumer.Close()
		if err := consumer.Consume(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	default:
		consumer, err := queue.NewKafkaConsumer(kafkaConfig(cfg), handler, out)
		if err != nil {
			return err
		}
		defer consumer.Close()
		if err := consumer.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
	}

	log.Info("worker_stopped")
	return nil
}

func (p *pipeline) healthChecks(cfg *config.Config) map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{
		"s3": func(ctx context.Context) error { return p.store.CheckBucket(ctx, cfg.S3.NormalizedBucket) },
	}
	if p.cache != nil {
		checks["redis"] = p.cache.Ping
	}
	return checks
}
