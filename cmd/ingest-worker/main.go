package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammed-shakir/estate-geolayers/internal/app"
	"github.com/mohammed-shakir/estate-geolayers/internal/core/config"
	"github.com/mohammed-shakir/estate-geolayers/internal/core/health"
	"github.com/mohammed-shakir/estate-geolayers/internal/core/server"
	"github.com/mohammed-shakir/estate-geolayers/internal/ingest"
	"github.com/mohammed-shakir/estate-geolayers/internal/jobs"
	"github.com/mohammed-shakir/estate-geolayers/internal/jobs/kafkaqueue"
	"github.com/mohammed-shakir/estate-geolayers/internal/layer"
	h3mapper "github.com/mohammed-shakir/estate-geolayers/internal/mapper/h3"
	"github.com/mohammed-shakir/estate-geolayers/internal/reaper"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		return 1
	}

	_, appLog := app.Logger(cfg, "ingest-worker", os.Stdout)
	p := app.Metrics(cfg, "ingest-worker", Version)
	appLog.Info("starting ingest-worker",
		"addr", cfg.Addr,
		"version", Version,
		"job_driver", cfg.Jobs.Driver,
		"max_attempts", cfg.Jobs.MaxAttempts,
		"timeout", cfg.Jobs.Timeout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := app.OpenLayers(ctx, cfg)
	if err != nil {
		appLog.Error("layer repository setup failed", "err", err)
		return 1
	}
	defer func() { _ = closeRepo() }()

	store, err := app.OpenBlob(ctx, cfg)
	if err != nil {
		appLog.Error("blob store setup failed", "err", err)
		return 1
	}

	reg, err := app.Registry(cfg)
	if err != nil {
		appLog.Error("crs definitions invalid", "err", err)
		return 1
	}

	orch := ingest.New(repo, store, reg, ingest.Options{
		Logger: appLog,
		Cells:  h3mapper.New(),
		H3Res:  cfg.H3Res,
	})
	runner := jobs.NewRunner(orch, jobs.Policy{
		MaxAttempts: cfg.Jobs.MaxAttempts,
		Timeout:     cfg.Jobs.Timeout,
		Backoff:     cfg.Jobs.Backoff,
	}, jobs.RunnerOptions{
		Logger:    appLog,
		Failed:    jobs.MarkFailed(repo, appLog),
		Retryable: ingest.Retryable,
	})

	var ready health.ReadinessReporter
	switch cfg.Jobs.Driver {
	case "kafka":
		consumer := kafkaqueue.NewConsumer(kafkaqueue.FromConfig(cfg.Kafka), runner, kafkaqueue.Options{
			Logger:   appLog,
			Register: p.Registerer(),
		})
		if err := consumer.Start(ctx); err != nil {
			appLog.Error("kafka consumer start failed", "err", err)
			return 1
		}
		defer consumer.Stop()
		ready = consumer
	case "pool":
		pool := jobs.NewPool(ctx, runner, jobs.PoolOptions{
			Workers: cfg.Jobs.Workers,
			Queue:   cfg.Jobs.Queue,
			Logger:  appLog,
		})
		defer pool.Close()
		resume(ctx, repo, pool, appLog)
		ready = pool
	default:
		appLog.Error("unknown JOB_DRIVER", "driver", cfg.Jobs.Driver)
		return 1
	}

	rp, err := reaper.New(repo, reaper.Options{
		Logger:     appLog,
		Schedule:   cfg.ReaperSchedule,
		StaleAfter: cfg.ReaperStaleAfter,
	})
	if err != nil {
		appLog.Error("reaper setup failed", "err", err)
		return 1
	}
	if err := rp.Start(ctx); err != nil {
		appLog.Error("reaper start failed", "err", err)
		return 1
	}
	defer rp.Stop()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := p.Serve(ctx, cfg.MetricsAddr, cfg.MetricsPath, appLog); err != nil {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
	}

	err = server.Run(ctx, cfg.Addr, appLog, server.Options{
		Metrics: p.Handler(),
		Ready:   ready,
	})
	if err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("ingest-worker stopped")
	return 0
}

// resume queues layers left in processing by a previous in-process run.
// Anything the queue cannot take is left for the reaper.
func resume(ctx context.Context, repo layer.Repository, pool *jobs.Pool, log *slog.Logger) {
	pending, err := repo.ListStale(ctx, layer.StatusProcessing, time.Now())
	if err != nil {
		log.Warn("list pending layers failed", "err", err)
		return
	}
	for _, l := range pending {
		if err := pool.Submit(l.ID); err != nil {
			log.Warn("resume layer failed", "layer_id", l.ID, "err", err)
			return
		}
	}
	if len(pending) > 0 {
		log.Info("resumed pending layers", "count", len(pending))
	}
}
