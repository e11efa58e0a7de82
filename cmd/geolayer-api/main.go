package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammed-shakir/estate-geolayers/internal/api"
	"github.com/mohammed-shakir/estate-geolayers/internal/app"
	"github.com/mohammed-shakir/estate-geolayers/internal/core/config"
	"github.com/mohammed-shakir/estate-geolayers/internal/core/health"
	"github.com/mohammed-shakir/estate-geolayers/internal/core/server"
	"github.com/mohammed-shakir/estate-geolayers/internal/ingest"
	"github.com/mohammed-shakir/estate-geolayers/internal/jobs"
	"github.com/mohammed-shakir/estate-geolayers/internal/jobs/kafkaqueue"
	h3mapper "github.com/mohammed-shakir/estate-geolayers/internal/mapper/h3"
	"github.com/mohammed-shakir/estate-geolayers/internal/views"
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

	_, appLog := app.Logger(cfg, "geolayer-api", os.Stdout)
	p := app.Metrics(cfg, "geolayer-api", Version)
	appLog.Info("starting geolayer-api",
		"addr", cfg.Addr,
		"version", Version,
		"layer_store", cfg.LayerStore,
		"blob_driver", cfg.BlobDriver,
		"job_driver", cfg.Jobs.Driver)

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

	vc, err := app.OpenViewCache(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("view cache setup failed", "err", err)
		return 1
	}
	defer func() { _ = vc.Close() }()

	cells := h3mapper.New()
	ready := []health.ReadinessReporter{vc.Ready}

	var disp jobs.Dispatcher
	switch cfg.Jobs.Driver {
	case "kafka":
		prod, err := kafkaqueue.NewProducer(kafkaqueue.FromConfig(cfg.Kafka), appLog)
		if err != nil {
			appLog.Error("kafka producer setup failed", "err", err)
			return 1
		}
		defer func() { _ = prod.Close() }()
		disp = prod
	case "pool":
		reg, err := app.Registry(cfg)
		if err != nil {
			appLog.Error("crs definitions invalid", "err", err)
			return 1
		}
		orch := ingest.New(repo, store, reg, ingest.Options{Logger: appLog, Cells: cells, H3Res: cfg.H3Res})
		runner := jobs.NewRunner(orch, jobs.Policy{
			MaxAttempts: cfg.Jobs.MaxAttempts,
			Timeout:     cfg.Jobs.Timeout,
			Backoff:     cfg.Jobs.Backoff,
		}, jobs.RunnerOptions{
			Logger:    appLog,
			Failed:    jobs.MarkFailed(repo, appLog),
			Retryable: ingest.Retryable,
		})
		pool := jobs.NewPool(ctx, runner, jobs.PoolOptions{
			Workers: cfg.Jobs.Workers,
			Queue:   cfg.Jobs.Queue,
			Logger:  appLog,
		})
		defer pool.Close()
		disp = pool
		ready = append(ready, pool)
	default:
		appLog.Error("unknown JOB_DRIVER", "driver", cfg.Jobs.Driver)
		return 1
	}

	svc := views.New(repo, store, vc, views.Options{
		Logger:     appLog,
		TTL:        cfg.TTLFor,
		Dispatcher: disp,
		Cells:      cells,
		Tolerance:  cfg.SimplifyTolerance,
	})
	handler := api.New(svc, appLog, cfg.H3Res)

	if cfg.MetricsAddr != "" {
		go func() {
			if err := p.Serve(ctx, cfg.MetricsAddr, cfg.MetricsPath, appLog); err != nil {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
	}

	err = server.Run(ctx, cfg.Addr, appLog, server.Options{
		Metrics: p.Handler(),
		Ready:   health.All(ready...),
		Mount:   handler.Mount,
	})
	if err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("geolayer-api stopped")
	return 0
}
