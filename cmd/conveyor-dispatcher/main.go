// Conveyor Dispatcher — управляющий daemon системы.
//
// Dispatcher:
//   - Принимает pending runs (RabbitMQ + polling)
//   - Раскрывает матрицы и строит граф jobs
//   - Публикует ready instances для runners
//   - Агрегирует завершения и закрывает runs
//   - Создаёт runs по cron-расписаниям
//   - Обслуживает HTTP API
//
// Определения pipelines загружаются из YAML-каталога при старте.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Conveyor/internal/api"
	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/dispatcher"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-dispatcher")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Определения pipelines
	pipelinesDir := os.Getenv("PIPELINES_DIR")
	if pipelinesDir == "" {
		pipelinesDir = "./pipelines"
	}

	registry, err := config.LoadDir(pipelinesDir)
	if err != nil {
		logger.Error("failed to load pipelines", "dir", pipelinesDir, "error", err)
		os.Exit(1)
	}
	logger.Info("pipelines loaded", "dir", pipelinesDir, "count", registry.Len())

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Создаём репозитории
	runRepo := repo.NewRunRepo(pool)
	instanceRepo := repo.NewInstanceRepo(pool)
	scheduleRepo := repo.NewScheduleRepo(pool)

	// RabbitMQ
	var publisher *mq.Publisher
	var mqConn *mq.Connection

	mqConn, err = mq.NewConnection(mq.URL(), logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		// Создаём топологию
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Создаём dispatcher
	d := dispatcher.New(dispatcher.Config{
		RunRepo:      runRepo,
		InstanceRepo: instanceRepo,
		Registry:     registry,
		Publisher:    publisher,
		Conn:         mqConn,
		Logger:       logger,
	})

	// Запускаем dispatcher
	if err := d.Start(ctx); err != nil {
		logger.Error("failed to start dispatcher", "error", err)
		os.Exit(1)
	}

	// HTTP API
	handler := api.NewHandler(api.Config{
		Registry:     registry,
		RunRepo:      runRepo,
		InstanceRepo: instanceRepo,
		ScheduleRepo: scheduleRepo,
		Publisher:    publisher,
		Logger:       logger,
	})

	// HTTP mux: API + /healthz + /metrics
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8080"
	if v := os.Getenv("DISPATCHER_PORT"); v != "" {
		port = ":" + v
	}

	srv := &http.Server{Addr: port, Handler: mux}

	// Cron scheduler и HTTP server живут в одной группе: падение
	// одного гасит контекст и останавливает остальных.
	g, gctx := errgroup.WithContext(ctx)

	cron := dispatcher.NewCronScheduler(dispatcher.CronConfig{
		ScheduleRepo: scheduleRepo,
		RunRepo:      runRepo,
		Registry:     registry,
		Publisher:    publisher,
		Logger:       logger,
	})

	g.Go(func() error {
		if err := cron.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("listening", "addr", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("dispatcher terminated", "error", err)
	}

	// Останавливаем dispatcher
	d.Stop()
	logger.Info("conveyor-dispatcher stopped")
}
