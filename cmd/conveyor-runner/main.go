// Conveyor Runner — выполняет job instances.
//
// Runner:
//   - Получает ready instances из RabbitMQ
//   - Рендерит выражения и выполняет shell-шаги
//   - Кеширует результаты шагов в PostgreSQL
//   - Публикует завершения обратно dispatcher'у
//
// Runners масштабируются горизонтально: prefetch ограничивает
// число параллельных instances на процесс.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Conveyor/internal/cache"
	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/executor"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/runner"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// secretPrefix — переменные окружения с этим префиксом становятся
// секретами runner'а: CONVEYOR_SECRET_TOKEN → secrets.TOKEN.
const secretPrefix = "CONVEYOR_SECRET_"

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-runner")

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
	instanceRepo := repo.NewInstanceRepo(pool)
	runRepo := repo.NewRunRepo(pool)

	// RabbitMQ: runner без брокера бесполезен — instances приходят
	// только через jobs.ready.
	mqConn, err := mq.NewConnection(mq.URL(), logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	logger.Info("RabbitMQ connected")

	// Создаём топологию
	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Warn("failed to setup topology", "error", err)
	}

	publisher := mq.NewPublisher(mqConn, logger)

	// Executor: shell runner + кеш шагов в PostgreSQL
	exec, err := executor.New(executor.Config{
		Runner: executor.NewShellRunner(),
		Cache:  cache.NewResolver(repo.NewCacheRepo(pool), logger),
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to create executor", "error", err)
		os.Exit(1)
	}

	// Создаём runner
	r := runner.New(runner.Config{
		InstanceRepo: instanceRepo,
		RunRepo:      runRepo,
		Registry:     registry,
		Executor:     exec,
		Publisher:    publisher,
		Conn:         mqConn,
		BaseDir:      os.Getenv("RUNNER_BASE_DIR"),
		Secrets:      secretsFromEnv(),
		Logger:       logger,
	})

	// Запускаем runner
	if err := r.Start(ctx); err != nil {
		logger.Error("failed to start runner", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8082"
	if v := os.Getenv("RUNNER_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем runner
	r.Stop()
	logger.Info("conveyor-runner stopped")
}

// secretsFromEnv собирает секреты из окружения процесса.
func secretsFromEnv() map[string]string {
	secrets := make(map[string]string)
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, secretPrefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(kv, secretPrefix), "=", 2)
		if len(parts) == 2 && parts[0] != "" {
			secrets[parts[0]] = parts[1]
		}
	}
	return secrets
}
