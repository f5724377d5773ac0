package runner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/executor"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// Default configuration values.
const defaultPrefetch = 4

// Runner выполняет job instances, полученные из очереди jobs.ready.
type Runner struct {
	// Repositories
	instanceRepo *repo.InstanceRepo
	runRepo      *repo.RunRepo

	// Pipelines
	registry *config.Registry

	// Выполнение шагов
	executor *executor.Executor

	// MQ
	publisher *mq.Publisher
	conn      *mq.Connection

	// Consumer
	consumer *mq.Consumer

	// Configuration
	baseDir  string
	secrets  map[string]string
	prefetch int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Runner.
type Config struct {
	// Repositories
	InstanceRepo *repo.InstanceRepo
	RunRepo      *repo.RunRepo

	// Registry — каталог определений pipelines.
	Registry *config.Registry

	// Executor выполняет шаги instance.
	Executor *executor.Executor

	// MQ
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// BaseDir — корень рабочих директорий instances.
	// Пусто — os.TempDir()/conveyor.
	BaseDir string

	// Secrets — секреты, доступные шагам через ${{ secrets.* }}.
	Secrets map[string]string

	// Prefetch — число параллельных instances (default: 4).
	Prefetch int

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Runner.
func New(cfg Config) *Runner {
	baseDir := cfg.BaseDir
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "conveyor")
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		instanceRepo: cfg.InstanceRepo,
		runRepo:      cfg.RunRepo,
		registry:     cfg.Registry,
		executor:     cfg.Executor,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		baseDir:      baseDir,
		secrets:      cfg.Secrets,
		prefetch:     prefetch,
		logger:       logger,
	}
}

// Start запускает consumer для jobs.ready.
//
// Потерянные job.ready не требуют polling на стороне runner'а:
// сообщения persistent, а подвисшие runs подхватывает polling
// dispatcher'а.
func (r *Runner) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancelFunc = cancel

	r.logger.Info("starting runner",
		"prefetch", r.prefetch,
		"base_dir", r.baseDir,
		"pipelines", r.registry.Len(),
	)

	r.consumer = mq.NewConsumer(r.conn, r.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueJobsReady),
		Handler:  r.handleJobReady,
		Prefetch: r.prefetch,
	})

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("job consumer error", "error", err)
		}
	}()

	r.logger.Info("runner started")
	return nil
}

// Stop останавливает Runner.
func (r *Runner) Stop() {
	r.stoppedMu.Lock()
	r.stopped = true
	r.stoppedMu.Unlock()

	r.logger.Info("stopping runner...")

	if r.cancelFunc != nil {
		r.cancelFunc()
	}
	if r.consumer != nil {
		r.consumer.Stop()
	}

	r.wg.Wait()

	r.logger.Info("runner stopped")
}

// IsStopped проверяет, остановлен ли Runner.
func (r *Runner) IsStopped() bool {
	r.stoppedMu.RLock()
	defer r.stoppedMu.RUnlock()
	return r.stopped
}
