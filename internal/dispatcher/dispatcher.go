package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 100
)

// Dispatcher управляет выполнением runs.
//
// Dispatcher — центральный компонент системы, который:
//   - Получает новые runs из очереди RabbitMQ (event-driven)
//   - Периодически проверяет pending runs в БД (polling fallback)
//   - Раскрывает pipeline каждого run в job instances
//   - Публикует job.ready для instances готовых jobs
//   - Отслеживает завершение instances
//   - Финализирует runs (SUCCEEDED/FAILED)
//   - Создаёт runs по cron-расписаниям
type Dispatcher struct {
	// Repositories
	runRepo      *repo.RunRepo
	instanceRepo *repo.InstanceRepo

	// Pipelines
	registry *config.Registry

	// MQ
	publisher *mq.Publisher
	conn      *mq.Connection

	// Active runs — runs в процессе выполнения (runID → state)
	activeRuns map[uuid.UUID]*RunState
	mu         sync.RWMutex

	// Consumers
	runConsumer *mq.Consumer
	jobConsumer *mq.Consumer

	// Configuration
	pollInterval time.Duration
	batchSize    int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Dispatcher.
type Config struct {
	// Repositories
	RunRepo      *repo.RunRepo
	InstanceRepo *repo.InstanceRepo

	// Registry — каталог определений pipelines.
	Registry *config.Registry

	// MQ
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество runs за один poll (default: 100)

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Dispatcher.
func New(cfg Config) *Dispatcher {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		runRepo:      cfg.RunRepo,
		instanceRepo: cfg.InstanceRepo,
		registry:     cfg.Registry,
		publisher:    cfg.Publisher,
		conn:         cfg.Conn,
		activeRuns:   make(map[uuid.UUID]*RunState),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Start запускает Dispatcher.
//
// Запускает:
//   - Consumer для runs.pending
//   - Consumer для jobs.completed
//   - Polling горутину для fallback
func (d *Dispatcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancelFunc = cancel

	d.logger.Info("starting dispatcher",
		"poll_interval", d.pollInterval,
		"batch_size", d.batchSize,
		"pipelines", d.registry.Len(),
	)

	d.runConsumer = mq.NewConsumer(d.conn, d.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueRunsPending),
		Handler:  d.handleRunPending,
		Prefetch: 10,
	})

	d.jobConsumer = mq.NewConsumer(d.conn, d.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueJobsCompleted),
		Handler:  d.handleJobCompleted,
		Prefetch: 10,
	})

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.runConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("run consumer error", "error", err)
		}
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.jobConsumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error("job consumer error", "error", err)
		}
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.pollLoop(ctx)
	}()

	d.logger.Info("dispatcher started")
	return nil
}

// Stop останавливает Dispatcher.
func (d *Dispatcher) Stop() {
	d.stoppedMu.Lock()
	d.stopped = true
	d.stoppedMu.Unlock()

	d.logger.Info("stopping dispatcher...")

	if d.cancelFunc != nil {
		d.cancelFunc()
	}

	if d.runConsumer != nil {
		d.runConsumer.Stop()
	}
	if d.jobConsumer != nil {
		d.jobConsumer.Stop()
	}

	d.wg.Wait()

	d.logger.Info("dispatcher stopped",
		"active_runs", len(d.activeRuns),
	)
}

// IsStopped проверяет, остановлен ли Dispatcher.
func (d *Dispatcher) IsStopped() bool {
	d.stoppedMu.RLock()
	defer d.stoppedMu.RUnlock()
	return d.stopped
}

// pollLoop — цикл polling для fallback.
func (d *Dispatcher) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем runs, созданные
	// пока dispatcher был выключен)
	d.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (d *Dispatcher) poll(ctx context.Context) {
	runs, err := d.runRepo.ListPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("failed to list pending runs", "error", err)
		return
	}

	if len(runs) == 0 {
		return
	}

	d.logger.Debug("poll found pending runs", "count", len(runs))

	for i := range runs {
		run := &runs[i]

		if d.isRunActive(run.ID) {
			continue
		}

		if err := d.processRun(ctx, run.ID); err != nil {
			d.logger.Error("failed to process run from poll",
				"run_id", run.ID,
				"error", err,
			)
		}
	}
}

// isRunActive проверяет, находится ли run в обработке.
func (d *Dispatcher) isRunActive(runID uuid.UUID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, exists := d.activeRuns[runID]
	return exists
}

// getActiveRun возвращает активный RunState.
func (d *Dispatcher) getActiveRun(runID uuid.UUID) *RunState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.activeRuns[runID]
}

// addActiveRun добавляет run в активные.
func (d *Dispatcher) addActiveRun(state *RunState) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.activeRuns[state.RunID()]; exists {
		return ErrRunAlreadyActive
	}

	d.activeRuns[state.RunID()] = state
	return nil
}

// removeActiveRun удаляет run из активных.
func (d *Dispatcher) removeActiveRun(runID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.activeRuns, runID)
}

// ActiveRunsCount возвращает количество активных runs.
func (d *Dispatcher) ActiveRunsCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.activeRuns)
}

// GetActiveRunStats возвращает статистику по активному run.
func (d *Dispatcher) GetActiveRunStats(runID uuid.UUID) (RunStats, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	state, exists := d.activeRuns[runID]
	if !exists {
		return RunStats{}, false
	}

	return state.Stats(), true
}
