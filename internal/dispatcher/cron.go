package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// Default cron configuration.
const (
	defaultTickInterval = 30 * time.Second
	defaultCronBatch    = 100
)

// cronParser — парсер cron-выражений (стандартные 5 полей).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCronExpr проверяет валидность cron-выражения.
func ValidateCronExpr(cronExpr string) error {
	if _, err := cronParser.Parse(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}
	return nil
}

// CalculateNextDue вычисляет следующее время выполнения schedule.
// Учитывает timezone schedule; результат в UTC для хранения в БД.
func CalculateNextDue(sched *domain.Schedule, from time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		// Fallback на UTC если timezone невалидный
		loc = time.UTC
	}

	schedule, err := cronParser.Parse(sched.CronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", sched.CronExpr, err)
	}

	return schedule.Next(from.In(loc)).UTC(), nil
}

// CronScheduler создаёт runs по cron-расписаниям pipelines.
//
// Расписания декларируются в секции schedules определения pipeline;
// при старте они синхронизируются в БД, затем тик-цикл создаёт runs
// для due schedules и публикует run.pending.
type CronScheduler struct {
	scheduleRepo *repo.ScheduleRepo
	runRepo      *repo.RunRepo
	registry     *config.Registry
	publisher    *mq.Publisher
	logger       *slog.Logger
	tickInterval time.Duration
	batchSize    int
}

// CronConfig — конфигурация CronScheduler.
type CronConfig struct {
	ScheduleRepo *repo.ScheduleRepo
	RunRepo      *repo.RunRepo
	Registry     *config.Registry
	Publisher    *mq.Publisher
	Logger       *slog.Logger
	TickInterval time.Duration // интервал тиков (default: 30s)
	BatchSize    int           // количество schedules за тик (default: 100)
}

// NewCronScheduler создаёт новый CronScheduler.
func NewCronScheduler(cfg CronConfig) *CronScheduler {
	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultCronBatch
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &CronScheduler{
		scheduleRepo: cfg.ScheduleRepo,
		runRepo:      cfg.RunRepo,
		registry:     cfg.Registry,
		publisher:    cfg.Publisher,
		logger:       logger,
		tickInterval: tickInterval,
		batchSize:    batchSize,
	}
}

// Start синхронизирует расписания и запускает тик-цикл.
// Блокируется до отмены контекста.
func (c *CronScheduler) Start(ctx context.Context) error {
	if err := c.SyncSchedules(ctx); err != nil {
		return fmt.Errorf("sync schedules: %w", err)
	}

	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	c.logger.Info("cron scheduler started", "tick_interval", c.tickInterval)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("cron scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := c.Tick(ctx); err != nil {
				c.logger.Error("cron tick failed", "error", err)
			}
		}
	}
}

// SyncSchedules приводит расписания в БД к секциям schedules
// загруженных pipelines: создаёт отсутствующие и отключает те,
// которых в определении больше нет.
func (c *CronScheduler) SyncSchedules(ctx context.Context) error {
	now := time.Now()

	for _, name := range c.registry.Names() {
		pipeline := c.registry.Get(name)

		declared := make(map[string]bool, len(pipeline.Schedules))
		for _, expr := range pipeline.Schedules {
			declared[expr] = true

			existing, err := c.scheduleRepo.GetByExpr(ctx, name, expr)
			if err != nil && !errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("get schedule %s %q: %w", name, expr, err)
			}

			if existing != nil {
				if !existing.Enabled {
					existing.Enabled = true
					existing.UpdatedAt = now
					if err := c.scheduleRepo.Update(ctx, existing); err != nil {
						return fmt.Errorf("enable schedule %s %q: %w", name, expr, err)
					}
				}
				continue
			}

			sched := domain.NewSchedule(name, expr)
			nextDue, err := CalculateNextDue(sched, now)
			if err != nil {
				return fmt.Errorf("pipeline %s: %w", name, err)
			}
			sched.NextDueAt = &nextDue

			if err := c.scheduleRepo.Create(ctx, sched); err != nil {
				return fmt.Errorf("create schedule %s %q: %w", name, expr, err)
			}

			c.logger.Info("schedule created",
				"pipeline", name,
				"cron", expr,
				"next_due_at", nextDue,
			)
		}

		// Отключаем расписания, убранные из определения
		stored, err := c.scheduleRepo.List(ctx, name)
		if err != nil {
			return fmt.Errorf("list schedules for %s: %w", name, err)
		}
		for i := range stored {
			sched := &stored[i]
			if declared[sched.CronExpr] || !sched.Enabled {
				continue
			}
			sched.Enabled = false
			sched.UpdatedAt = now
			if err := c.scheduleRepo.Update(ctx, sched); err != nil {
				return fmt.Errorf("disable schedule %s %q: %w", name, sched.CronExpr, err)
			}
			c.logger.Info("schedule disabled",
				"pipeline", name,
				"cron", sched.CronExpr,
			)
		}
	}

	return nil
}

// Tick выполняет один тик: находит due schedules, создаёт runs и
// публикует run.pending. Ошибка одного schedule не блокирует
// остальные.
func (c *CronScheduler) Tick(ctx context.Context) error {
	now := time.Now()

	schedules, err := c.scheduleRepo.ListDue(ctx, now, c.batchSize)
	if err != nil {
		return fmt.Errorf("list due schedules: %w", err)
	}

	if len(schedules) == 0 {
		return nil
	}

	c.logger.Debug("found due schedules", "count", len(schedules))

	var created int
	for i := range schedules {
		sched := &schedules[i]

		runCreated, err := c.processSchedule(ctx, sched, now)
		if err != nil {
			c.logger.Error("failed to process schedule",
				"schedule_id", sched.ID,
				"pipeline", sched.Pipeline,
				"error", err,
			)
			continue
		}
		if runCreated {
			created++
		}
	}

	c.logger.Info("cron tick completed",
		"due", len(schedules),
		"runs_created", created,
	)

	return nil
}

// processSchedule обрабатывает один due schedule.
// Возвращает true, если run был создан (не был дубликатом).
func (c *CronScheduler) processSchedule(ctx context.Context, sched *domain.Schedule, now time.Time) (bool, error) {
	if c.registry.Get(sched.Pipeline) == nil {
		c.logger.Warn("pipeline not found for schedule, skipping",
			"schedule_id", sched.ID,
			"pipeline", sched.Pipeline,
		)
		return false, nil
	}

	// Idempotency key "{pipeline}_{next_due_at_unix}": для одного
	// schedule и конкретного времени создаётся только один run
	idempKey := fmt.Sprintf("%s_%d", sched.Pipeline, sched.NextDueAt.Unix())

	existing, err := c.runRepo.GetByIdempotencyKey(ctx, sched.Pipeline, idempKey)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return false, fmt.Errorf("check idempotency: %w", err)
	}

	var runCreated bool
	run := existing

	if run != nil {
		c.logger.Debug("run already exists (idempotency)",
			"schedule_id", sched.ID,
			"run_id", run.ID,
			"idempotency_key", idempKey,
		)
	} else {
		run = domain.NewRun(sched.Pipeline, domain.TriggerSchedule, nil)
		run.IdempotencyKey = idempKey
		run.CreatedAt = now

		if err := c.runRepo.Create(ctx, run); err != nil {
			return false, fmt.Errorf("create run: %w", err)
		}

		c.logger.Info("created run from schedule",
			"run_id", run.ID,
			"schedule_id", sched.ID,
			"pipeline", sched.Pipeline,
		)
		runCreated = true
	}

	nextDue, err := CalculateNextDue(sched, now)
	if err != nil {
		// Schedule некорректный — next_due_at не трогаем
		c.logger.Error("failed to calculate next due",
			"schedule_id", sched.ID,
			"error", err,
		)
		return runCreated, nil
	}

	sched.RecordRun(run.ID, nextDue)
	if err := c.scheduleRepo.Update(ctx, sched); err != nil {
		return runCreated, fmt.Errorf("update schedule: %w", err)
	}

	if c.publisher != nil && runCreated {
		if err := c.publisher.PublishRunPending(ctx, run.ID); err != nil {
			// Run уже в БД — dispatcher подхватит его через polling
			c.logger.Warn("failed to publish run.pending",
				"run_id", run.ID,
				"error", err,
			)
		}
	}

	return runCreated, nil
}
