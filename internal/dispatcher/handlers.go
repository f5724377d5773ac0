package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Причины пропуска instances.
const (
	skipReasonFailFast    = "fail-fast: earlier instance failed"
	skipReasonNeedsFailed = "needs failed"
)

// handleRunPending обрабатывает сообщение run.pending.
func (d *Dispatcher) handleRunPending(ctx context.Context, msg *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunPendingPayload](&msg.Message)
	if err != nil {
		d.logger.Error("failed to parse run.pending payload", "error", err)
		return err
	}

	logger := telemetry.WithRunID(d.logger, payload.RunID.String())
	logger.Info("received run.pending")

	if d.isRunActive(payload.RunID) {
		logger.Debug("run already active, skipping")
		return nil
	}

	if err := d.processRun(ctx, payload.RunID); err != nil {
		// Run мог быть подхвачен poll'ом или другим dispatcher'ом
		if errors.Is(err, ErrRunAlreadyActive) || errors.Is(err, ErrRunNotPending) {
			logger.Debug("run already taken", "reason", err)
			return nil
		}
		return fmt.Errorf("process run %s: %w", payload.RunID, err)
	}

	return nil
}

// processRun начинает обработку run: раскрывает pipeline в instances,
// сохраняет их в БД и публикует первую волну job.ready.
func (d *Dispatcher) processRun(ctx context.Context, runID uuid.UUID) error {
	logger := telemetry.WithRunID(d.logger, runID.String())

	run, err := d.runRepo.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return fmt.Errorf("get run: %w", err)
	}

	if run.Status != domain.RunStatusPending {
		return fmt.Errorf("%w: status is %s", ErrRunNotPending, run.Status)
	}

	pipeline := d.registry.Get(run.Pipeline)
	if pipeline == nil {
		return d.failRun(ctx, run, fmt.Sprintf("pipeline not found: %s", run.Pipeline))
	}

	state := NewRunState(run, pipeline)
	if err := state.Initialize(); err != nil {
		logger.Error("failed to initialize run", "error", err)
		return d.failRun(ctx, run, err.Error())
	}

	// Раскрытие матриц атомарно: либо все instances в БД, либо ни одного
	if err := d.instanceRepo.CreateBatch(ctx, state.Instances()); err != nil {
		return fmt.Errorf("create instances: %w", err)
	}

	if err := d.addActiveRun(state); err != nil {
		return err
	}

	run.MarkRunning()
	if err := d.runRepo.Update(ctx, run); err != nil {
		d.removeActiveRun(runID)
		return fmt.Errorf("mark run running: %w", err)
	}

	telemetry.RunsStarted.Inc()
	stats := state.Stats()
	logger.Info("run started",
		"pipeline", run.Pipeline,
		"instances", stats.TotalInstances,
	)

	return d.dispatchReadyJobs(ctx, state)
}

// dispatchReadyJobs публикует job.ready для instances всех jobs, чьи
// needs удовлетворены.
func (d *Dispatcher) dispatchReadyJobs(ctx context.Context, state *RunState) error {
	for _, job := range state.ReadyJobs() {
		for _, inst := range state.JobInstances(job.ID) {
			if inst.IsFinished() {
				continue
			}

			err := d.publisher.PublishJobReady(ctx, mq.JobReadyPayload{
				InstanceID: inst.ID,
				RunID:      state.RunID(),
				Pipeline:   state.Pipeline.Name,
				JobID:      job.ID,
			})
			if err != nil {
				return fmt.Errorf("publish job.ready for %s: %w", inst.ID, err)
			}
		}

		telemetry.WithRunID(d.logger, state.RunID().String()).Info("job dispatched",
			"job", job.ID,
			"instances", len(state.JobInstances(job.ID)),
		)
	}

	return nil
}

// handleJobCompleted обрабатывает сообщение job.completed.
func (d *Dispatcher) handleJobCompleted(ctx context.Context, msg *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.JobCompletedPayload](&msg.Message)
	if err != nil {
		d.logger.Error("failed to parse job.completed payload", "error", err)
		return err
	}

	logger := telemetry.WithInstanceID(
		telemetry.WithRunID(d.logger, payload.RunID.String()),
		payload.InstanceID.String(),
	)
	logger.Info("received job.completed",
		"job", payload.JobID,
		"status", payload.Status,
	)

	state := d.getActiveRun(payload.RunID)
	if state == nil {
		state, err = d.restoreRunState(ctx, payload.RunID)
		if err != nil {
			return fmt.Errorf("restore run state: %w", err)
		}
		if state == nil {
			// Run уже финализирован, событие устарело
			logger.Debug("run not active, ignoring completion")
			return nil
		}
	}

	// Статус instance читаем из БД: runner записал его до публикации
	inst, err := d.instanceRepo.GetByID(ctx, payload.InstanceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrInstanceNotFound, payload.InstanceID)
		}
		return fmt.Errorf("get instance: %w", err)
	}

	completion := state.ApplyCompletion(inst)

	if completion.FailFastTripped {
		logger.Warn("fail-fast tripped, skipping pending instances",
			"job", payload.JobID,
		)
		skipped, err := d.instanceRepo.MarkSkippedPending(ctx, payload.RunID, skipReasonFailFast)
		if err != nil {
			return fmt.Errorf("skip pending instances: %w", err)
		}
		state.MarkLocalSkipped(skipReasonFailFast)
		logger.Info("pending instances skipped", "count", skipped)
	}

	if completion.JobFinished {
		for _, skippedInst := range state.SkipBlockedJobs(skipReasonNeedsFailed) {
			if err := d.instanceRepo.Update(ctx, skippedInst); err != nil {
				return fmt.Errorf("mark instance skipped: %w", err)
			}
		}

		if err := d.dispatchReadyJobs(ctx, state); err != nil {
			return err
		}
	}

	if state.IsComplete() {
		return d.completeRun(ctx, state)
	}

	return nil
}

// restoreRunState восстанавливает состояние run из БД после рестарта
// dispatcher'а. Возвращает nil, nil для уже финализированных runs.
func (d *Dispatcher) restoreRunState(ctx context.Context, runID uuid.UUID) (*RunState, error) {
	run, err := d.runRepo.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, fmt.Errorf("get run: %w", err)
	}

	if run.IsFinished() {
		return nil, nil
	}

	pipeline := d.registry.Get(run.Pipeline)
	if pipeline == nil {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, run.Pipeline)
	}

	state := NewRunState(run, pipeline)
	if err := state.Initialize(); err != nil {
		return nil, err
	}

	instances, err := d.instanceRepo.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	state.RestoreFromInstances(instances)

	if err := d.addActiveRun(state); err != nil {
		// Другая горутина успела восстановить — используем её state
		return d.getActiveRun(runID), nil
	}

	d.logger.Info("restored run state",
		"run_id", runID,
		"pipeline", run.Pipeline,
		"instances", len(instances),
	)

	return state, nil
}

// completeRun финализирует run по итогам всех instances.
func (d *Dispatcher) completeRun(ctx context.Context, state *RunState) error {
	run := state.Run
	logger := telemetry.WithRunID(d.logger, run.ID.String())

	if state.HasFailed() {
		failed := state.FailedJobs()
		sort.Strings(failed)
		run.MarkFailed(fmt.Sprintf("jobs failed: %v", failed))
	} else {
		run.MarkSucceeded()
	}

	if err := d.runRepo.Update(ctx, run); err != nil {
		return fmt.Errorf("finalize run: %w", err)
	}

	d.removeActiveRun(run.ID)
	telemetry.RunsFinished.WithLabelValues(string(run.Status)).Inc()

	stats := state.Stats()
	logger.Info("run finished",
		"status", run.Status,
		"duration", run.Duration(),
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
	)

	return nil
}

// failRun помечает run как FAILED до начала выполнения (ошибка
// валидации или раскрытия).
func (d *Dispatcher) failRun(ctx context.Context, run *domain.Run, reason string) error {
	run.MarkFailed(reason)
	if err := d.runRepo.Update(ctx, run); err != nil {
		return fmt.Errorf("mark run failed: %w", err)
	}

	telemetry.RunsStarted.Inc()
	telemetry.RunsFinished.WithLabelValues(string(run.Status)).Inc()

	telemetry.WithRunID(d.logger, run.ID.String()).Error("run failed before execution",
		"pipeline", run.Pipeline,
		"reason", reason,
	)
	return nil
}
