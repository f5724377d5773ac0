package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/executor"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/repo"
)

// handleJobReady обрабатывает событие job.ready.
func (r *Runner) handleJobReady(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.JobReadyPayload](&delivery.Message)
	if err != nil {
		r.logger.Error("failed to parse job.ready payload", "error", err)
		return err
	}

	r.logger.Debug("received job.ready",
		"instance_id", payload.InstanceID,
		"run_id", payload.RunID,
		"job", payload.JobID,
	)

	if err := r.processInstance(ctx, payload); err != nil {
		// Ожидаемые ситуации — ack без повторной доставки
		if errors.Is(err, ErrInstanceNotFound) || errors.Is(err, ErrInstanceNotPending) {
			r.logger.Debug("instance not processed",
				"instance_id", payload.InstanceID,
				"reason", err,
			)
			return nil
		}
		r.logger.Error("failed to process instance",
			"instance_id", payload.InstanceID,
			"error", err,
		)
		return err
	}

	return nil
}

// processInstance загружает instance из БД, выполняет и публикует
// результат.
func (r *Runner) processInstance(ctx context.Context, payload mq.JobReadyPayload) error {
	inst, err := r.instanceRepo.GetByID(ctx, payload.InstanceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrInstanceNotFound, payload.InstanceID)
		}
		return fmt.Errorf("get instance: %w", err)
	}

	// Распределённый fail-fast: dispatcher мог пометить instance
	// SKIPPED между публикацией job.ready и доставкой
	if inst.Status != domain.InstanceStatusPending {
		return fmt.Errorf("%w: status is %s", ErrInstanceNotPending, inst.Status)
	}

	pipeline := r.registry.Get(payload.Pipeline)
	if pipeline == nil {
		return r.failInstance(ctx, inst,
			fmt.Sprintf("pipeline not found: %s", payload.Pipeline))
	}

	job := pipeline.Job(payload.JobID)
	if job == nil {
		return r.failInstance(ctx, inst,
			fmt.Sprintf("job not found: %s", payload.JobID))
	}

	runEnv, err := r.buildRunEnv(ctx, pipeline, payload.RunID)
	if err != nil {
		return err
	}

	workdir := filepath.Join(r.baseDir, payload.RunID.String(), inst.ID.String())
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return r.failInstance(ctx, inst, fmt.Sprintf("create workdir: %v", err))
	}

	// Executor мутирует instance: статусы, step outcomes, cache_hit
	if err := r.executor.Execute(ctx, executor.Request{
		Instance: inst,
		Job:      job,
		Env:      runEnv,
		Secrets:  r.secrets,
		Workdir:  workdir,
	}); err != nil {
		inst.MarkFailed(err.Error())
	}

	if err := r.instanceRepo.Update(ctx, inst); err != nil {
		return fmt.Errorf("update instance: %w", err)
	}

	r.logger.Info("instance finished",
		"instance_id", inst.ID,
		"run_id", inst.RunID,
		"job", inst.JobID,
		"status", inst.Status,
		"duration", inst.Duration(),
	)

	return r.publishCompletion(ctx, inst)
}

// buildRunEnv собирает окружение run: env pipeline, перекрытый env
// run'а, плюс служебные переменные.
func (r *Runner) buildRunEnv(ctx context.Context, pipeline *domain.Pipeline, runID uuid.UUID) (map[string]string, error) {
	run, err := r.runRepo.GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	env := make(map[string]string, len(pipeline.Env)+len(run.Env)+2)
	for k, v := range pipeline.Env {
		env[k] = v
	}
	for k, v := range run.Env {
		env[k] = v
	}
	env["CONVEYOR_RUN_ID"] = runID.String()
	env["CONVEYOR_PIPELINE"] = pipeline.Name

	return env, nil
}

// failInstance помечает instance как FAILED до выполнения шагов.
func (r *Runner) failInstance(ctx context.Context, inst *domain.JobInstance, reason string) error {
	inst.MarkRunning()
	inst.MarkFailed(reason)

	if err := r.instanceRepo.Update(ctx, inst); err != nil {
		return fmt.Errorf("update instance: %w", err)
	}

	r.logger.Error("instance failed before execution",
		"instance_id", inst.ID,
		"job", inst.JobID,
		"reason", reason,
	)

	return r.publishCompletion(ctx, inst)
}

// publishCompletion публикует событие job.completed.
func (r *Runner) publishCompletion(ctx context.Context, inst *domain.JobInstance) error {
	if r.publisher == nil {
		r.logger.Warn("publisher not available, skipping job.completed publish",
			"instance_id", inst.ID,
		)
		return nil
	}

	payload := mq.JobCompletedPayload{
		InstanceID: inst.ID,
		RunID:      inst.RunID,
		JobID:      inst.JobID,
		Status:     string(inst.Status),
		Error:      inst.Error,
	}

	if err := r.publisher.PublishJobCompleted(ctx, payload); err != nil {
		// Instance уже обновлён в БД; не возвращаем ошибку, чтобы
		// не выполнять шаги повторно из-за redelivery
		r.logger.Warn("failed to publish job.completed",
			"instance_id", inst.ID,
			"error", err,
		)
	}

	return nil
}
