// Package executor выполняет job instances: шаги по порядку, guard'ы,
// рендеринг команд, таймауты, side channel outputs и кеш рабочей
// директории.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shaiso/Conveyor/internal/cache"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Config — зависимости Executor.
type Config struct {
	// Runner выполняет отрендеренные команды. Обязателен.
	Runner CommandRunner

	// Cache — резолвер кеша. nil — кеширование выключено.
	Cache *cache.Resolver

	// Logger — логгер. nil — slog.Default().
	Logger *slog.Logger
}

// Executor — машина состояний одного job instance:
// Pending → Running → {Succeeded, Failed}.
type Executor struct {
	runner CommandRunner
	cache  *cache.Resolver
	logger *slog.Logger
}

// New создаёт Executor.
func New(cfg Config) (*Executor, error) {
	if cfg.Runner == nil {
		return nil, ErrNoRunner
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Executor{
		runner: cfg.Runner,
		cache:  cfg.Cache,
		logger: logger,
	}, nil
}

// Request — входные данные выполнения одного instance.
type Request struct {
	// Instance — выполняемый instance. Мутируется по ходу выполнения.
	Instance *domain.JobInstance

	// Job — определение job, породившего instance.
	Job *domain.JobDef

	// Env — объединённое окружение pipeline и run.
	Env map[string]string

	// Secrets — секреты, доступные через ${{ secrets.* }}.
	Secrets map[string]string

	// Workdir — рабочая директория instance.
	Workdir string
}

// Execute выполняет instance от Pending до терминального статуса.
//
// Падения шагов не возвращаются как error — они фиксируются в
// instance (статус, StepOutcome.Error). Error возвращается только
// при некорректном запросе.
//
// Порядок: restore кеша (при hit) → шаги по порядку декларации →
// save кеша (при miss и успехе). Падение шага без continue_on_error
// помечает оставшиеся шаги Skipped и валит instance.
func (e *Executor) Execute(ctx context.Context, req Request) error {
	inst, job := req.Instance, req.Job
	if inst == nil || job == nil {
		return fmt.Errorf("executor: instance and job are required")
	}

	logger := e.logger.With(
		"run_id", inst.RunID,
		"instance", inst.Name,
	)

	inst.MarkRunning()
	logger.Info("instance started", "steps", len(job.Steps))

	ectx := engine.NewContext(mergeEnv(req.Env, job.Env), req.Secrets, inst.Matrix, job.Steps)
	ectx.Workdir = req.Workdir

	cacheKey, cacheMiss, err := e.restoreCache(ctx, job, inst, ectx, req.Workdir, logger)
	if err != nil {
		inst.MarkFailed(fmt.Sprintf("resolve cache key: %v", err))
		logger.Warn("instance failed", "error", inst.Error)
		return nil
	}

	failure := ""
	for i := range job.Steps {
		step := &job.Steps[i]

		if failure != "" {
			// Job прерван: оставшиеся шаги не запускаются.
			inst.Steps = append(inst.Steps, skippedOutcome(step, "earlier step failed"))
			ectx.AddStepResult(step.ID, nil, "skipped")
			continue
		}

		outcome := e.runStep(ctx, step, job, ectx, req.Workdir)
		inst.Steps = append(inst.Steps, outcome)
		telemetry.StepsExecuted.WithLabelValues(string(outcome.Status)).Inc()

		switch outcome.Status {
		case domain.StepStatusSkipped:
			ectx.AddStepResult(step.ID, nil, "skipped")
			logger.Debug("step skipped", "step", outcome.Name)

		case domain.StepStatusFailed:
			ectx.AddStepResult(step.ID, outcome.Outputs, "failure")
			logger.Warn("step failed",
				"step", outcome.Name,
				"exit_code", outcome.ExitCode,
				"error", outcome.Error,
			)
			if !step.ContinueOnError {
				ectx.MarkFailed()
				failure = fmt.Sprintf("step %q: %s", outcome.Name, outcome.Error)
			}

		default:
			ectx.AddStepResult(step.ID, outcome.Outputs, "success")
			logger.Debug("step succeeded",
				"step", outcome.Name,
				"duration_ms", outcome.DurationMs,
			)
		}
	}

	if failure != "" {
		inst.MarkFailed(failure)
		telemetry.InstanceDuration.Observe(inst.Duration().Seconds())
		logger.Warn("instance failed", "error", failure)
		return nil
	}

	inst.MarkSucceeded()
	telemetry.InstanceDuration.Observe(inst.Duration().Seconds())
	logger.Info("instance succeeded", "duration", inst.Duration())

	if cacheMiss {
		if err := e.cache.Save(ctx, cacheKey, req.Workdir, job.Cache.Paths); err != nil {
			logger.Warn("cache save failed", "key", cacheKey, "error", err)
		}
	}

	return nil
}

// restoreCache резолвит ключ кеша и восстанавливает blob при hit.
//
// Возвращает отрендеренный ключ и признак miss (save нужен после
// завершения). Ошибка только при невалидном шаблоне ключа — она
// фатальна для instance. Неудачное восстановление при hit
// приравнивается к miss.
func (e *Executor) restoreCache(ctx context.Context, job *domain.JobDef, inst *domain.JobInstance, ectx *engine.Context, workdir string, logger *slog.Logger) (string, bool, error) {
	if job.Cache == nil || e.cache == nil {
		return "", false, nil
	}

	lookup, err := e.cache.Resolve(ctx, job.Cache.Key, ectx)
	if err != nil {
		return "", false, err
	}

	hit := lookup.Hit
	if hit {
		restored, err := e.cache.Restore(ctx, lookup.Key, workdir)
		if err != nil {
			return "", false, err
		}
		hit = restored
	}

	inst.CacheHit = &hit
	if hit {
		telemetry.CacheLookups.WithLabelValues("hit").Inc()
		logger.Info("cache restored", "key", lookup.Key)
	} else {
		telemetry.CacheLookups.WithLabelValues("miss").Inc()
		logger.Debug("cache miss", "key", lookup.Key)
	}

	return lookup.Key, !hit, nil
}

// runStep выполняет один шаг: guard, рендеринг, команда, outputs.
func (e *Executor) runStep(ctx context.Context, step *domain.StepDef, job *domain.JobDef, ectx *engine.Context, workdir string) (outcome domain.StepOutcome) {
	started := time.Now()
	outcome = domain.StepOutcome{
		StepID:   step.ID,
		Name:     step.DisplayName(),
		ExitCode: -1,
	}
	defer func() {
		outcome.DurationMs = time.Since(started).Milliseconds()
	}()

	run, err := engine.EvalCondition(step.If, ectx)
	if err != nil {
		outcome.Status = domain.StepStatusFailed
		outcome.Error = fmt.Sprintf("evaluate guard: %v", err)
		return outcome
	}
	if !run {
		outcome.Status = domain.StepStatusSkipped
		return outcome
	}

	command, err := engine.Render(step.Run, ectx)
	if err != nil {
		outcome.Status = domain.StepStatusFailed
		outcome.Error = fmt.Sprintf("render command: %v", err)
		return outcome
	}

	env, err := e.stepEnv(step, ectx)
	if err != nil {
		outcome.Status = domain.StepStatusFailed
		outcome.Error = fmt.Sprintf("render environment: %v", err)
		return outcome
	}

	timeout := step.TimeoutSec
	if timeout == 0 {
		timeout = job.TimeoutSec
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
		defer cancel()
	}

	result, err := e.runner.Run(runCtx, CommandSpec{
		Command: command,
		Dir:     workdir,
		Env:     env,
	})
	if err != nil {
		outcome.Status = domain.StepStatusFailed
		outcome.Error = fmt.Sprintf("run command: %v", err)
		return outcome
	}

	outcome.ExitCode = result.ExitCode
	outcome.Outputs = result.Outputs

	if result.ExitCode != 0 {
		outcome.Status = domain.StepStatusFailed
		if runCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			outcome.Error = fmt.Sprintf("%v after %ds", ErrStepTimeout, timeout)
		} else {
			outcome.Error = fmt.Sprintf("%v: exit code %d", ErrCommandFailed, result.ExitCode)
		}
		return outcome
	}

	outcome.Status = domain.StepStatusSucceeded
	return outcome
}

// stepEnv собирает окружение команды шага: объединённое окружение
// job + env шага + параметры with как INPUT_<KEY>.
func (e *Executor) stepEnv(step *domain.StepDef, ectx *engine.Context) (map[string]string, error) {
	stepEnv, err := engine.RenderMap(step.Env, ectx)
	if err != nil {
		return nil, err
	}
	with, err := engine.RenderMap(step.With, ectx)
	if err != nil {
		return nil, err
	}

	env := make(map[string]string, len(ectx.Env)+len(stepEnv)+len(with))
	for k, v := range ectx.Env {
		env[k] = v
	}
	for k, v := range stepEnv {
		env[k] = v
	}
	for k, v := range with {
		env["INPUT_"+strings.ToUpper(k)] = v
	}
	return env, nil
}

// skippedOutcome — результат шага, не запускавшегося из-за падения
// раннего шага.
func skippedOutcome(step *domain.StepDef, reason string) domain.StepOutcome {
	return domain.StepOutcome{
		StepID:   step.ID,
		Name:     step.DisplayName(),
		Status:   domain.StepStatusSkipped,
		ExitCode: -1,
		Error:    reason,
	}
}

// mergeEnv объединяет слои окружения; поздние перекрывают ранние.
func mergeEnv(layers ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}
