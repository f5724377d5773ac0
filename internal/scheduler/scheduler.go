// Package scheduler выполняет pipeline run локально: раскрывает jobs
// в instances (матрица × DAG needs) и прогоняет их через ограниченный
// пул worker'ов.
//
// Семантика fail-fast: первое падение instance job'а с fail_fast=true
// помечает все ещё не начатые instances как SKIPPED; уже выполняющиеся
// instances дорабатывают до конца (preemption нет). Instances, чьи
// needs завершились неуспешно, тоже SKIPPED. В отчёте присутствует
// каждый instance — ничего не отбрасывается молча.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/executor"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Причины пропуска instances.
const (
	skipReasonFailFast    = "fail-fast: earlier instance failed"
	skipReasonNeedsFailed = "needs failed"
)

// Config — зависимости Scheduler.
type Config struct {
	// Executor выполняет отдельные instances. Обязателен.
	Executor *executor.Executor

	// Workers — размер пула. 0 — GOMAXPROCS.
	Workers int

	// BaseDir — база рабочих директорий instances.
	// Пустая — системная временная директория.
	BaseDir string

	// Secrets — секреты, доступные шагам через ${{ secrets.* }}.
	Secrets map[string]string

	// Logger — логгер. nil — slog.Default().
	Logger *slog.Logger
}

// Scheduler раскрывает pipeline в instances и выполняет их.
type Scheduler struct {
	executor *executor.Executor
	workers  int
	baseDir  string
	secrets  map[string]string
	logger   *slog.Logger
}

// New создаёт Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Executor == nil {
		return nil, fmt.Errorf("scheduler: executor is required")
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	baseDir := cfg.BaseDir
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "conveyor")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		executor: cfg.Executor,
		workers:  workers,
		baseDir:  baseDir,
		secrets:  cfg.Secrets,
		logger:   logger,
	}, nil
}

// Result — отчёт о выполнении run: каждый instance с упорядоченными
// результатами шагов.
type Result struct {
	// Run — выполненный run в терминальном статусе.
	Run *domain.Run

	// Instances — все instances в порядке декларации jobs.
	Instances []*domain.JobInstance
}

// Failed возвращает true, если хотя бы один instance упал.
func (r *Result) Failed() bool {
	for _, inst := range r.Instances {
		if inst.Status == domain.InstanceStatusFailed {
			return true
		}
	}
	return false
}

// task — единица работы пула: instance и породивший его job.
type task struct {
	inst *domain.JobInstance
	job  *domain.JobDef
}

// Run выполняет pipeline от начала до терминального статуса run.
//
// env — переопределения окружения уровня запуска (поверх env
// pipeline). Ошибка возвращается только для невалидного pipeline;
// падения instances отражаются в Result.
func (s *Scheduler) Run(ctx context.Context, p *domain.Pipeline, trigger string, env map[string]string) (*Result, error) {
	if err := engine.Validate(p); err != nil {
		return nil, err
	}
	graph, err := engine.BuildJobGraph(p)
	if err != nil {
		return nil, err
	}

	run := domain.NewRun(p.Name, trigger, env)

	// Раскрытие матриц: каждый job → список instances.
	byJob := make(map[string][]*task, len(p.Jobs))
	all := make([]*task, 0, len(p.Jobs))
	for i := range p.Jobs {
		job := &p.Jobs[i]
		matrices, err := engine.ExpandMatrix(job.Matrix)
		if err != nil {
			return nil, err
		}
		for _, m := range matrices {
			t := &task{inst: domain.NewJobInstance(run.ID, job, m), job: job}
			byJob[job.ID] = append(byJob[job.ID], t)
			all = append(all, t)
		}
	}

	run.MarkRunning()
	telemetry.RunsStarted.Inc()
	s.logger.Info("run started",
		"run_id", run.ID,
		"pipeline", p.Name,
		"instances", len(all),
		"workers", s.workers,
	)

	runEnv := mergeEnv(p.Env, env)
	runEnv["CONVEYOR_RUN_ID"] = run.ID.String()
	runEnv["CONVEYOR_PIPELINE"] = p.Name

	stopped := s.dispatch(ctx, run, graph, byJob, runEnv)

	// Всё, что так и не стартовало, помечается SKIPPED: либо из-за
	// fail-fast, либо из-за неуспешных needs.
	failed := 0
	for _, t := range all {
		if t.inst.Status == domain.InstanceStatusPending {
			if stopped {
				t.inst.MarkSkipped(skipReasonFailFast)
			} else {
				t.inst.MarkSkipped(skipReasonNeedsFailed)
			}
		}
		if t.inst.Status == domain.InstanceStatusFailed {
			failed++
		}
	}

	if failed > 0 {
		run.MarkFailed(fmt.Sprintf("%d instance(s) failed", failed))
	} else {
		run.MarkSucceeded()
	}
	telemetry.RunsFinished.WithLabelValues(string(run.Status)).Inc()
	s.logger.Info("run finished",
		"run_id", run.ID,
		"status", run.Status,
		"duration", run.Duration(),
	)

	instances := make([]*domain.JobInstance, len(all))
	for i, t := range all {
		instances[i] = t.inst
	}
	return &Result{Run: run, Instances: instances}, nil
}

// dispatch гонит instances через пул worker'ов, соблюдая DAG needs
// и fail-fast. Возвращает true, если сработал fail-fast.
func (s *Scheduler) dispatch(ctx context.Context, run *domain.Run, graph *engine.JobGraph, byJob map[string][]*task, runEnv map[string]string) bool {
	tasks := make(chan *task)
	results := make(chan *task)

	var wg sync.WaitGroup
	wg.Add(s.workers)
	for i := 0; i < s.workers; i++ {
		go func() {
			defer wg.Done()
			for t := range tasks {
				s.runInstance(ctx, run, t, runEnv)
				results <- t
			}
		}()
	}

	done := make(map[string]bool)      // jobs, завершившиеся полностью успешно
	running := make(map[string]bool)   // jobs с instances в очереди или в полёте
	remaining := make(map[string]int)  // сколько instances job ещё не завершено
	jobFailed := make(map[string]bool) // в job был упавший instance

	var queue []*task
	stopped := false // fail-fast сработал: новые instances не стартуют

	promote := func() {
		for _, job := range graph.ReadyJobs(done, running) {
			ts := byJob[job.ID]
			running[job.ID] = true
			remaining[job.ID] = len(ts)
			if stopped {
				for _, t := range ts {
					t.inst.MarkSkipped(skipReasonFailFast)
				}
				remaining[job.ID] = 0
				delete(running, job.ID)
				continue
			}
			queue = append(queue, ts...)
		}
	}
	promote()

	inFlight := 0
	for inFlight > 0 || len(queue) > 0 {
		var sendCh chan *task
		var next *task
		if len(queue) > 0 {
			sendCh = tasks
			next = queue[0]
		}

		select {
		case sendCh <- next:
			queue = queue[1:]
			inFlight++

		case t := <-results:
			inFlight--
			jobID := t.job.ID
			remaining[jobID]--

			if t.inst.Status == domain.InstanceStatusFailed {
				jobFailed[jobID] = true

				if t.job.IsFailFast() && !stopped {
					stopped = true
					// Не начатые instances пропускаются; уже
					// выполняющиеся дорабатывают.
					for _, q := range queue {
						q.inst.MarkSkipped(skipReasonFailFast)
						remaining[q.job.ID]--
					}
					queue = nil
				}
			}

			if remaining[jobID] == 0 {
				delete(running, jobID)
				if !jobFailed[jobID] && !stopped {
					done[jobID] = true
				}
				promote()
			}
		}
	}

	close(tasks)
	wg.Wait()

	return stopped
}

// runInstance подготавливает рабочую директорию и выполняет instance.
func (s *Scheduler) runInstance(ctx context.Context, run *domain.Run, t *task, runEnv map[string]string) {
	workdir := filepath.Join(s.baseDir, run.ID.String(), t.inst.ID.String())
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		t.inst.MarkFailed(fmt.Sprintf("create workdir: %v", err))
		return
	}

	err := s.executor.Execute(ctx, executor.Request{
		Instance: t.inst,
		Job:      t.job,
		Env:      runEnv,
		Secrets:  s.secrets,
		Workdir:  workdir,
	})
	if err != nil {
		t.inst.MarkFailed(err.Error())
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
