package dispatcher

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// RunState — состояние выполнения одного run в памяти dispatcher'а.
//
// Создаётся при начале обработки run и удаляется при финализации.
// Источник истины — БД; RunState кэширует граф jobs и счётчики,
// чтобы не перечитывать instances на каждое событие.
type RunState struct {
	// Run — данные run из БД.
	Run *domain.Run

	// Pipeline — определение pipeline из registry.
	Pipeline *domain.Pipeline

	// Graph — граф jobs по needs.
	Graph *engine.JobGraph

	// instances — все instances run'а (instanceID → instance).
	instances map[uuid.UUID]*domain.JobInstance

	// byJob — instances каждого job в порядке матрицы.
	byJob map[string][]*domain.JobInstance

	// remaining — незавершённые instances каждого job.
	remaining map[string]int

	// accounted — instances, уже учтённые как завершённые.
	// Защита от повторной доставки job.completed.
	accounted map[uuid.UUID]bool

	// doneJobs — jobs, завершившиеся полностью успешно.
	doneJobs map[string]bool

	// runningJobs — jobs с розданными instances.
	runningJobs map[string]bool

	// failedJobs — jobs с упавшими instances.
	failedJobs map[string]bool

	// stopped — сработал fail-fast: новые instances не раздаются.
	stopped bool

	mu sync.RWMutex
}

// NewRunState создаёт RunState для run и его pipeline.
func NewRunState(run *domain.Run, pipeline *domain.Pipeline) *RunState {
	return &RunState{
		Run:         run,
		Pipeline:    pipeline,
		instances:   make(map[uuid.UUID]*domain.JobInstance),
		byJob:       make(map[string][]*domain.JobInstance),
		remaining:   make(map[string]int),
		accounted:   make(map[uuid.UUID]bool),
		doneJobs:    make(map[string]bool),
		runningJobs: make(map[string]bool),
		failedJobs:  make(map[string]bool),
	}
}

// Initialize валидирует pipeline, строит граф jobs и раскрывает
// матрицы в instances.
func (s *RunState) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := engine.Validate(s.Pipeline); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPipeline, err)
	}

	graph, err := engine.BuildJobGraph(s.Pipeline)
	if err != nil {
		return fmt.Errorf("build job graph: %w", err)
	}
	s.Graph = graph

	for i := range s.Pipeline.Jobs {
		job := &s.Pipeline.Jobs[i]
		matrices, err := engine.ExpandMatrix(job.Matrix)
		if err != nil {
			return fmt.Errorf("expand matrix for %s: %w", job.ID, err)
		}
		for _, m := range matrices {
			inst := domain.NewJobInstance(s.Run.ID, job, m)
			s.instances[inst.ID] = inst
			s.byJob[job.ID] = append(s.byJob[job.ID], inst)
		}
		s.remaining[job.ID] = len(s.byJob[job.ID])
	}

	return nil
}

// Instances возвращает все instances в порядке декларации jobs.
func (s *RunState) Instances() []*domain.JobInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.JobInstance, 0, len(s.instances))
	for i := range s.Pipeline.Jobs {
		out = append(out, s.byJob[s.Pipeline.Jobs[i].ID]...)
	}
	return out
}

// Instance возвращает instance по ID. nil, если не найден.
func (s *RunState) Instance(id uuid.UUID) *domain.JobInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.instances[id]
}

// ReadyJobs возвращает jobs, готовые к раздаче, и помечает их
// розданными. При сработавшем fail-fast ничего не раздаётся.
func (s *RunState) ReadyJobs() []*domain.JobDef {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}

	ready := s.Graph.ReadyJobs(s.doneJobs, s.runningJobs)
	for _, job := range ready {
		s.runningJobs[job.ID] = true
	}
	return ready
}

// JobInstances возвращает instances job'а.
func (s *RunState) JobInstances(jobID string) []*domain.JobInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byJob[jobID]
}

// Completion — результат учёта завершения instance.
type Completion struct {
	// JobFinished — все instances job завершены.
	JobFinished bool

	// FailFastTripped — это завершение впервые включило fail-fast.
	FailFastTripped bool
}

// ApplyCompletion учитывает терминальный статус instance.
func (s *RunState) ApplyCompletion(inst *domain.JobInstance) Completion {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobID := inst.JobID
	if _, ok := s.instances[inst.ID]; ok && !s.accounted[inst.ID] && inst.IsFinished() {
		s.accounted[inst.ID] = true
		s.instances[inst.ID] = inst
		for i, existing := range s.byJob[jobID] {
			if existing.ID == inst.ID {
				s.byJob[jobID][i] = inst
				break
			}
		}
		s.remaining[jobID]--
	}

	var c Completion

	if inst.Status == domain.InstanceStatusFailed {
		s.failedJobs[jobID] = true

		job := s.Pipeline.Job(jobID)
		if job != nil && job.IsFailFast() && !s.stopped {
			s.stopped = true
			c.FailFastTripped = true
		}
	}

	if s.remaining[jobID] <= 0 {
		delete(s.runningJobs, jobID)
		if !s.failedJobs[jobID] && !s.stopped {
			s.doneJobs[jobID] = true
		}
		c.JobFinished = true
	}

	return c
}

// MarkLocalSkipped помечает в памяти все PENDING instances как
// SKIPPED (зеркало MarkSkippedPending в БД).
func (s *RunState) MarkLocalSkipped(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inst := range s.instances {
		if inst.Status == domain.InstanceStatusPending {
			inst.MarkSkipped(reason)
			s.accounted[inst.ID] = true
			s.remaining[inst.JobID]--
		}
	}
}

// SkipBlockedJobs помечает instances jobs, чьи needs (в том числе
// транзитивно) завершились неуспешно, как SKIPPED. Возвращает
// пропущенные instances для синхронизации с БД.
func (s *RunState) SkipBlockedJobs(reason string) []*domain.JobInstance {
	s.mu.Lock()
	defer s.mu.Unlock()

	blocked := make(map[string]bool)
	for _, node := range s.Graph.Order {
		for _, dep := range node.Needs {
			if s.failedJobs[dep.ID] || blocked[dep.ID] {
				blocked[node.ID] = true
				break
			}
		}
	}

	var skipped []*domain.JobInstance
	for jobID := range blocked {
		for _, inst := range s.byJob[jobID] {
			if inst.Status != domain.InstanceStatusPending {
				continue
			}
			inst.MarkSkipped(reason)
			s.accounted[inst.ID] = true
			s.remaining[jobID]--
			skipped = append(skipped, inst)
		}
	}
	return skipped
}

// IsComplete — все instances в терминальном статусе.
func (s *RunState) IsComplete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inst := range s.instances {
		if !inst.IsFinished() {
			return false
		}
	}
	return true
}

// HasFailed — есть упавшие instances.
func (s *RunState) HasFailed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.failedJobs) > 0
}

// FailedJobs возвращает jobs с упавшими instances.
func (s *RunState) FailedJobs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]string, 0, len(s.failedJobs))
	for jobID := range s.failedJobs {
		jobs = append(jobs, jobID)
	}
	return jobs
}

// Stopped — сработал ли fail-fast.
func (s *RunState) Stopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// RunID возвращает ID run.
func (s *RunState) RunID() uuid.UUID {
	return s.Run.ID
}

// Stats возвращает статистику выполнения.
func (s *RunState) Stats() RunStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := RunStats{TotalInstances: len(s.instances)}
	for _, inst := range s.instances {
		switch inst.Status {
		case domain.InstanceStatusSucceeded:
			stats.Succeeded++
		case domain.InstanceStatusFailed:
			stats.Failed++
		case domain.InstanceStatusSkipped:
			stats.Skipped++
		case domain.InstanceStatusRunning:
			stats.Running++
		default:
			stats.Pending++
		}
	}
	return stats
}

// RunStats — статистика выполнения run.
type RunStats struct {
	TotalInstances int
	Pending        int
	Running        int
	Succeeded      int
	Failed         int
	Skipped        int
}

// RestoreFromInstances восстанавливает состояние из БД (после
// рестарта dispatcher'а): заменяет раскрытые instances сохранёнными.
func (s *RunState) RestoreFromInstances(instances []domain.JobInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.instances = make(map[uuid.UUID]*domain.JobInstance, len(instances))
	s.byJob = make(map[string][]*domain.JobInstance)
	s.remaining = make(map[string]int)
	s.accounted = make(map[uuid.UUID]bool, len(instances))

	for i := range instances {
		inst := &instances[i]
		s.instances[inst.ID] = inst
		s.byJob[inst.JobID] = append(s.byJob[inst.JobID], inst)
		if inst.IsFinished() {
			s.accounted[inst.ID] = true
		} else {
			s.remaining[inst.JobID]++
		}
		if inst.Status == domain.InstanceStatusFailed {
			s.failedJobs[inst.JobID] = true
		}
	}

	for jobID, insts := range s.byJob {
		unfinished := s.remaining[jobID]
		if unfinished == 0 && !s.failedJobs[jobID] {
			s.doneJobs[jobID] = true
			continue
		}
		// Частично выполненный job считается розданным: instances
		// уже опубликованы либо будут пропущены при fail-fast.
		for _, inst := range insts {
			if inst.Status != domain.InstanceStatusPending {
				s.runningJobs[jobID] = true
				break
			}
		}
	}
}
