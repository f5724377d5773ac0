package dispatcher

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// testPipeline — pipeline из трёх jobs: build → test (матрица 2×1) → publish.
func testPipeline() *domain.Pipeline {
	return &domain.Pipeline{
		Name: "release",
		Jobs: []domain.JobDef{
			{
				ID:    "build",
				Steps: []domain.StepDef{{Run: "make build"}},
			},
			{
				ID:    "test",
				Needs: []string{"build"},
				Matrix: &domain.MatrixSpec{
					Axes: []domain.MatrixAxis{
						{Name: "go", Values: []string{"1.21", "1.22"}},
					},
				},
				Steps: []domain.StepDef{{Run: "make test"}},
			},
			{
				ID:    "publish",
				Needs: []string{"test"},
				Steps: []domain.StepDef{{Run: "make publish"}},
			},
		},
	}
}

func initializedState(t *testing.T, p *domain.Pipeline) *RunState {
	t.Helper()
	run := domain.NewRun(p.Name, domain.TriggerManual, nil)
	state := NewRunState(run, p)
	if err := state.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return state
}

// finishJob переводит все instances job'а в указанный статус.
func finishJob(state *RunState, jobID string, status domain.InstanceStatus) []Completion {
	var completions []Completion
	for _, inst := range state.JobInstances(jobID) {
		inst.MarkRunning()
		switch status {
		case domain.InstanceStatusSucceeded:
			inst.MarkSucceeded()
		case domain.InstanceStatusFailed:
			inst.MarkFailed("command failed")
		}
		completions = append(completions, state.ApplyCompletion(inst))
	}
	return completions
}

// --- RunState Tests ---

func TestRunState_Initialize(t *testing.T) {
	state := initializedState(t, testPipeline())

	instances := state.Instances()
	if len(instances) != 4 {
		t.Fatalf("expected 4 instances (build + 2 test + publish), got %d", len(instances))
	}

	// Порядок декларации: build, test×2, publish
	if instances[0].JobID != "build" {
		t.Errorf("expected build first, got %s", instances[0].JobID)
	}
	if instances[1].JobID != "test" || instances[2].JobID != "test" {
		t.Error("test instances should follow build")
	}
	if instances[3].JobID != "publish" {
		t.Errorf("expected publish last, got %s", instances[3].JobID)
	}

	if state.Graph == nil {
		t.Error("graph should be built")
	}
}

func TestRunState_Initialize_InvalidPipeline(t *testing.T) {
	p := &domain.Pipeline{
		Name: "broken",
		Jobs: []domain.JobDef{
			{ID: "a", Needs: []string{"missing"}, Steps: []domain.StepDef{{Run: "true"}}},
		},
	}
	run := domain.NewRun(p.Name, domain.TriggerManual, nil)

	if err := NewRunState(run, p).Initialize(); err == nil {
		t.Error("expected error for unknown needs")
	}
}

func TestRunState_ReadyJobs(t *testing.T) {
	state := initializedState(t, testPipeline())

	ready := state.ReadyJobs()
	if len(ready) != 1 || ready[0].ID != "build" {
		t.Fatalf("expected only build ready, got %v", ready)
	}

	// Повторный вызов не раздаёт build ещё раз
	if again := state.ReadyJobs(); len(again) != 0 {
		t.Errorf("expected no new ready jobs, got %d", len(again))
	}

	finishJob(state, "build", domain.InstanceStatusSucceeded)

	ready = state.ReadyJobs()
	if len(ready) != 1 || ready[0].ID != "test" {
		t.Fatalf("expected test ready after build, got %v", ready)
	}
}

func TestRunState_ApplyCompletion_JobFinished(t *testing.T) {
	state := initializedState(t, testPipeline())
	state.ReadyJobs()

	insts := state.JobInstances("test")
	insts[0].MarkRunning()
	insts[0].MarkSucceeded()

	c := state.ApplyCompletion(insts[0])
	if c.JobFinished {
		t.Error("job should not be finished with one of two instances done")
	}

	insts[1].MarkRunning()
	insts[1].MarkSucceeded()

	c = state.ApplyCompletion(insts[1])
	if !c.JobFinished {
		t.Error("job should be finished after both instances")
	}
}

func TestRunState_ApplyCompletion_FailFast(t *testing.T) {
	state := initializedState(t, testPipeline())
	state.ReadyJobs()

	completions := finishJob(state, "build", domain.InstanceStatusFailed)
	if !completions[0].FailFastTripped {
		t.Error("fail-fast should trip on first failure")
	}
	if !state.Stopped() {
		t.Error("state should be stopped")
	}
	if !state.HasFailed() {
		t.Error("state should have failed jobs")
	}

	// После fail-fast новые jobs не раздаются
	if ready := state.ReadyJobs(); ready != nil {
		t.Errorf("expected no ready jobs after fail-fast, got %v", ready)
	}
}

func TestRunState_ApplyCompletion_FailFastDisabled(t *testing.T) {
	off := false
	p := testPipeline()
	p.Jobs[0].FailFast = &off

	state := initializedState(t, p)
	state.ReadyJobs()

	completions := finishJob(state, "build", domain.InstanceStatusFailed)
	if completions[0].FailFastTripped {
		t.Error("fail-fast should not trip when disabled")
	}
	if state.Stopped() {
		t.Error("state should not be stopped")
	}
}

func TestRunState_MarkLocalSkipped(t *testing.T) {
	state := initializedState(t, testPipeline())
	state.ReadyJobs()

	finishJob(state, "build", domain.InstanceStatusFailed)
	state.MarkLocalSkipped("fail-fast: earlier instance failed")

	if !state.IsComplete() {
		t.Error("run should be complete after skipping pending instances")
	}

	stats := state.Stats()
	if stats.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", stats.Failed)
	}
	if stats.Skipped != 3 {
		t.Errorf("expected 3 skipped, got %d", stats.Skipped)
	}
}

func TestRunState_SkipBlockedJobs(t *testing.T) {
	off := false
	p := testPipeline()
	p.Jobs[1].FailFast = &off

	state := initializedState(t, p)
	state.ReadyJobs()
	finishJob(state, "build", domain.InstanceStatusSucceeded)
	state.ReadyJobs()

	// test падает с выключенным fail-fast: publish блокируется
	finishJob(state, "test", domain.InstanceStatusFailed)

	skipped := state.SkipBlockedJobs("needs failed")
	if len(skipped) != 1 || skipped[0].JobID != "publish" {
		t.Fatalf("expected publish skipped, got %v", skipped)
	}
	if skipped[0].Status != domain.InstanceStatusSkipped {
		t.Errorf("expected SKIPPED, got %s", skipped[0].Status)
	}

	if !state.IsComplete() {
		t.Error("run should be complete")
	}
}

func TestRunState_SkipBlockedJobs_Transitive(t *testing.T) {
	off := false
	p := &domain.Pipeline{
		Name: "chain",
		Jobs: []domain.JobDef{
			{ID: "a", FailFast: &off, Steps: []domain.StepDef{{Run: "true"}}},
			{ID: "b", Needs: []string{"a"}, Steps: []domain.StepDef{{Run: "true"}}},
			{ID: "c", Needs: []string{"b"}, Steps: []domain.StepDef{{Run: "true"}}},
		},
	}

	state := initializedState(t, p)
	state.ReadyJobs()
	finishJob(state, "a", domain.InstanceStatusFailed)

	skipped := state.SkipBlockedJobs("needs failed")
	if len(skipped) != 2 {
		t.Fatalf("expected b and c skipped transitively, got %d", len(skipped))
	}
}

func TestRunState_IsComplete(t *testing.T) {
	state := initializedState(t, testPipeline())

	if state.IsComplete() {
		t.Error("should not be complete initially")
	}

	state.ReadyJobs()
	finishJob(state, "build", domain.InstanceStatusSucceeded)
	state.ReadyJobs()
	finishJob(state, "test", domain.InstanceStatusSucceeded)
	state.ReadyJobs()

	if state.IsComplete() {
		t.Error("should not be complete with publish pending")
	}

	finishJob(state, "publish", domain.InstanceStatusSucceeded)

	if !state.IsComplete() {
		t.Error("should be complete with all instances done")
	}
	if state.HasFailed() {
		t.Error("should have no failed jobs")
	}
}

func TestRunState_Stats(t *testing.T) {
	state := initializedState(t, testPipeline())

	stats := state.Stats()
	if stats.TotalInstances != 4 {
		t.Errorf("expected 4 total, got %d", stats.TotalInstances)
	}
	if stats.Pending != 4 {
		t.Errorf("expected 4 pending, got %d", stats.Pending)
	}

	state.ReadyJobs()
	finishJob(state, "build", domain.InstanceStatusSucceeded)

	stats = state.Stats()
	if stats.Succeeded != 1 {
		t.Errorf("expected 1 succeeded, got %d", stats.Succeeded)
	}
	if stats.Pending != 3 {
		t.Errorf("expected 3 pending, got %d", stats.Pending)
	}
}

func TestRunState_RestoreFromInstances(t *testing.T) {
	p := testPipeline()
	state := initializedState(t, p)
	runID := state.RunID()

	// Состояние из БД: build прошёл, test наполовину выполнен
	build := domain.NewJobInstance(runID, p.Job("build"), domain.MatrixInstance{})
	build.MarkRunning()
	build.MarkSucceeded()

	test1 := domain.NewJobInstance(runID, p.Job("test"), domain.MatrixInstance{
		Names: []string{"go"}, Values: map[string]string{"go": "1.21"},
	})
	test1.MarkRunning()
	test1.MarkSucceeded()

	test2 := domain.NewJobInstance(runID, p.Job("test"), domain.MatrixInstance{
		Names: []string{"go"}, Values: map[string]string{"go": "1.22"},
	})
	test2.MarkRunning()

	publish := domain.NewJobInstance(runID, p.Job("publish"), domain.MatrixInstance{})

	state.RestoreFromInstances([]domain.JobInstance{*build, *test1, *test2, *publish})

	stats := state.Stats()
	if stats.TotalInstances != 4 {
		t.Fatalf("expected 4 instances, got %d", stats.TotalInstances)
	}
	if stats.Succeeded != 2 || stats.Running != 1 || stats.Pending != 1 {
		t.Errorf("unexpected stats after restore: %+v", stats)
	}

	// build завершён, test в полёте: раздавать нечего
	if ready := state.ReadyJobs(); len(ready) != 0 {
		t.Errorf("expected no ready jobs, got %v", ready)
	}

	// Завершаем test: publish становится ready
	restored := state.Instance(test2.ID)
	restored.MarkSucceeded()
	c := state.ApplyCompletion(restored)
	if !c.JobFinished {
		t.Error("test should be finished")
	}

	ready := state.ReadyJobs()
	if len(ready) != 1 || ready[0].ID != "publish" {
		t.Fatalf("expected publish ready after restore, got %v", ready)
	}
}

// --- Dispatcher Tests ---

func TestNew_Defaults(t *testing.T) {
	d := New(Config{})

	if d.activeRuns == nil {
		t.Error("activeRuns should be initialized")
	}
	if d.pollInterval != defaultPollInterval {
		t.Errorf("expected default poll interval %v, got %v", defaultPollInterval, d.pollInterval)
	}
	if d.batchSize != defaultBatchSize {
		t.Errorf("expected default batch size %d, got %d", defaultBatchSize, d.batchSize)
	}
}

func TestNew_CustomConfig(t *testing.T) {
	d := New(Config{
		PollInterval: 5 * time.Second,
		BatchSize:    50,
	})

	if d.pollInterval != 5*time.Second {
		t.Errorf("expected poll interval 5s, got %v", d.pollInterval)
	}
	if d.batchSize != 50 {
		t.Errorf("expected batch size 50, got %d", d.batchSize)
	}
}

func TestDispatcher_ActiveRuns(t *testing.T) {
	d := New(Config{})

	runID := uuid.New()
	state := &RunState{Run: &domain.Run{ID: runID}}

	if d.ActiveRunsCount() != 0 {
		t.Error("should have no active runs initially")
	}
	if d.isRunActive(runID) {
		t.Error("run should not be active initially")
	}

	if err := d.addActiveRun(state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d.ActiveRunsCount() != 1 {
		t.Error("should have 1 active run")
	}
	if !d.isRunActive(runID) {
		t.Error("run should be active")
	}
	if d.getActiveRun(runID) != state {
		t.Error("getActiveRun should return the state")
	}

	if err := d.addActiveRun(state); err != ErrRunAlreadyActive {
		t.Errorf("expected ErrRunAlreadyActive, got %v", err)
	}

	d.removeActiveRun(runID)
	if d.ActiveRunsCount() != 0 {
		t.Error("should have no active runs after removal")
	}
}

func TestDispatcher_GetActiveRunStats(t *testing.T) {
	d := New(Config{})
	state := initializedState(t, testPipeline())

	if _, ok := d.GetActiveRunStats(state.RunID()); ok {
		t.Error("should not find stats for non-active run")
	}

	_ = d.addActiveRun(state)
	stats, ok := d.GetActiveRunStats(state.RunID())
	if !ok {
		t.Fatal("should find stats for active run")
	}
	if stats.TotalInstances != 4 {
		t.Errorf("expected 4 instances, got %d", stats.TotalInstances)
	}
}

func TestDispatcher_IsStopped(t *testing.T) {
	d := New(Config{})

	if d.IsStopped() {
		t.Error("should not be stopped initially")
	}

	d.stoppedMu.Lock()
	d.stopped = true
	d.stoppedMu.Unlock()

	if !d.IsStopped() {
		t.Error("should be stopped")
	}
}
