package scheduler

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/executor"
)

// scriptedRunner успешно выполняет любые команды, кроме содержащих
// "fail" — те завершаются кодом 1. Записывает порядок команд.
type scriptedRunner struct {
	mu       sync.Mutex
	commands []string
}

func (r *scriptedRunner) Run(_ context.Context, spec executor.CommandSpec) (*executor.CommandResult, error) {
	r.mu.Lock()
	r.commands = append(r.commands, spec.Command)
	r.mu.Unlock()

	if strings.Contains(spec.Command, "fail") {
		return &executor.CommandResult{ExitCode: 1}, nil
	}
	return &executor.CommandResult{ExitCode: 0}, nil
}

func (r *scriptedRunner) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

func newScheduler(t *testing.T, runner executor.CommandRunner, workers int) *Scheduler {
	t.Helper()
	exec, err := executor.New(executor.Config{Runner: runner})
	if err != nil {
		t.Fatal(err)
	}
	s, err := New(Config{
		Executor: exec,
		Workers:  workers,
		BaseDir:  t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func instancesOf(result *Result, jobID string) []*domain.JobInstance {
	var out []*domain.JobInstance
	for _, inst := range result.Instances {
		if inst.JobID == jobID {
			out = append(out, inst)
		}
	}
	return out
}

func TestScheduler_RunSucceeds(t *testing.T) {
	runner := &scriptedRunner{}
	s := newScheduler(t, runner, 2)

	p := &domain.Pipeline{
		Name: "ci",
		Jobs: []domain.JobDef{
			{ID: "build", Steps: []domain.StepDef{{Run: "make build"}}},
			{ID: "test", Needs: []string{"build"}, Steps: []domain.StepDef{{Run: "make test"}}},
		},
	}

	result, err := s.Run(context.Background(), p, "manual", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.Run.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", result.Run.Status, result.Run.Error)
	}
	if result.Failed() {
		t.Error("result should not report failure")
	}
	if len(result.Instances) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(result.Instances))
	}

	// needs соблюдён: build выполняется до test.
	seen := runner.seen()
	if len(seen) != 2 || seen[0] != "make build" || seen[1] != "make test" {
		t.Errorf("unexpected command order: %v", seen)
	}
}

func TestScheduler_MatrixExpansion(t *testing.T) {
	runner := &scriptedRunner{}
	s := newScheduler(t, runner, 4)

	p := &domain.Pipeline{
		Name: "matrix",
		Jobs: []domain.JobDef{
			{
				ID: "test",
				Matrix: &domain.MatrixSpec{
					Axes: []domain.MatrixAxis{
						{Name: "go", Values: []string{"1.21", "1.22"}},
						{Name: "os", Values: []string{"linux", "darwin"}},
					},
				},
				Steps: []domain.StepDef{{Run: "test ${{ matrix.go }}/${{ matrix.os }}"}},
			},
		},
	}

	result, err := s.Run(context.Background(), p, "manual", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(result.Instances) != 4 {
		t.Fatalf("expected 4 instances, got %d", len(result.Instances))
	}
	for _, inst := range result.Instances {
		if inst.Status != domain.InstanceStatusSucceeded {
			t.Errorf("%s: expected SUCCEEDED, got %s (%s)", inst.Name, inst.Status, inst.Error)
		}
	}

	// Детерминированные имена в порядке декларации осей.
	if result.Instances[0].Name != "test (1.21, linux)" {
		t.Errorf("unexpected instance name: %q", result.Instances[0].Name)
	}

	// Значения осей дошли до команд.
	seen := runner.seen()
	found := make(map[string]bool, len(seen))
	for _, cmd := range seen {
		found[cmd] = true
	}
	if !found["test 1.22/darwin"] {
		t.Errorf("matrix values not rendered: %v", seen)
	}
}

func TestScheduler_FailFastSkipsUnstarted(t *testing.T) {
	runner := &scriptedRunner{}
	// Один worker: instances выполняются строго по очереди.
	s := newScheduler(t, runner, 1)

	p := &domain.Pipeline{
		Name: "ff",
		Jobs: []domain.JobDef{
			{
				ID: "test",
				Matrix: &domain.MatrixSpec{
					Axes: []domain.MatrixAxis{
						{Name: "shard", Values: []string{"fail", "b", "c"}},
					},
				},
				Steps: []domain.StepDef{{Run: "run ${{ matrix.shard }}"}},
			},
		},
	}

	result, err := s.Run(context.Background(), p, "manual", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.Run.Status != domain.RunStatusFailed {
		t.Fatalf("expected FAILED, got %s", result.Run.Status)
	}

	insts := instancesOf(result, "test")
	if insts[0].Status != domain.InstanceStatusFailed {
		t.Errorf("first instance: expected FAILED, got %s", insts[0].Status)
	}
	for _, inst := range insts[1:] {
		// Не начатые instances пропускаются, не выполняются.
		if inst.Status != domain.InstanceStatusSkipped {
			t.Errorf("%s: expected SKIPPED, got %s", inst.Name, inst.Status)
		}
		if inst.StartedAt != nil {
			t.Errorf("%s: skipped instance must never start", inst.Name)
		}
	}

	if got := runner.seen(); len(got) != 1 {
		t.Errorf("expected exactly 1 executed command, got %v", got)
	}
}

func TestScheduler_NoFailFastRunsEverything(t *testing.T) {
	runner := &scriptedRunner{}
	s := newScheduler(t, runner, 1)

	off := false
	p := &domain.Pipeline{
		Name: "no-ff",
		Jobs: []domain.JobDef{
			{
				ID:       "test",
				FailFast: &off,
				Matrix: &domain.MatrixSpec{
					Axes: []domain.MatrixAxis{
						{Name: "shard", Values: []string{"fail", "b", "c"}},
					},
				},
				Steps: []domain.StepDef{{Run: "run ${{ matrix.shard }}"}},
			},
		},
	}

	result, err := s.Run(context.Background(), p, "manual", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Всё выполнено, run всё равно FAILED из-за первого instance.
	if result.Run.Status != domain.RunStatusFailed {
		t.Fatalf("expected FAILED, got %s", result.Run.Status)
	}
	if got := runner.seen(); len(got) != 3 {
		t.Errorf("expected 3 executed commands, got %v", got)
	}

	insts := instancesOf(result, "test")
	if insts[1].Status != domain.InstanceStatusSucceeded || insts[2].Status != domain.InstanceStatusSucceeded {
		t.Error("instances after failure should still run with fail_fast=false")
	}
}

func TestScheduler_NeedsFailedSkipsDependents(t *testing.T) {
	runner := &scriptedRunner{}
	s := newScheduler(t, runner, 2)

	off := false
	p := &domain.Pipeline{
		Name: "needs",
		Jobs: []domain.JobDef{
			{ID: "a", FailFast: &off, Steps: []domain.StepDef{{Run: "make fail"}}},
			{ID: "b", Needs: []string{"a"}, Steps: []domain.StepDef{{Run: "make b"}}},
			{ID: "c", Needs: []string{"b"}, Steps: []domain.StepDef{{Run: "make c"}}},
		},
	}

	result, err := s.Run(context.Background(), p, "manual", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.Run.Status != domain.RunStatusFailed {
		t.Fatalf("expected FAILED, got %s", result.Run.Status)
	}

	for _, jobID := range []string{"b", "c"} {
		insts := instancesOf(result, jobID)
		if len(insts) != 1 {
			t.Fatalf("%s: expected 1 instance in report, got %d", jobID, len(insts))
		}
		if insts[0].Status != domain.InstanceStatusSkipped {
			t.Errorf("%s: expected SKIPPED, got %s", jobID, insts[0].Status)
		}
		if !strings.Contains(insts[0].Error, "needs") {
			t.Errorf("%s: skip reason should mention needs, got %q", jobID, insts[0].Error)
		}
	}

	if got := runner.seen(); len(got) != 1 {
		t.Errorf("dependents must not execute, got %v", got)
	}
}

func TestScheduler_EnvOverride(t *testing.T) {
	runner := &scriptedRunner{}
	s := newScheduler(t, runner, 1)

	p := &domain.Pipeline{
		Name: "env",
		Env:  map[string]string{"MODE": "default", "REGION": "eu"},
		Jobs: []domain.JobDef{
			{ID: "show", Steps: []domain.StepDef{{Run: "echo ${{ env.MODE }}-${{ env.REGION }}"}}},
		},
	}

	result, err := s.Run(context.Background(), p, "manual", map[string]string{"MODE": "canary"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Run.Status != domain.RunStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", result.Run.Status)
	}

	if got := runner.seen()[0]; got != "echo canary-eu" {
		t.Errorf("run env override not applied: %q", got)
	}
}

func TestScheduler_InvalidPipeline(t *testing.T) {
	s := newScheduler(t, &scriptedRunner{}, 1)

	p := &domain.Pipeline{Name: "bad"}
	if _, err := s.Run(context.Background(), p, "manual", nil); err == nil {
		t.Fatal("expected validation error")
	}
}
