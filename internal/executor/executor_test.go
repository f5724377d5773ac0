package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/cache"
	"github.com/shaiso/Conveyor/internal/domain"
)

// fakeRunner записывает команды и отвечает по handler'у
// (по умолчанию — успех с кодом 0).
type fakeRunner struct {
	mu      sync.Mutex
	calls   []CommandSpec
	handler func(ctx context.Context, spec CommandSpec) (*CommandResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, spec CommandSpec) (*CommandResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, spec)
	f.mu.Unlock()

	if f.handler != nil {
		return f.handler(ctx, spec)
	}
	return &CommandResult{ExitCode: 0}, nil
}

func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Command
	}
	return out
}

func newExecutor(t *testing.T, runner CommandRunner, resolver *cache.Resolver) *Executor {
	t.Helper()
	e, err := New(Config{Runner: runner, Cache: resolver})
	if err != nil {
		t.Fatalf("create executor: %v", err)
	}
	return e
}

func execute(t *testing.T, e *Executor, job *domain.JobDef, workdir string) *domain.JobInstance {
	t.Helper()
	inst := domain.NewJobInstance(uuid.New(), job, domain.MatrixInstance{})
	err := e.Execute(context.Background(), Request{
		Instance: inst,
		Job:      job,
		Env:      map[string]string{"CI": "true"},
		Workdir:  workdir,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	return inst
}

func writeWorkdirFile(dir, name, content string) error {
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func TestExecutor_NoRunner(t *testing.T) {
	if _, err := New(Config{}); err != ErrNoRunner {
		t.Errorf("expected ErrNoRunner, got %v", err)
	}
}

func TestExecutor_RunsStepsInOrder(t *testing.T) {
	runner := &fakeRunner{}
	e := newExecutor(t, runner, nil)

	job := &domain.JobDef{
		ID: "build",
		Steps: []domain.StepDef{
			{ID: "a", Run: "make deps"},
			{ID: "b", Run: "make build"},
			{ID: "c", Run: "make test"},
		},
	}

	inst := execute(t, e, job, t.TempDir())

	if inst.Status != domain.InstanceStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", inst.Status, inst.Error)
	}

	got := runner.commands()
	want := []string{"make deps", "make build", "make test"}
	if len(got) != len(want) {
		t.Fatalf("expected %d commands, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	if len(inst.Steps) != 3 {
		t.Fatalf("expected 3 step outcomes, got %d", len(inst.Steps))
	}
	for _, s := range inst.Steps {
		if s.Status != domain.StepStatusSucceeded {
			t.Errorf("step %s: expected SUCCEEDED, got %s", s.Name, s.Status)
		}
	}
}

func TestExecutor_OutputsVisibleToLaterSteps(t *testing.T) {
	runner := &fakeRunner{
		handler: func(_ context.Context, spec CommandSpec) (*CommandResult, error) {
			if strings.HasPrefix(spec.Command, "compute") {
				return &CommandResult{ExitCode: 0, Outputs: map[string]string{"version": "1.4.2"}}, nil
			}
			return &CommandResult{ExitCode: 0}, nil
		},
	}
	e := newExecutor(t, runner, nil)

	job := &domain.JobDef{
		ID: "release",
		Steps: []domain.StepDef{
			{ID: "ver", Run: "compute version"},
			{ID: "tag", Run: "git tag v${{ steps.ver.outputs.version }}"},
		},
	}

	inst := execute(t, e, job, t.TempDir())

	if inst.Status != domain.InstanceStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", inst.Status, inst.Error)
	}
	if got := runner.commands()[1]; got != "git tag v1.4.2" {
		t.Errorf("output not substituted: %q", got)
	}
}

func TestExecutor_GuardFalseSkipsStep(t *testing.T) {
	runner := &fakeRunner{}
	e := newExecutor(t, runner, nil)

	job := &domain.JobDef{
		ID: "deploy",
		Steps: []domain.StepDef{
			{ID: "build", Run: "make build"},
			{ID: "push", If: "env.CI == 'false'", Run: "make push"},
			{ID: "notify", Run: "make notify"},
		},
	}

	inst := execute(t, e, job, t.TempDir())

	if inst.Status != domain.InstanceStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", inst.Status)
	}
	if inst.Steps[1].Status != domain.StepStatusSkipped {
		t.Errorf("guarded step: expected SKIPPED, got %s", inst.Steps[1].Status)
	}

	// Пропуск не прерывает job: последующий шаг выполняется.
	got := runner.commands()
	if len(got) != 2 || got[1] != "make notify" {
		t.Errorf("unexpected commands: %v", got)
	}
}

func TestExecutor_FailureAbortsRemainingSteps(t *testing.T) {
	runner := &fakeRunner{
		handler: func(_ context.Context, spec CommandSpec) (*CommandResult, error) {
			if spec.Command == "make test" {
				return &CommandResult{ExitCode: 2}, nil
			}
			return &CommandResult{ExitCode: 0}, nil
		},
	}
	e := newExecutor(t, runner, nil)

	job := &domain.JobDef{
		ID: "ci",
		Steps: []domain.StepDef{
			{ID: "build", Run: "make build"},
			{ID: "test", Run: "make test"},
			{ID: "publish", Run: "make publish"},
		},
	}

	inst := execute(t, e, job, t.TempDir())

	if inst.Status != domain.InstanceStatusFailed {
		t.Fatalf("expected FAILED, got %s", inst.Status)
	}
	if !strings.Contains(inst.Error, "test") {
		t.Errorf("instance error should name the failed step: %q", inst.Error)
	}

	if inst.Steps[1].Status != domain.StepStatusFailed {
		t.Errorf("failed step: got %s", inst.Steps[1].Status)
	}
	if inst.Steps[1].ExitCode != 2 {
		t.Errorf("expected exit code 2, got %d", inst.Steps[1].ExitCode)
	}
	if inst.Steps[2].Status != domain.StepStatusSkipped {
		t.Errorf("step after failure: expected SKIPPED, got %s", inst.Steps[2].Status)
	}

	// Команда после падения не запускалась.
	for _, cmd := range runner.commands() {
		if cmd == "make publish" {
			t.Error("aborted step was executed")
		}
	}
}

func TestExecutor_ContinueOnError(t *testing.T) {
	runner := &fakeRunner{
		handler: func(_ context.Context, spec CommandSpec) (*CommandResult, error) {
			if spec.Command == "make lint" {
				return &CommandResult{ExitCode: 1}, nil
			}
			return &CommandResult{ExitCode: 0}, nil
		},
	}
	e := newExecutor(t, runner, nil)

	job := &domain.JobDef{
		ID: "ci",
		Steps: []domain.StepDef{
			{ID: "lint", Run: "make lint", ContinueOnError: true},
			{ID: "status", If: "job.status == 'success'", Run: "make report"},
		},
	}

	inst := execute(t, e, job, t.TempDir())

	// Падение с continue_on_error не валит instance и не меняет
	// job.status.
	if inst.Status != domain.InstanceStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", inst.Status, inst.Error)
	}
	if inst.Steps[0].Status != domain.StepStatusFailed {
		t.Errorf("lint step: expected FAILED, got %s", inst.Steps[0].Status)
	}
	if inst.Steps[1].Status != domain.StepStatusSucceeded {
		t.Errorf("report step: expected SUCCEEDED, got %s", inst.Steps[1].Status)
	}
}

func TestExecutor_GuardForwardReferenceFailsStep(t *testing.T) {
	runner := &fakeRunner{}
	e := newExecutor(t, runner, nil)

	job := &domain.JobDef{
		ID: "ci",
		Steps: []domain.StepDef{
			{ID: "early", If: "steps.late.outputs.x == '1'", Run: "echo early"},
			{ID: "late", Run: "echo late"},
		},
	}

	inst := execute(t, e, job, t.TempDir())

	if inst.Status != domain.InstanceStatusFailed {
		t.Fatalf("expected FAILED, got %s", inst.Status)
	}
	if !strings.Contains(inst.Steps[0].Error, "forward reference") {
		t.Errorf("expected forward reference error, got %q", inst.Steps[0].Error)
	}
	if inst.Steps[1].Status != domain.StepStatusSkipped {
		t.Errorf("remaining step: expected SKIPPED, got %s", inst.Steps[1].Status)
	}
}

func TestExecutor_StepTimeout(t *testing.T) {
	runner := &fakeRunner{
		handler: func(ctx context.Context, _ CommandSpec) (*CommandResult, error) {
			// Имитация долгой команды: ждём, пока дедлайн убьёт процесс.
			<-ctx.Done()
			return &CommandResult{ExitCode: -1}, nil
		},
	}
	e := newExecutor(t, runner, nil)

	job := &domain.JobDef{
		ID: "slow",
		Steps: []domain.StepDef{
			{ID: "hang", Run: "sleep 600", TimeoutSec: 1},
		},
	}

	inst := execute(t, e, job, t.TempDir())

	if inst.Status != domain.InstanceStatusFailed {
		t.Fatalf("expected FAILED, got %s", inst.Status)
	}
	if !strings.Contains(inst.Steps[0].Error, "timeout") {
		t.Errorf("expected timeout error, got %q", inst.Steps[0].Error)
	}
}

func TestExecutor_StepEnvLayers(t *testing.T) {
	var captured CommandSpec
	runner := &fakeRunner{
		handler: func(_ context.Context, spec CommandSpec) (*CommandResult, error) {
			captured = spec
			return &CommandResult{ExitCode: 0}, nil
		},
	}
	e := newExecutor(t, runner, nil)

	job := &domain.JobDef{
		ID:  "env",
		Env: map[string]string{"LEVEL": "job"},
		Steps: []domain.StepDef{
			{
				ID:   "show",
				Run:  "env",
				Env:  map[string]string{"LEVEL": "step"},
				With: map[string]string{"target": "linux-${{ env.CI }}"},
			},
		},
	}

	inst := execute(t, e, job, t.TempDir())
	if inst.Status != domain.InstanceStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s", inst.Status)
	}

	if captured.Env["LEVEL"] != "step" {
		t.Errorf("step env should override job env, got %q", captured.Env["LEVEL"])
	}
	if captured.Env["CI"] != "true" {
		t.Errorf("run env should be visible, got %q", captured.Env["CI"])
	}
	if captured.Env["INPUT_TARGET"] != "linux-true" {
		t.Errorf("with params should render into INPUT_*, got %q", captured.Env["INPUT_TARGET"])
	}
}

func TestExecutor_CacheRoundTrip(t *testing.T) {
	resolver := cache.NewResolver(cache.NewMemoryStore(), nil)

	runner := &fakeRunner{}
	e := newExecutor(t, runner, resolver)

	dir := t.TempDir()
	if err := writeWorkdirFile(dir, "deps.lock", "lockfile"); err != nil {
		t.Fatal(err)
	}
	if err := writeWorkdirFile(dir, ".cache/artifact.bin", "built"); err != nil {
		t.Fatal(err)
	}

	job := &domain.JobDef{
		ID: "build",
		Cache: &domain.CacheSpec{
			Key:   "deps-${{ hashFiles('deps.lock') }}",
			Paths: []string{".cache"},
		},
		Steps: []domain.StepDef{{Run: "make build"}},
	}

	// Первый instance — miss, кеш сохраняется после успеха.
	first := execute(t, e, job, dir)
	if first.Status != domain.InstanceStatusSucceeded {
		t.Fatalf("first: expected SUCCEEDED, got %s", first.Status)
	}
	if first.CacheHit == nil || *first.CacheHit {
		t.Fatal("first instance should record a cache miss")
	}

	// Второй instance с тем же содержимым — hit.
	second := execute(t, e, job, dir)
	if second.CacheHit == nil || !*second.CacheHit {
		t.Fatal("second instance should record a cache hit")
	}
}

func TestExecutor_ShellRunnerOutputs(t *testing.T) {
	e := newExecutor(t, NewShellRunner(), nil)

	job := &domain.JobDef{
		ID: "shell",
		Steps: []domain.StepDef{
			{ID: "emit", Run: `echo "version=9.9" >> "$CONVEYOR_OUTPUT"`},
			{ID: "use", Run: `test "${{ steps.emit.outputs.version }}" = "9.9"`},
		},
	}

	inst := execute(t, e, job, t.TempDir())
	if inst.Status != domain.InstanceStatusSucceeded {
		t.Fatalf("expected SUCCEEDED, got %s (%s)", inst.Status, inst.Error)
	}
	if inst.Steps[0].Outputs["version"] != "9.9" {
		t.Errorf("side channel output not captured: %v", inst.Steps[0].Outputs)
	}
}
