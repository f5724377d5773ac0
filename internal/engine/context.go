package engine

import (
	"github.com/shaiso/Conveyor/internal/domain"
)

// Context — контекст вычисления выражений одного job instance.
//
// Пространства имён, доступные в ${{ }}:
//   - env.X                  — переменные окружения (pipeline+job+run)
//   - matrix.axis            — значения осей instance
//   - secrets.NAME           — секреты (непрозрачная мапа)
//   - steps.<id>.outputs.<k> — выходы ранних шагов
//   - job.status             — "success" пока ни один шаг не упал
//
// Контекст принадлежит ровно одному instance и мутируется только
// добавлением результатов шагов после их завершения. Между
// instances не разделяется.
type Context struct {
	// Env — переменные окружения.
	Env map[string]string

	// Matrix — значения осей этого instance.
	Matrix map[string]string

	// Secrets — секреты. Движок их не интерпретирует.
	Secrets map[string]string

	// Workdir — рабочая директория job (база для hashFiles).
	Workdir string

	// declared — позиция каждого step ID в порядке декларации.
	declared map[string]int

	// steps — результаты завершённых (включая пропущенные) шагов.
	steps map[string]*StepResult

	// failed — true после первого упавшего шага.
	failed bool
}

// StepResult — результат шага, видимый поздним шагам через steps.*.
type StepResult struct {
	// Outputs — значения из side channel шага.
	Outputs map[string]string

	// Status — статус: "success", "failure", "skipped".
	Status string
}

// NewContext создаёт контекст для instance и списка шагов job.
func NewContext(env, secrets map[string]string, matrix domain.MatrixInstance, steps []domain.StepDef) *Context {
	if env == nil {
		env = make(map[string]string)
	}
	if secrets == nil {
		secrets = make(map[string]string)
	}

	declared := make(map[string]int, len(steps))
	for i, s := range steps {
		if s.ID != "" {
			declared[s.ID] = i
		}
	}

	return &Context{
		Env:      env,
		Matrix:   matrix.Values,
		Secrets:  secrets,
		declared: declared,
		steps:    make(map[string]*StepResult),
	}
}

// AddStepResult добавляет результат завершённого шага.
// Вызывается executor'ом после каждого шага (в том числе для
// пропущенных — со статусом "skipped" и пустыми outputs).
func (c *Context) AddStepResult(stepID string, outputs map[string]string, status string) {
	if stepID == "" {
		return
	}
	if outputs == nil {
		outputs = make(map[string]string)
	}
	c.steps[stepID] = &StepResult{
		Outputs: outputs,
		Status:  status,
	}
}

// MarkFailed фиксирует падение шага — job.status станет "failure".
func (c *Context) MarkFailed() {
	c.failed = true
}

// SetEnv устанавливает переменную окружения.
func (c *Context) SetEnv(key, value string) {
	c.Env[key] = value
}

// Lookup разрешает dotted-path в строковое значение.
//
// Неизвестные пути разрешаются в пустую строку (permissive
// семантика). Единственное исключение — ссылка на outputs шага,
// который объявлен в этом job, но ещё не выполнялся: это
// ErrForwardReference, шаблон вычислен слишком рано.
func (c *Context) Lookup(path []string) (string, error) {
	if len(path) == 0 {
		return "", nil
	}

	switch path[0] {
	case "env":
		if len(path) == 2 {
			return c.Env[path[1]], nil
		}

	case "matrix":
		if len(path) == 2 {
			return c.Matrix[path[1]], nil
		}

	case "secrets":
		if len(path) == 2 {
			return c.Secrets[path[1]], nil
		}

	case "job":
		if len(path) == 2 && path[1] == "status" {
			if c.failed {
				return "failure", nil
			}
			return "success", nil
		}

	case "steps":
		return c.lookupStep(path)
	}

	return "", nil
}

// lookupStep разрешает пути steps.<id>.outputs.<key> и
// steps.<id>.status.
func (c *Context) lookupStep(path []string) (string, error) {
	if len(path) < 3 {
		return "", nil
	}
	stepID := path[1]

	result, done := c.steps[stepID]
	if !done {
		// Шаг объявлен, но ещё не выполнялся — раннее вычисление.
		if _, declared := c.declared[stepID]; declared {
			return "", ErrForwardReference
		}
		// Необъявленный шаг — permissive: пустое значение.
		return "", nil
	}

	switch path[2] {
	case "status":
		return result.Status, nil
	case "outputs":
		if len(path) == 4 {
			return result.Outputs[path[3]], nil
		}
	}

	return "", nil
}
