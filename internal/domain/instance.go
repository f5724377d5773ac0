package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MatrixInstance — одно конкретное назначение ось→значение.
//
// Immutable: создаётся Matrix Expander'ом и дальше только читается.
// Names хранит порядок осей из декларации — он определяет
// детерминированное имя instance.
type MatrixInstance struct {
	// Names — имена осей в порядке декларации.
	Names []string `json:"names"`

	// Values — значение для каждой оси.
	Values map[string]string `json:"values"`
}

// Get возвращает значение оси. Пустая строка, если ось не задана.
func (m MatrixInstance) Get(axis string) string {
	return m.Values[axis]
}

// Key возвращает каноническую строку "v1,v2,..." в порядке осей.
// Используется для детерминированного именования instances.
func (m MatrixInstance) Key() string {
	parts := make([]string, len(m.Names))
	for i, name := range m.Names {
		parts[i] = m.Values[name]
	}
	return strings.Join(parts, ",")
}

// String возвращает представление вида "(v1, v2)".
func (m MatrixInstance) String() string {
	if len(m.Names) == 0 {
		return ""
	}
	parts := make([]string, len(m.Names))
	for i, name := range m.Names {
		parts[i] = m.Values[name]
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// JobInstance — единица работы внутри run.
//
// JobInstance = JobDef × MatrixInstance. Создаётся при раскрытии
// матрицы, выполняется Step Executor'ом (локально или на runner'е).
type JobInstance struct {
	// ID — уникальный идентификатор instance.
	ID uuid.UUID `json:"id"`

	// RunID — ссылка на родительский run.
	RunID uuid.UUID `json:"run_id"`

	// JobID — ID job из Pipeline (соответствует JobDef.ID).
	JobID string `json:"job_id"`

	// Name — детерминированное имя: "test (1.22, linux)".
	Name string `json:"name"`

	// Matrix — назначение осей этого instance.
	Matrix MatrixInstance `json:"matrix"`

	// Status — текущий статус instance.
	Status InstanceStatus `json:"status"`

	// Steps — упорядоченные результаты шагов.
	// Заполняется executor'ом по мере выполнения.
	Steps []StepOutcome `json:"steps,omitempty"`

	// CacheHit — результат резолюции кеша job (nil — кеша нет).
	CacheHit *bool `json:"cache_hit,omitempty"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки при неудаче.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания instance.
	CreatedAt time.Time `json:"created_at"`
}

// NewJobInstance создаёт instance для job и матричного назначения.
func NewJobInstance(runID uuid.UUID, job *JobDef, matrix MatrixInstance) *JobInstance {
	name := job.DisplayName()
	if s := matrix.String(); s != "" {
		name = fmt.Sprintf("%s %s", name, s)
	}

	return &JobInstance{
		ID:        uuid.New(),
		RunID:     runID,
		JobID:     job.ID,
		Name:      name,
		Matrix:    matrix,
		Status:    InstanceStatusPending,
		CreatedAt: time.Now(),
	}
}

// Duration возвращает продолжительность выполнения.
func (i *JobInstance) Duration() time.Duration {
	if i.StartedAt == nil || i.FinishedAt == nil {
		return 0
	}
	return i.FinishedAt.Sub(*i.StartedAt)
}

// IsFinished возвращает true, если instance завершён.
func (i *JobInstance) IsFinished() bool {
	return i.Status.IsTerminal()
}

// MarkRunning переводит instance в статус RUNNING.
func (i *JobInstance) MarkRunning() {
	now := time.Now()
	i.Status = InstanceStatusRunning
	i.StartedAt = &now
}

// MarkSucceeded переводит instance в статус SUCCEEDED.
func (i *JobInstance) MarkSucceeded() {
	now := time.Now()
	i.Status = InstanceStatusSucceeded
	i.FinishedAt = &now
}

// MarkFailed переводит instance в статус FAILED с ошибкой.
func (i *JobInstance) MarkFailed(err string) {
	now := time.Now()
	i.Status = InstanceStatusFailed
	i.FinishedAt = &now
	i.Error = err
}

// MarkSkipped переводит instance в статус SKIPPED.
// reason — причина пропуска ("fail-fast", "needs failed").
func (i *JobInstance) MarkSkipped(reason string) {
	now := time.Now()
	i.Status = InstanceStatusSkipped
	i.FinishedAt = &now
	i.Error = reason
}

// StepOutcome — результат выполнения одного шага.
type StepOutcome struct {
	// StepID — ID шага из StepDef (может быть пустым).
	StepID string `json:"step_id,omitempty"`

	// Name — имя шага для отчётов.
	Name string `json:"name"`

	// Status — статус выполнения шага.
	Status StepStatus `json:"status"`

	// ExitCode — код выхода команды (-1, если команда не запускалась).
	ExitCode int `json:"exit_code"`

	// Outputs — значения, записанные шагом в side channel.
	// Видимы только более поздним шагам того же instance.
	Outputs map[string]string `json:"outputs,omitempty"`

	// Error — текст ошибки при неудаче.
	Error string `json:"error,omitempty"`

	// DurationMs — продолжительность выполнения в миллисекундах.
	DurationMs int64 `json:"duration_ms"`
}
