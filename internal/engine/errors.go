package engine

import "errors"

// Ошибки валидации Pipeline (конфигурационные — run не стартует).
var (
	// ErrEmptyJobs — pipeline не содержит jobs.
	ErrEmptyJobs = errors.New("pipeline has no jobs")

	// ErrEmptyJobID — job не имеет ID.
	ErrEmptyJobID = errors.New("job has empty ID")

	// ErrDuplicateJobID — несколько jobs с одинаковым ID.
	ErrDuplicateJobID = errors.New("duplicate job ID")

	// ErrEmptySteps — job не содержит шагов.
	ErrEmptySteps = errors.New("job has no steps")

	// ErrDuplicateStepID — несколько шагов с одинаковым ID.
	ErrDuplicateStepID = errors.New("duplicate step ID")

	// ErrMissingNeed — job зависит от несуществующего job.
	ErrMissingNeed = errors.New("job needs unknown job")

	// ErrSelfNeed — job зависит от самого себя.
	ErrSelfNeed = errors.New("job needs itself")

	// ErrCyclicNeeds — обнаружен цикл в needs.
	ErrCyclicNeeds = errors.New("cyclic needs detected")
)

// Ошибки раскрытия матрицы.
var (
	// ErrAxisEmpty — ось объявлена без значений.
	ErrAxisEmpty = errors.New("matrix axis has no values")

	// ErrDuplicateAxis — несколько осей с одним именем.
	ErrDuplicateAxis = errors.New("duplicate matrix axis")

	// ErrUnknownAxis — exclude ссылается на необъявленную ось.
	ErrUnknownAxis = errors.New("exclude references unknown axis")

	// ErrMatrixEmpty — все комбинации исключены.
	ErrMatrixEmpty = errors.New("matrix excludes every combination")
)

// Ошибки вычисления выражений.
var (
	// ErrExprSyntax — синтаксическая ошибка в выражении ${{ }}.
	// Фатальна для job instance, в котором встретилась.
	ErrExprSyntax = errors.New("expression syntax error")

	// ErrForwardReference — выражение ссылается на outputs шага,
	// который объявлен позже и ещё не выполнялся.
	ErrForwardReference = errors.New("forward reference to step outputs")

	// ErrUnknownFunction — вызов необъявленной встроенной функции.
	ErrUnknownFunction = errors.New("unknown function")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	JobID   string // ID job, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.JobID != "" {
		return "job " + e.JobID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(jobID, field, message string, err error) *ValidationError {
	return &ValidationError{
		JobID:   jobID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
