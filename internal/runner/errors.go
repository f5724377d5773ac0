package runner

import "errors"

// Ошибки runner'а.
var (
	// ErrInstanceNotFound — instance не найден в БД.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstanceNotPending — instance не в статусе PENDING
	// (уже выполнен, выполняется другим runner'ом или пропущен).
	ErrInstanceNotPending = errors.New("instance is not in PENDING status")

	// ErrPipelineNotFound — определение pipeline не найдено в registry.
	ErrPipelineNotFound = errors.New("pipeline not found")

	// ErrJobNotFound — job не найден в определении pipeline.
	ErrJobNotFound = errors.New("job not found in pipeline")
)
