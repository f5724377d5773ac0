package dispatcher

import "errors"

// Ошибки dispatcher'а.
var (
	// ErrRunNotFound — run не найден в БД.
	ErrRunNotFound = errors.New("run not found")

	// ErrPipelineNotFound — определение pipeline не найдено в registry.
	ErrPipelineNotFound = errors.New("pipeline not found")

	// ErrInvalidPipeline — pipeline не прошёл валидацию.
	ErrInvalidPipeline = errors.New("invalid pipeline")

	// ErrRunAlreadyActive — run уже обрабатывается.
	ErrRunAlreadyActive = errors.New("run already being processed")

	// ErrRunNotPending — run не в статусе PENDING.
	ErrRunNotPending = errors.New("run is not in PENDING status")

	// ErrInstanceNotFound — instance не найден.
	ErrInstanceNotFound = errors.New("instance not found")
)
