package executor

import "errors"

// Ошибки выполнения шагов.
var (
	// ErrCommandFailed — команда шага завершилась ненулевым кодом.
	ErrCommandFailed = errors.New("command failed")

	// ErrStepTimeout — выполнение шага превысило таймаут.
	// Специализация ErrCommandFailed: обрабатывается той же
	// политикой падения шага.
	ErrStepTimeout = errors.New("step timeout")

	// ErrNoRunner — executor создан без CommandRunner.
	ErrNoRunner = errors.New("no command runner configured")
)
