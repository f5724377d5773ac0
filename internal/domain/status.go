package domain

// RunStatus — статус выполнения pipeline run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
//	          (или) → CANCELLED (из PENDING или RUNNING)
type RunStatus string

const (
	// RunStatusPending — run создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusSucceeded — все job instances завершились успешно.
	RunStatusSucceeded RunStatus = "SUCCEEDED"

	// RunStatusFailed — хотя бы один instance завершился с ошибкой.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run отменён пользователем.
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// InstanceStatus — статус выполнения job instance.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
//	        ↘ SKIPPED (fail-fast или упавшие needs; минуя RUNNING)
type InstanceStatus string

const (
	// InstanceStatusPending — instance ожидает выполнения.
	InstanceStatusPending InstanceStatus = "PENDING"

	// InstanceStatusRunning — instance выполняется worker'ом.
	InstanceStatusRunning InstanceStatus = "RUNNING"

	// InstanceStatusSucceeded — все не-пропущенные шаги успешны.
	InstanceStatusSucceeded InstanceStatus = "SUCCEEDED"

	// InstanceStatusFailed — хотя бы один шаг завершился с ошибкой.
	InstanceStatusFailed InstanceStatus = "FAILED"

	// InstanceStatusSkipped — instance не запускался (fail-fast
	// после чужого падения либо неуспешные needs).
	InstanceStatusSkipped InstanceStatus = "SKIPPED"
)

// IsTerminal возвращает true, если статус финальный.
func (s InstanceStatus) IsTerminal() bool {
	switch s {
	case InstanceStatusSucceeded, InstanceStatusFailed, InstanceStatusSkipped:
		return true
	default:
		return false
	}
}

// StepStatus — статус выполнения шага.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
//	        ↘ SKIPPED (guard == false либо падение раннего шага)
type StepStatus string

const (
	// StepStatusPending — шаг ещё не выполнялся.
	StepStatusPending StepStatus = "PENDING"

	// StepStatusRunning — команда шага выполняется.
	StepStatusRunning StepStatus = "RUNNING"

	// StepStatusSucceeded — команда завершилась с кодом 0.
	StepStatusSucceeded StepStatus = "SUCCEEDED"

	// StepStatusFailed — ненулевой код выхода, таймаут или ошибка
	// вычисления guard/шаблона.
	StepStatusFailed StepStatus = "FAILED"

	// StepStatusSkipped — guard вернул false либо job прерван
	// падением раннего шага.
	StepStatusSkipped StepStatus = "SKIPPED"
)

// IsTerminal возвращает true, если статус финальный.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepStatusSucceeded, StepStatusFailed, StepStatusSkipped:
		return true
	default:
		return false
	}
}
