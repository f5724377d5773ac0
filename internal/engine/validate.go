package engine

import (
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Validate выполняет полную валидацию Pipeline.
//
// Проверяет:
// - Наличие jobs и шагов
// - Уникальность ID jobs и шагов
// - Корректность матриц (оси, exclude)
// - Валидность needs (существование, отсутствие циклов)
//
// Любая ошибка здесь — конфигурационная: run не стартует.
func Validate(p *domain.Pipeline) error {
	if p == nil || len(p.Jobs) == 0 {
		return ErrEmptyJobs
	}

	jobIDs := make(map[string]bool, len(p.Jobs))

	for i := range p.Jobs {
		job := &p.Jobs[i]

		if err := validateJob(job, jobIDs); err != nil {
			return err
		}
	}

	// Needs и циклы проверяет построение графа.
	if _, err := BuildJobGraph(p); err != nil {
		return err
	}

	return nil
}

// validateJob валидирует один job.
// jobIDs — уже встреченные ID jobs (для проверки уникальности).
func validateJob(job *domain.JobDef, jobIDs map[string]bool) error {
	if job.ID == "" {
		return NewValidationError("", "id", "job has empty ID", ErrEmptyJobID)
	}

	if jobIDs[job.ID] {
		return NewValidationError(job.ID, "id",
			fmt.Sprintf("duplicate job ID: %s", job.ID), ErrDuplicateJobID)
	}
	jobIDs[job.ID] = true

	if len(job.Steps) == 0 {
		return NewValidationError(job.ID, "steps", "job has no steps", ErrEmptySteps)
	}

	// Уникальность step ID в рамках job.
	stepIDs := make(map[string]bool, len(job.Steps))
	for i := range job.Steps {
		step := &job.Steps[i]
		if step.ID == "" {
			continue
		}
		if stepIDs[step.ID] {
			return NewValidationError(job.ID, "steps",
				fmt.Sprintf("duplicate step ID: %s", step.ID), ErrDuplicateStepID)
		}
		stepIDs[step.ID] = true
	}

	// Матрица проверяется тем же кодом, что и раскрывается:
	// ошибки осей/exclude всплывают до старта run.
	if job.Matrix != nil {
		if _, err := ExpandMatrix(job.Matrix); err != nil {
			return NewValidationError(job.ID, "matrix", err.Error(), err)
		}
	}

	if job.Cache != nil {
		if job.Cache.Key == "" {
			return NewValidationError(job.ID, "cache", "cache has empty key", nil)
		}
		if len(job.Cache.Paths) == 0 {
			return NewValidationError(job.ID, "cache", "cache has no paths", nil)
		}
	}

	return nil
}
