package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Pipeline DTOs

// PipelineSummary — краткая информация о pipeline в списке.
type PipelineSummary struct {
	Name      string   `json:"name"`
	Jobs      int      `json:"jobs"`
	Schedules []string `json:"schedules,omitempty"`
}

// PipelineResponse — ответ с определением pipeline.
type PipelineResponse struct {
	Name      string            `json:"name"`
	Env       map[string]string `json:"env,omitempty"`
	Schedules []string          `json:"schedules,omitempty"`
	Jobs      []JobResponse     `json:"jobs"`
}

// JobResponse — определение job в составе pipeline.
type JobResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name,omitempty"`
	Needs     []string `json:"needs,omitempty"`
	Steps     int      `json:"steps"`
	Matrix    bool     `json:"matrix"`
	FailFast  bool     `json:"fail_fast"`
	HasCache  bool     `json:"has_cache"`
	Timeout   int      `json:"timeout_sec,omitempty"`
}

// PipelineFromDomain конвертирует domain.Pipeline в PipelineResponse.
func PipelineFromDomain(p *domain.Pipeline) PipelineResponse {
	jobs := make([]JobResponse, len(p.Jobs))
	for i := range p.Jobs {
		job := &p.Jobs[i]
		jobs[i] = JobResponse{
			ID:       job.ID,
			Name:     job.Name,
			Needs:    job.Needs,
			Steps:    len(job.Steps),
			Matrix:   job.Matrix != nil,
			FailFast: job.IsFailFast(),
			HasCache: job.Cache != nil,
			Timeout:  job.TimeoutSec,
		}
	}

	return PipelineResponse{
		Name:      p.Name,
		Env:       p.Env,
		Schedules: p.Schedules,
		Jobs:      jobs,
	}
}

// Run DTOs

// CreateRunRequest — запрос на запуск pipeline.
type CreateRunRequest struct {
	Env            map[string]string `json:"env,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}

// RunResponse — ответ с run.
type RunResponse struct {
	ID             uuid.UUID         `json:"id"`
	Pipeline       string            `json:"pipeline"`
	Status         string            `json:"status"`
	Trigger        string            `json:"trigger,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	FinishedAt     *time.Time        `json:"finished_at,omitempty"`
	Error          string            `json:"error,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	return RunResponse{
		ID:             r.ID,
		Pipeline:       r.Pipeline,
		Status:         string(r.Status),
		Trigger:        r.Trigger,
		Env:            r.Env,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		Error:          r.Error,
		IdempotencyKey: r.IdempotencyKey,
		CreatedAt:      r.CreatedAt,
	}
}

// Instance DTOs

// InstanceResponse — ответ с job instance.
type InstanceResponse struct {
	ID         uuid.UUID            `json:"id"`
	RunID      uuid.UUID            `json:"run_id"`
	JobID      string               `json:"job_id"`
	Name       string               `json:"name"`
	Matrix     map[string]string    `json:"matrix,omitempty"`
	Status     string               `json:"status"`
	Steps      []domain.StepOutcome `json:"steps,omitempty"`
	CacheHit   *bool                `json:"cache_hit,omitempty"`
	StartedAt  *time.Time           `json:"started_at,omitempty"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
	Error      string               `json:"error,omitempty"`
	CreatedAt  time.Time            `json:"created_at"`
}

// InstanceFromDomain конвертирует domain.JobInstance в InstanceResponse.
func InstanceFromDomain(i domain.JobInstance) InstanceResponse {
	return InstanceResponse{
		ID:         i.ID,
		RunID:      i.RunID,
		JobID:      i.JobID,
		Name:       i.Name,
		Matrix:     i.Matrix.Values,
		Status:     string(i.Status),
		Steps:      i.Steps,
		CacheHit:   i.CacheHit,
		StartedAt:  i.StartedAt,
		FinishedAt: i.FinishedAt,
		Error:      i.Error,
		CreatedAt:  i.CreatedAt,
	}
}

// Schedule DTOs

// SetEnabledRequest — запрос на включение/выключение schedule.
type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// ScheduleResponse — ответ со schedule.
type ScheduleResponse struct {
	ID        uuid.UUID  `json:"id"`
	Pipeline  string     `json:"pipeline"`
	CronExpr  string     `json:"cron_expr"`
	Timezone  string     `json:"timezone"`
	Enabled   bool       `json:"enabled"`
	NextDueAt *time.Time `json:"next_due_at,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastRunID *uuid.UUID `json:"last_run_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ScheduleFromDomain конвертирует domain.Schedule в ScheduleResponse.
func ScheduleFromDomain(s domain.Schedule) ScheduleResponse {
	return ScheduleResponse{
		ID:        s.ID,
		Pipeline:  s.Pipeline,
		CronExpr:  s.CronExpr,
		Timezone:  s.Timezone,
		Enabled:   s.Enabled,
		NextDueAt: s.NextDueAt,
		LastRunAt: s.LastRunAt,
		LastRunID: s.LastRunID,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}
