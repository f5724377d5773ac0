package domain

import (
	"time"

	"github.com/google/uuid"
)

// Schedule — cron-расписание автоматического запуска pipeline.
//
// Dispatcher проверяет next_due_at и создаёт run, когда время
// подошло. Источник расписаний — секция schedules в определении
// pipeline; dispatcher синхронизирует их в БД при загрузке.
type Schedule struct {
	// ID — уникальный идентификатор schedule.
	ID uuid.UUID `json:"id"`

	// Pipeline — имя pipeline, который нужно запускать.
	Pipeline string `json:"pipeline"`

	// CronExpr — cron-выражение.
	// Формат: "минуты часы дни месяцы дни_недели"
	// Примеры:
	//   "0 3 * * *"    — каждый день в 3:00
	//   "*/30 * * * *" — каждые 30 минут
	CronExpr string `json:"cron_expr"`

	// Timezone — часовой пояс для вычисления времени.
	// По умолчанию: "UTC".
	Timezone string `json:"timezone"`

	// Enabled — флаг активности расписания.
	Enabled bool `json:"enabled"`

	// NextDueAt — время следующего запуска.
	// Dispatcher создаёт run, когда now >= NextDueAt.
	NextDueAt *time.Time `json:"next_due_at,omitempty"`

	// LastRunAt — время последнего запуска.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// LastRunID — ID последнего созданного run.
	LastRunID *uuid.UUID `json:"last_run_id,omitempty"`

	// CreatedAt — время создания schedule.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSchedule создаёт включённый schedule для pipeline.
func NewSchedule(pipeline, cronExpr string) *Schedule {
	now := time.Now()
	return &Schedule{
		ID:        uuid.New(),
		Pipeline:  pipeline,
		CronExpr:  cronExpr,
		Timezone:  "UTC",
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsDue проверяет, пора ли запускать.
func (s *Schedule) IsDue(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if s.NextDueAt == nil {
		return false
	}
	return now.After(*s.NextDueAt) || now.Equal(*s.NextDueAt)
}

// RecordRun записывает информацию о запуске.
func (s *Schedule) RecordRun(runID uuid.UUID, nextDue time.Time) {
	now := time.Now()
	s.LastRunAt = &now
	s.LastRunID = &runID
	s.NextDueAt = &nextDue
	s.UpdatedAt = now
}
