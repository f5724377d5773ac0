package dispatcher

import (
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

func TestValidateCronExpr(t *testing.T) {
	valid := []string{"0 3 * * *", "*/30 * * * *", "15 6 * * 1"}
	for _, expr := range valid {
		if err := ValidateCronExpr(expr); err != nil {
			t.Errorf("expected %q to be valid: %v", expr, err)
		}
	}

	invalid := []string{"", "not a cron", "99 * * * *", "* * * *"}
	for _, expr := range invalid {
		if err := ValidateCronExpr(expr); err == nil {
			t.Errorf("expected %q to be invalid", expr)
		}
	}
}

func TestCalculateNextDue(t *testing.T) {
	sched := domain.NewSchedule("nightly", "0 3 * * *")
	from := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Date(2025, 6, 11, 3, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestCalculateNextDue_Timezone(t *testing.T) {
	sched := domain.NewSchedule("nightly", "0 3 * * *")
	sched.Timezone = "Europe/Berlin"

	// 12:00 UTC = 14:00 Berlin (лето) → следующий запуск 03:00 Berlin = 01:00 UTC
	from := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Date(2025, 6, 11, 1, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestCalculateNextDue_InvalidTimezone(t *testing.T) {
	sched := domain.NewSchedule("nightly", "*/30 * * * *")
	sched.Timezone = "Mars/Olympus"

	// Невалидный timezone не должен ломать расчёт (fallback на UTC)
	from := time.Date(2025, 6, 10, 12, 10, 0, 0, time.UTC)

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Date(2025, 6, 10, 12, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestCalculateNextDue_InvalidExpr(t *testing.T) {
	sched := domain.NewSchedule("broken", "not a cron")

	if _, err := CalculateNextDue(sched, time.Now()); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}

func TestNewCronScheduler_Defaults(t *testing.T) {
	c := NewCronScheduler(CronConfig{})

	if c.tickInterval != defaultTickInterval {
		t.Errorf("expected default tick interval %v, got %v", defaultTickInterval, c.tickInterval)
	}
	if c.batchSize != defaultCronBatch {
		t.Errorf("expected default batch size %d, got %d", defaultCronBatch, c.batchSize)
	}
}

func TestScheduleIsDue(t *testing.T) {
	sched := domain.NewSchedule("nightly", "0 3 * * *")
	now := time.Now()

	if sched.IsDue(now) {
		t.Error("schedule without next_due_at should not be due")
	}

	past := now.Add(-time.Minute)
	sched.NextDueAt = &past
	if !sched.IsDue(now) {
		t.Error("schedule with past next_due_at should be due")
	}

	sched.Enabled = false
	if sched.IsDue(now) {
		t.Error("disabled schedule should not be due")
	}
}
