package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conveyor/internal/domain"
)

// InstanceRepo — репозиторий для работы с job instances.
type InstanceRepo struct {
	pool *pgxpool.Pool
}

// NewInstanceRepo создаёт новый InstanceRepo.
func NewInstanceRepo(pool *pgxpool.Pool) *InstanceRepo {
	return &InstanceRepo{pool: pool}
}

// Create создаёт новый instance.
func (r *InstanceRepo) Create(ctx context.Context, inst *domain.JobInstance) error {
	matrixJSON, err := json.Marshal(inst.Matrix)
	if err != nil {
		return fmt.Errorf("marshal matrix: %w", err)
	}

	query := `
		INSERT INTO job_instances (id, run_id, job_id, name, matrix, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query,
		inst.ID,
		inst.RunID,
		inst.JobID,
		inst.Name,
		matrixJSON,
		inst.Status,
		inst.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

// CreateBatch создаёт все instances run'а одной транзакцией.
// Раскрытие матрицы атомарно: либо виден весь набор, либо никакой.
func (r *InstanceRepo) CreateBatch(ctx context.Context, instances []*domain.JobInstance) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO job_instances (id, run_id, job_id, name, matrix, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for _, inst := range instances {
		matrixJSON, err := json.Marshal(inst.Matrix)
		if err != nil {
			return fmt.Errorf("marshal matrix: %w", err)
		}
		if _, err := tx.Exec(ctx, query,
			inst.ID,
			inst.RunID,
			inst.JobID,
			inst.Name,
			matrixJSON,
			inst.Status,
			inst.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert instance %s: %w", inst.Name, err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID возвращает instance по ID.
func (r *InstanceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.JobInstance, error) {
	query := `
		SELECT id, run_id, job_id, name, matrix, status, steps, cache_hit,
		       started_at, finished_at, error, created_at
		FROM job_instances
		WHERE id = $1
	`
	return scanInstance(r.pool.QueryRow(ctx, query, id))
}

// ListByRun возвращает все instances run'а в порядке создания.
func (r *InstanceRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.JobInstance, error) {
	query := `
		SELECT id, run_id, job_id, name, matrix, status, steps, cache_hit,
		       started_at, finished_at, error, created_at
		FROM job_instances
		WHERE run_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	defer rows.Close()

	var instances []domain.JobInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		instances = append(instances, *inst)
	}
	return instances, rows.Err()
}

// Update обновляет статус и результаты instance.
func (r *InstanceRepo) Update(ctx context.Context, inst *domain.JobInstance) error {
	stepsJSON, err := json.Marshal(inst.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	query := `
		UPDATE job_instances
		SET status = $2, steps = $3, cache_hit = $4,
		    started_at = $5, finished_at = $6, error = $7
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		inst.ID,
		inst.Status,
		stepsJSON,
		inst.CacheHit,
		inst.StartedAt,
		inst.FinishedAt,
		nullString(inst.Error),
	)
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkSkippedPending помечает все PENDING instances run'а как
// SKIPPED. Используется dispatcher'ом при fail-fast: не розданные
// instances пропускаются, выполняющиеся дорабатывают.
func (r *InstanceRepo) MarkSkippedPending(ctx context.Context, runID uuid.UUID, reason string) (int64, error) {
	query := `
		UPDATE job_instances
		SET status = 'SKIPPED', finished_at = now(), error = $2
		WHERE run_id = $1 AND status = 'PENDING'
	`
	result, err := r.pool.Exec(ctx, query, runID, reason)
	if err != nil {
		return 0, fmt.Errorf("mark skipped: %w", err)
	}
	return result.RowsAffected(), nil
}

// CountUnfinished возвращает количество незавершённых instances run'а.
func (r *InstanceRepo) CountUnfinished(ctx context.Context, runID uuid.UUID) (int, error) {
	query := `
		SELECT count(*)
		FROM job_instances
		WHERE run_id = $1 AND status IN ('PENDING', 'RUNNING')
	`
	var count int
	if err := r.pool.QueryRow(ctx, query, runID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unfinished: %w", err)
	}
	return count, nil
}

// scanInstance сканирует строку в JobInstance.
func scanInstance(row pgx.Row) (*domain.JobInstance, error) {
	var inst domain.JobInstance
	var matrixJSON []byte
	var stepsJSON []byte
	var instError *string

	err := row.Scan(
		&inst.ID,
		&inst.RunID,
		&inst.JobID,
		&inst.Name,
		&matrixJSON,
		&inst.Status,
		&stepsJSON,
		&inst.CacheHit,
		&inst.StartedAt,
		&inst.FinishedAt,
		&instError,
		&inst.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan instance: %w", err)
	}

	if matrixJSON != nil {
		if err := json.Unmarshal(matrixJSON, &inst.Matrix); err != nil {
			return nil, fmt.Errorf("unmarshal matrix: %w", err)
		}
	}
	if stepsJSON != nil {
		if err := json.Unmarshal(stepsJSON, &inst.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps: %w", err)
		}
	}
	if instError != nil {
		inst.Error = *instError
	}

	return &inst, nil
}
