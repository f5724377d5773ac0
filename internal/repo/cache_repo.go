package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CacheRepo хранит blobs кеша в таблице cache_blobs (bytea).
//
// Реализует cache.Store: разделяемое хранилище кеша для
// распределённых runner'ов.
type CacheRepo struct {
	pool *pgxpool.Pool
}

// NewCacheRepo создаёт новый CacheRepo.
func NewCacheRepo(pool *pgxpool.Pool) *CacheRepo {
	return &CacheRepo{pool: pool}
}

// Get возвращает blob по ключу. Второй результат — признак наличия.
func (r *CacheRepo) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query := `SELECT data FROM cache_blobs WHERE key = $1`

	var data []byte
	err := r.pool.QueryRow(ctx, query, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cache blob: %w", err)
	}
	return data, true, nil
}

// Put сохраняет blob под ключом. Повторная запись того же ключа —
// no-op: ключи выводятся из content-хешей, содержимое идентично.
func (r *CacheRepo) Put(ctx context.Context, key string, data []byte) error {
	query := `
		INSERT INTO cache_blobs (key, data, size_bytes, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (key) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query, key, data, len(data)); err != nil {
		return fmt.Errorf("put cache blob: %w", err)
	}
	return nil
}

// Exists проверяет наличие ключа.
func (r *CacheRepo) Exists(ctx context.Context, key string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM cache_blobs WHERE key = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, key).Scan(&exists); err != nil {
		return false, fmt.Errorf("check cache blob: %w", err)
	}
	return exists, nil
}

// Prune удаляет blobs старше ttlDays. Возвращает число удалённых.
func (r *CacheRepo) Prune(ctx context.Context, ttlDays int) (int64, error) {
	query := `
		DELETE FROM cache_blobs
		WHERE created_at < now() - make_interval(days => $1)
	`
	result, err := r.pool.Exec(ctx, query, ttlDays)
	if err != nil {
		return 0, fmt.Errorf("prune cache blobs: %w", err)
	}
	return result.RowsAffected(), nil
}
