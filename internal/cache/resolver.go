// Package cache реализует кеширование рабочих директорий jobs.
//
// Схема restore-with-fallback-to-save:
//   - resolve: шаблон ключа рендерится (hashFiles считается в момент
//     резолюции по текущему дереву), проверяется hit/miss
//   - restore при hit: blob распаковывается в рабочую директорию
//   - save после завершения job при miss; hit подавляет save
//
// Недоступность хранилища не фатальна — движок деградирует до
// поведения miss, job выполняется без кеша.
package cache

import (
	"context"
	"log/slog"

	"github.com/shaiso/Conveyor/internal/engine"
)

// Lookup — результат резолюции ключа кеша.
type Lookup struct {
	// Key — отрендеренный ключ.
	Key string

	// Hit — true, если blob с таким ключом есть в хранилище.
	Hit bool
}

// Resolver резолвит, восстанавливает и сохраняет кеши.
type Resolver struct {
	store  Store
	logger *slog.Logger
}

// NewResolver создаёт Resolver поверх хранилища.
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve рендерит шаблон ключа и проверяет наличие blob.
//
// Ошибка рендеринга (синтаксис шаблона) фатальна для job instance.
// Ошибка хранилища — нет: возвращается miss, job идёт без кеша.
func (r *Resolver) Resolve(ctx context.Context, keyTemplate string, ectx *engine.Context) (Lookup, error) {
	key, err := engine.Render(keyTemplate, ectx)
	if err != nil {
		return Lookup{}, err
	}

	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		r.logger.Warn("cache store unavailable, treating as miss",
			"key", key,
			"error", err,
		)
		return Lookup{Key: key, Hit: false}, nil
	}

	return Lookup{Key: key, Hit: exists}, nil
}

// Restore распаковывает blob ключа в dir.
//
// Miss — не ошибка, а сигнал выполнять job без пред-населённого
// кеша. Возвращает true, если кеш был восстановлен.
func (r *Resolver) Restore(ctx context.Context, key, dir string) (bool, error) {
	data, ok, err := r.store.Get(ctx, key)
	if err != nil {
		r.logger.Warn("cache restore failed, proceeding without cache",
			"key", key,
			"error", err,
		)
		return false, nil
	}
	if !ok {
		return false, nil
	}

	if err := Unpack(data, dir); err != nil {
		// Повреждённый blob приравнивается к miss.
		r.logger.Warn("cache blob unpack failed, proceeding without cache",
			"key", key,
			"error", err,
		)
		return false, nil
	}

	r.logger.Debug("cache restored", "key", key, "bytes", len(data))
	return true, nil
}

// Save упаковывает paths из dir и кладёт blob под ключ.
//
// Существующий ключ не перезаписывается: ключи выводятся из
// content-хешей, совпадение ключа означает идентичное содержимое —
// повторная запись была бы избыточной (второй writer — no-op).
// Ошибки хранилища не фатальны.
func (r *Resolver) Save(ctx context.Context, key, dir string, paths []string) error {
	exists, err := r.store.Exists(ctx, key)
	if err == nil && exists {
		r.logger.Debug("cache key already present, skipping save", "key", key)
		return nil
	}

	data, err := Pack(dir, paths)
	if err != nil {
		return err
	}

	if err := r.store.Put(ctx, key, data); err != nil {
		r.logger.Warn("cache save failed",
			"key", key,
			"error", err,
		)
		return nil
	}

	r.logger.Debug("cache saved", "key", key, "bytes", len(data))
	return nil
}
