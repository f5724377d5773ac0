package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store — внешнее key-value blob-хранилище кеша.
//
// Реализации: MemoryStore (тесты), DirStore (локальный диск),
// repo.CacheRepo (PostgreSQL). Вытеснение записей — забота
// хранилища, движок записи не удаляет.
type Store interface {
	// Get возвращает blob по ключу. Второй результат — false,
	// если ключа нет (это не ошибка).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put сохраняет blob. Перезапись существующего ключа —
	// last-writer-wins.
	Put(ctx context.Context, key string, data []byte) error

	// Exists проверяет наличие ключа без чтения blob.
	Exists(ctx context.Context, key string) (bool, error)
}

// MemoryStore — потокобезопасное хранилище в памяти.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore создаёт пустое in-memory хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Get реализует Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.blobs[key]
	if !ok {
		return nil, false, nil
	}
	// Копия: хранилище не должно делить память с читателем.
	out := make([]byte, len(data))
	copy(out, data)
	return out, true, nil
}

// Put реализует Store.
func (s *MemoryStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	s.blobs[key] = stored
	return nil
}

// Exists реализует Store.
func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[key]
	return ok, nil
}

// Len возвращает количество записей (для тестов).
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// DirStore — хранилище в директории на диске.
// Ключ кодируется в имя файла; записи переживают рестарт движка.
type DirStore struct {
	dir string
}

// NewDirStore создаёт хранилище в указанной директории.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &DirStore{dir: dir}, nil
}

// path — путь файла для ключа. Символы вне [a-zA-Z0-9._-]
// заменяются, чтобы ключ был безопасным именем файла.
func (s *DirStore) path(key string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		default:
			return '_'
		}
	}, key)
	return filepath.Join(s.dir, safe+".blob")
}

// Get реализует Store.
func (s *DirStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache blob: %w", err)
	}
	return data, true, nil
}

// Put реализует Store.
func (s *DirStore) Put(_ context.Context, key string, data []byte) error {
	// Запись через временный файл: читатели не видят частичный blob.
	tmp, err := os.CreateTemp(s.dir, "put-*")
	if err != nil {
		return fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write cache blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cache blob: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return fmt.Errorf("store cache blob: %w", err)
	}
	return nil
}

// Exists реализует Store.
func (s *DirStore) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
