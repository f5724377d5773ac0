package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Registry — каталог загруженных pipelines по имени.
//
// Dispatcher и runner'ы резолвят определение pipeline по имени из
// run'а; источник — директория YAML-файлов, разделяемая сервисами.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[string]*domain.Pipeline
}

// NewRegistry создаёт пустой Registry.
func NewRegistry() *Registry {
	return &Registry{pipelines: make(map[string]*domain.Pipeline)}
}

// LoadDir загружает все определения из директории (*.yml, *.yaml).
// Возвращает Registry с валидированными pipelines.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read pipeline dir: %w", err)
	}

	r := NewRegistry()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yml" && ext != ".yaml" {
			continue
		}

		p, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if err := r.Add(p); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Add добавляет pipeline. Дубликат имени — ошибка.
func (r *Registry) Add(p *domain.Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pipelines[p.Name]; exists {
		return fmt.Errorf("duplicate pipeline name: %s", p.Name)
	}
	r.pipelines[p.Name] = p
	return nil
}

// Get возвращает pipeline по имени. nil, если не найден.
func (r *Registry) Get(name string) *domain.Pipeline {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pipelines[name]
}

// Names возвращает отсортированный список имён pipelines.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.pipelines))
	for name := range r.pipelines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len возвращает количество pipelines.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pipelines)
}
