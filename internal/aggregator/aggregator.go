// Package aggregator собирает артефакты бенчмарков с job instances и
// объединяет записи одной группы в общий документ для отчётности.
package aggregator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Aggregator накапливает BenchmarkRecords по label.
//
// Потокобезопасен: runner'ы добавляют записи конкурентно по мере
// завершения instances.
type Aggregator struct {
	mu      sync.Mutex
	records map[string][]domain.BenchmarkRecord
}

// New создаёт пустой Aggregator.
func New() *Aggregator {
	return &Aggregator{
		records: make(map[string][]domain.BenchmarkRecord),
	}
}

// Add добавляет запись. Payload должен быть валидным JSON.
func (a *Aggregator) Add(rec domain.BenchmarkRecord) error {
	if rec.Label == "" {
		return fmt.Errorf("benchmark record: empty label")
	}
	if !json.Valid(rec.Payload) {
		return fmt.Errorf("benchmark record %q: payload is not valid json", rec.Label)
	}

	a.mu.Lock()
	a.records[rec.Label] = append(a.records[rec.Label], rec)
	a.mu.Unlock()
	return nil
}

// Labels возвращает отсортированный список известных labels.
func (a *Aggregator) Labels() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	labels := make([]string, 0, len(a.records))
	for label := range a.records {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Merge объединяет все записи label в один документ.
//
// Списковые поля конкатенируются рекурсивно по всей глубине
// документа (порядок — порядок добавления записей); скалярные поля
// берутся из первой записи. Отсутствие записей — JSON null: отличает
// "данных нет" от "данные пустые", downstream-отчёт может молча
// пропустить такой label.
func (a *Aggregator) Merge(label string) (json.RawMessage, error) {
	a.mu.Lock()
	recs := a.records[label]
	a.mu.Unlock()

	if len(recs) == 0 {
		return json.RawMessage("null"), nil
	}

	var merged any
	for i, rec := range recs {
		doc, err := decodePayload(rec.Payload)
		if err != nil {
			return nil, fmt.Errorf("record %d of %q: %w", i, label, err)
		}
		if i == 0 {
			merged = doc
			continue
		}
		merged = mergeDocs(merged, doc)
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal merged %q: %w", label, err)
	}
	return out, nil
}

// MergeAll возвращает объединённые документы всех labels.
func (a *Aggregator) MergeAll() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage)
	for _, label := range a.Labels() {
		doc, err := a.Merge(label)
		if err != nil {
			return nil, err
		}
		out[label] = doc
	}
	return out, nil
}

// decodePayload разбирает payload с сохранением числовых литералов.
func decodePayload(data json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return doc, nil
}

// mergeDocs объединяет два документа: списки конкатенируются,
// объекты сливаются по ключам, скаляры берутся из dst.
func mergeDocs(dst, src any) any {
	switch d := dst.(type) {
	case map[string]any:
		s, ok := src.(map[string]any)
		if !ok {
			return d
		}
		for key, val := range s {
			if cur, exists := d[key]; exists {
				d[key] = mergeDocs(cur, val)
			} else {
				d[key] = val
			}
		}
		return d

	case []any:
		if s, ok := src.([]any); ok {
			return append(d, s...)
		}
		return d

	default:
		return dst
	}
}
