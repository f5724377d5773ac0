package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

// BenchmarkRecord — артефакт бенчмарка одного job instance.
//
// Шаг записывает JSON-документ в артефакт-файл; runner поднимает
// его как BenchmarkRecord. Aggregator объединяет записи с одним
// Label в общий документ.
type BenchmarkRecord struct {
	// InstanceID — instance, породивший запись.
	InstanceID uuid.UUID `json:"instance_id"`

	// Label — ключ группировки (например, имя пакета).
	Label string `json:"label"`

	// Payload — вложенный JSON-документ бенчмарка.
	// Хранится сырым: движок не интерпретирует его содержимое,
	// кроме конкатенации списковых полей при merge.
	Payload json.RawMessage `json:"payload"`
}
