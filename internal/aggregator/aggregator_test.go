package aggregator

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

func record(t *testing.T, label, payload string) domain.BenchmarkRecord {
	t.Helper()
	return domain.BenchmarkRecord{
		InstanceID: uuid.New(),
		Label:      label,
		Payload:    json.RawMessage(payload),
	}
}

func mustAdd(t *testing.T, a *Aggregator, rec domain.BenchmarkRecord) {
	t.Helper()
	if err := a.Add(rec); err != nil {
		t.Fatalf("add: %v", err)
	}
}

func TestAggregator_MergeConcatenatesLists(t *testing.T) {
	a := New()
	mustAdd(t, a, record(t, "pkg/engine",
		`{"benchmarks":[{"name":"Expand","ns":120}],"commit":"abc"}`))
	mustAdd(t, a, record(t, "pkg/engine",
		`{"benchmarks":[{"name":"Render","ns":45}],"commit":"def"}`))

	merged, err := a.Merge("pkg/engine")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	var doc struct {
		Benchmarks []map[string]any `json:"benchmarks"`
		Commit     string           `json:"commit"`
	}
	if err := json.Unmarshal(merged, &doc); err != nil {
		t.Fatalf("unmarshal merged: %v", err)
	}

	if len(doc.Benchmarks) != 2 {
		t.Fatalf("expected 2 concatenated entries, got %d", len(doc.Benchmarks))
	}
	if doc.Benchmarks[0]["name"] != "Expand" || doc.Benchmarks[1]["name"] != "Render" {
		t.Errorf("list order should follow record order: %v", doc.Benchmarks)
	}

	// Скалярное поле — из первой записи.
	if doc.Commit != "abc" {
		t.Errorf("expected scalar from first record, got %q", doc.Commit)
	}
}

func TestAggregator_MergeNestedLists(t *testing.T) {
	a := New()
	mustAdd(t, a, record(t, "suite",
		`{"meta":{"shards":["a"]},"results":[1]}`))
	mustAdd(t, a, record(t, "suite",
		`{"meta":{"shards":["b"]},"results":[2,3]}`))

	merged, err := a.Merge("suite")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}

	var doc struct {
		Meta struct {
			Shards []string `json:"shards"`
		} `json:"meta"`
		Results []json.Number `json:"results"`
	}
	if err := json.Unmarshal(merged, &doc); err != nil {
		t.Fatal(err)
	}

	if len(doc.Meta.Shards) != 2 {
		t.Errorf("nested lists should concatenate: %v", doc.Meta.Shards)
	}
	if len(doc.Results) != 3 {
		t.Errorf("top-level lists should concatenate: %v", doc.Results)
	}
}

func TestAggregator_NoRecordsIsNull(t *testing.T) {
	a := New()

	merged, err := a.Merge("absent")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if string(merged) != "null" {
		t.Errorf(`expected "null", got %s`, merged)
	}
}

func TestAggregator_AddRejectsBadRecords(t *testing.T) {
	a := New()

	if err := a.Add(record(t, "", `{}`)); err == nil {
		t.Error("empty label should be rejected")
	}
	if err := a.Add(record(t, "x", `{broken`)); err == nil {
		t.Error("invalid json payload should be rejected")
	}
}

func TestAggregator_MergeAll(t *testing.T) {
	a := New()
	mustAdd(t, a, record(t, "b", `{"items":[1]}`))
	mustAdd(t, a, record(t, "a", `{"items":[2]}`))

	all, err := a.MergeAll()
	if err != nil {
		t.Fatalf("merge all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 labels, got %d", len(all))
	}

	labels := a.Labels()
	if labels[0] != "a" || labels[1] != "b" {
		t.Errorf("labels should be sorted: %v", labels)
	}
}
