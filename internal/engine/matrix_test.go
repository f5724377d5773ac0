package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
)

func axes(pairs ...any) *domain.MatrixSpec {
	spec := &domain.MatrixSpec{}
	for i := 0; i < len(pairs); i += 2 {
		spec.Axes = append(spec.Axes, domain.MatrixAxis{
			Name:   pairs[i].(string),
			Values: pairs[i+1].([]string),
		})
	}
	return spec
}

func TestExpandMatrix_Cartesian(t *testing.T) {
	spec := axes(
		"version", []string{"1", "2"},
		"os", []string{"x", "y"},
	)

	instances, err := ExpandMatrix(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(instances) != 4 {
		t.Fatalf("expected 4 instances, got %d", len(instances))
	}

	// Порядок детерминирован: последняя ось — младший разряд.
	expected := []string{"1,x", "1,y", "2,x", "2,y"}
	for i, inst := range instances {
		if inst.Key() != expected[i] {
			t.Errorf("instance %d: expected %q, got %q", i, expected[i], inst.Key())
		}
	}
}

func TestExpandMatrix_ProductSize(t *testing.T) {
	spec := axes(
		"a", []string{"1", "2", "3"},
		"b", []string{"x", "y"},
		"c", []string{"p", "q", "r", "s"},
	)

	instances, err := ExpandMatrix(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(instances) != 3*2*4 {
		t.Errorf("expected %d instances, got %d", 3*2*4, len(instances))
	}
}

func TestExpandMatrix_Exclude(t *testing.T) {
	spec := axes(
		"version", []string{"1", "2"},
		"os", []string{"x", "y"},
	)
	spec.Exclude = []map[string]string{
		{"version": "2", "os": "y"},
	}

	instances, err := ExpandMatrix(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(instances) != 3 {
		t.Fatalf("expected 3 instances, got %d", len(instances))
	}

	for _, inst := range instances {
		if inst.Get("version") == "2" && inst.Get("os") == "y" {
			t.Error("excluded combination (2,y) still present")
		}
	}
}

func TestExpandMatrix_ExcludePartialTuple(t *testing.T) {
	// Exclude по одной оси убирает все instances с этим значением,
	// независимо от остальных осей.
	spec := axes(
		"version", []string{"1", "2", "3"},
		"os", []string{"x", "y"},
	)
	spec.Exclude = []map[string]string{
		{"version": "2"},
	}

	instances, err := ExpandMatrix(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(instances) != 4 {
		t.Fatalf("expected 4 instances, got %d", len(instances))
	}

	for _, inst := range instances {
		if inst.Get("version") == "2" {
			t.Errorf("instance %s should be excluded", inst)
		}
	}
}

func TestExpandMatrix_AllExcluded(t *testing.T) {
	spec := axes("os", []string{"x", "y"})
	spec.Exclude = []map[string]string{
		{"os": "x"},
		{"os": "y"},
	}

	_, err := ExpandMatrix(spec)
	if !errors.Is(err, ErrMatrixEmpty) {
		t.Errorf("expected ErrMatrixEmpty, got %v", err)
	}
}

func TestExpandMatrix_EmptyAxis(t *testing.T) {
	spec := axes("os", []string{})

	_, err := ExpandMatrix(spec)
	if !errors.Is(err, ErrAxisEmpty) {
		t.Errorf("expected ErrAxisEmpty, got %v", err)
	}
}

func TestExpandMatrix_UnknownAxisInExclude(t *testing.T) {
	spec := axes("os", []string{"x"})
	spec.Exclude = []map[string]string{
		{"arch": "arm64"},
	}

	_, err := ExpandMatrix(spec)
	if !errors.Is(err, ErrUnknownAxis) {
		t.Errorf("expected ErrUnknownAxis, got %v", err)
	}
}

func TestExpandMatrix_NilMatrix(t *testing.T) {
	instances, err := ExpandMatrix(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("expected 1 instance for nil matrix, got %d", len(instances))
	}
	if instances[0].Key() != "" {
		t.Errorf("expected empty key, got %q", instances[0].Key())
	}
}

func TestExpandMatrix_IncludeExtends(t *testing.T) {
	spec := axes("os", []string{"x", "y"})
	spec.Include = []map[string]string{
		{"os": "x", "experimental": "true"},
	}

	instances, err := ExpandMatrix(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(instances) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(instances))
	}

	for _, inst := range instances {
		switch inst.Get("os") {
		case "x":
			if inst.Get("experimental") != "true" {
				t.Error("include should extend (x) with experimental=true")
			}
		case "y":
			if inst.Get("experimental") != "" {
				t.Error("include should not touch (y)")
			}
		}
	}
}

func TestExpandMatrix_IncludeAppends(t *testing.T) {
	spec := axes("os", []string{"x"})
	spec.Include = []map[string]string{
		{"os": "z"},
	}

	instances, err := ExpandMatrix(spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(instances) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(instances))
	}
	if instances[1].Get("os") != "z" {
		t.Errorf("expected appended instance with os=z, got %q", instances[1].Get("os"))
	}
}

func TestExpandMatrix_DuplicateAxis(t *testing.T) {
	spec := axes(
		"os", []string{"x"},
		"os", []string{"y"},
	)

	_, err := ExpandMatrix(spec)
	if !errors.Is(err, ErrDuplicateAxis) {
		t.Errorf("expected ErrDuplicateAxis, got %v", err)
	}
}
