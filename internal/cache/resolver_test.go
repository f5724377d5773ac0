package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

func exprContext(workdir string) *engine.Context {
	ctx := engine.NewContext(nil, nil, domain.MatrixInstance{
		Names:  []string{"go"},
		Values: map[string]string{"go": "1.22"},
	}, nil)
	ctx.Workdir = workdir
	return ctx
}

// failingStore имитирует недоступное хранилище.
type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("store down")
}
func (failingStore) Put(context.Context, string, []byte) error {
	return errors.New("store down")
}
func (failingStore) Exists(context.Context, string) (bool, error) {
	return false, errors.New("store down")
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolver_ResolveSaveResolve(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "go.sum", "deps v1\n")
	writeFile(t, dir, ".cache/mod/pkg.txt", "cached artifact")

	r := NewResolver(NewMemoryStore(), nil)
	ctx := context.Background()
	keyTmpl := "deps-${{ matrix.go }}-${{ hashFiles('go.sum') }}"

	// Первая резолюция — miss.
	lookup, err := r.Resolve(ctx, keyTmpl, exprContext(dir))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lookup.Hit {
		t.Error("first resolve should be a miss")
	}
	if lookup.Key == "" {
		t.Fatal("key should be rendered")
	}

	if err := r.Save(ctx, lookup.Key, dir, []string{".cache/mod"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Повторная резолюция с теми же входами — hit, ключ тот же.
	again, err := r.Resolve(ctx, keyTmpl, exprContext(dir))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !again.Hit {
		t.Error("second resolve should be a hit")
	}
	if again.Key != lookup.Key {
		t.Errorf("key not deterministic: %q vs %q", lookup.Key, again.Key)
	}
}

func TestResolver_RestoreRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, ".cache/mod/a.txt", "payload-a")
	writeFile(t, src, ".cache/mod/sub/b.txt", "payload-b")

	r := NewResolver(NewMemoryStore(), nil)
	ctx := context.Background()

	if err := r.Save(ctx, "k1", src, []string{".cache/mod"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	dst := t.TempDir()
	restored, err := r.Restore(ctx, "k1", dst)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !restored {
		t.Fatal("expected restore hit")
	}

	for name, want := range map[string]string{
		".cache/mod/a.txt":     "payload-a",
		".cache/mod/sub/b.txt": "payload-b",
	} {
		data, err := os.ReadFile(filepath.Join(dst, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(data) != want {
			t.Errorf("%s: expected %q, got %q", name, want, data)
		}
	}
}

func TestResolver_RestoreMissIsNotError(t *testing.T) {
	r := NewResolver(NewMemoryStore(), nil)

	restored, err := r.Restore(context.Background(), "absent", t.TempDir())
	if err != nil {
		t.Fatalf("miss should not be an error: %v", err)
	}
	if restored {
		t.Error("expected miss")
	}
}

func TestResolver_SecondSaveIsNoop(t *testing.T) {
	// Два writer'а с одинаковым ключом (идентичное содержимое
	// файлов): вторая запись подавляется, содержимое читается одно.
	dir := t.TempDir()
	writeFile(t, dir, ".cache/x.txt", "identical")

	store := NewMemoryStore()
	r := NewResolver(store, nil)
	ctx := context.Background()

	if err := r.Save(ctx, "same-key", dir, []string{".cache"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Save(ctx, "same-key", dir, []string{".cache"}); err != nil {
		t.Fatal(err)
	}

	if store.Len() != 1 {
		t.Errorf("expected 1 blob, got %d", store.Len())
	}

	dst := t.TempDir()
	if _, err := r.Restore(ctx, "same-key", dst); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dst, ".cache/x.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "identical" {
		t.Errorf("unexpected content: %q", data)
	}
}

func TestResolver_StoreUnavailableDegradesToMiss(t *testing.T) {
	r := NewResolver(failingStore{}, nil)
	ctx := context.Background()

	lookup, err := r.Resolve(ctx, "static-key", exprContext(t.TempDir()))
	if err != nil {
		t.Fatalf("store failure must not be fatal: %v", err)
	}
	if lookup.Hit {
		t.Error("unavailable store should report miss")
	}

	restored, err := r.Restore(ctx, "static-key", t.TempDir())
	if err != nil || restored {
		t.Errorf("restore against dead store should be silent miss, got %v/%v", restored, err)
	}
}

func TestResolver_BadKeyTemplateIsFatal(t *testing.T) {
	r := NewResolver(NewMemoryStore(), nil)

	_, err := r.Resolve(context.Background(), "key-${{ broken", exprContext(t.TempDir()))
	if !errors.Is(err, engine.ErrExprSyntax) {
		t.Errorf("expected ErrExprSyntax, got %v", err)
	}
}

func TestDirStore(t *testing.T) {
	store, err := NewDirStore(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	ok, err := store.Exists(ctx, "deps-${{ weird/key }}")
	if err != nil || ok {
		t.Fatalf("fresh store should be empty: %v/%v", ok, err)
	}

	if err := store.Put(ctx, "deps-${{ weird/key }}", []byte("blob")); err != nil {
		t.Fatal(err)
	}

	data, ok, err := store.Get(ctx, "deps-${{ weird/key }}")
	if err != nil || !ok {
		t.Fatalf("expected hit: %v/%v", ok, err)
	}
	if string(data) != "blob" {
		t.Errorf("unexpected content: %q", data)
	}
}
