package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// builtinFunc — встроенная функция выражений.
// Вычисление чистое относительно контекста; hashFiles читает
// файловую систему в момент вычисления (не загрузки).
type builtinFunc func(ctx *Context, args []any) (any, error)

// builtins — реестр встроенных функций.
var builtins = map[string]builtinFunc{
	"hashFiles":  fnHashFiles,
	"join":       fnJoin,
	"contains":   fnContains,
	"startsWith": fnStartsWith,
	"format":     fnFormat,
}

// fnHashFiles — hashFiles(glob, ...): blake3-хеш содержимого всех
// файлов, совпавших с glob-паттернами, относительно Workdir
// контекста. Порядок файлов фиксирован (сортировка путей), поэтому
// хеш детерминирован при одинаковом содержимом.
//
// Ни один файл не совпал — пустая строка (ключ кеша просто
// вырождается, это не ошибка).
func fnHashFiles(ctx *Context, args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: hashFiles requires at least one pattern", ErrExprSyntax)
	}

	var files []string
	for _, arg := range args {
		pattern := valueString(arg)
		matches, err := filepath.Glob(filepath.Join(ctx.Workdir, pattern))
		if err != nil {
			return nil, fmt.Errorf("hashFiles: bad pattern %q: %w", pattern, err)
		}
		files = append(files, matches...)
	}

	if len(files) == 0 {
		return "", nil
	}
	sort.Strings(files)

	h := blake3.New()
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil || info.IsDir() {
			continue
		}

		f, err := os.Open(file)
		if err != nil {
			return nil, fmt.Errorf("hashFiles: open %s: %w", file, err)
		}

		// Относительный путь участвует в хеше: перенос содержимого
		// между файлами меняет ключ.
		rel, relErr := filepath.Rel(ctx.Workdir, file)
		if relErr != nil {
			rel = file
		}
		io.WriteString(h, rel)
		h.Write([]byte{0})

		if _, err := io.Copy(h, f); err != nil {
			f.Close()
			return nil, fmt.Errorf("hashFiles: read %s: %w", file, err)
		}
		f.Close()
		h.Write([]byte{0})
	}

	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// fnJoin — join(sep, items...): объединяет строки разделителем.
func fnJoin(_ *Context, args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("%w: join requires a separator", ErrExprSyntax)
	}

	sep := valueString(args[0])
	items := make([]string, 0, len(args)-1)
	for _, arg := range args[1:] {
		items = append(items, valueString(arg))
	}
	return strings.Join(items, sep), nil
}

// fnContains — contains(haystack, needle).
func fnContains(_ *Context, args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: contains requires 2 arguments", ErrExprSyntax)
	}
	return strings.Contains(valueString(args[0]), valueString(args[1])), nil
}

// fnStartsWith — startsWith(s, prefix).
func fnStartsWith(_ *Context, args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: startsWith requires 2 arguments", ErrExprSyntax)
	}
	return strings.HasPrefix(valueString(args[0]), valueString(args[1])), nil
}

// fnFormat — format('x {0} y {1}', a, b): подстановка по индексам.
func fnFormat(_ *Context, args []any) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("%w: format requires a template", ErrExprSyntax)
	}

	result := valueString(args[0])
	for i, arg := range args[1:] {
		placeholder := fmt.Sprintf("{%d}", i)
		result = strings.ReplaceAll(result, placeholder, valueString(arg))
	}
	return result, nil
}
