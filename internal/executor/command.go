package executor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Имя переменной окружения с путём side-channel файла outputs.
// Шаг пишет туда строки "key=value"; движок читает их после
// завершения команды.
const outputEnvVar = "CONVEYOR_OUTPUT"

// CommandSpec — отрендеренная команда для выполнения.
type CommandSpec struct {
	// Command — команда после подстановки шаблонов.
	Command string

	// Dir — рабочая директория.
	Dir string

	// Env — переменные окружения, добавляемые к окружению процесса.
	Env map[string]string
}

// CommandResult — результат выполнения команды.
type CommandResult struct {
	// ExitCode — код выхода процесса.
	ExitCode int

	// Outputs — пары key=value из side-channel файла.
	Outputs map[string]string

	// Log — объединённый stdout+stderr команды.
	Log string
}

// CommandRunner — внешний collaborator, выполняющий shell-команды.
//
// Движок передаёт отрендеренную команду и окружение, получает код
// выхода и outputs. Реализация по умолчанию — ShellRunner; тесты
// подставляют фейк.
type CommandRunner interface {
	Run(ctx context.Context, spec CommandSpec) (*CommandResult, error)
}

// ShellRunner выполняет команды через "sh -c".
type ShellRunner struct{}

// NewShellRunner создаёт ShellRunner.
func NewShellRunner() *ShellRunner {
	return &ShellRunner{}
}

// Run реализует CommandRunner.
//
// Для каждой команды создаётся одноразовый side-channel файл;
// его путь передаётся команде через $CONVEYOR_OUTPUT. Контекст
// с истёкшим дедлайном убивает процесс (ctx.Err различает
// таймаут и отмену выше по стеку).
func (r *ShellRunner) Run(ctx context.Context, spec CommandSpec) (*CommandResult, error) {
	outFile, err := os.CreateTemp("", "conveyor-output-*")
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	outPath := outFile.Name()
	outFile.Close()
	defer os.Remove(outPath)

	cmd := exec.CommandContext(ctx, "sh", "-c", spec.Command)
	cmd.Dir = spec.Dir

	env := os.Environ()
	for key, val := range spec.Env {
		env = append(env, key+"="+val)
	}
	env = append(env, outputEnvVar+"="+outPath)
	cmd.Env = env

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else if ctx.Err() != nil {
			// Процесс убит по контексту: код выхода условный.
			exitCode = -1
		} else {
			return nil, fmt.Errorf("run command: %w", runErr)
		}
	}

	outputs, err := parseOutputs(outPath)
	if err != nil {
		return nil, err
	}

	return &CommandResult{
		ExitCode: exitCode,
		Outputs:  outputs,
		Log:      buf.String(),
	}, nil
}

// parseOutputs читает side-channel файл: строки "key=value".
// Пустые строки и строки без '=' игнорируются.
func parseOutputs(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read outputs: %w", err)
	}
	defer f.Close()

	outputs := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		outputs[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan outputs: %w", err)
	}

	if len(outputs) == 0 {
		return nil, nil
	}
	return outputs, nil
}
