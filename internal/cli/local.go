package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/cache"
	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
	"github.com/shaiso/Conveyor/internal/executor"
	"github.com/shaiso/Conveyor/internal/scheduler"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// secretPrefix — переменные окружения с этим префиксом становятся
// секретами локального запуска: CONVEYOR_SECRET_TOKEN → secrets.TOKEN.
const secretPrefix = "CONVEYOR_SECRET_"

// NewExecCmd создаёт команду локального выполнения pipeline.
func NewExecCmd(outputFn func() *Output) *cobra.Command {
	var workers int
	var envFlags []string
	var cacheDir string
	var workDir string

	cmd := &cobra.Command{
		Use:   "exec FILE",
		Short: "Execute a pipeline locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			p, err := config.Load(args[0])
			if err != nil {
				return err
			}

			env, err := parseEnvFlags(envFlags)
			if err != nil {
				return err
			}

			exec, err := buildLocalExecutor(cacheDir)
			if err != nil {
				return err
			}

			s, err := scheduler.New(scheduler.Config{
				Executor: exec,
				Workers:  workers,
				BaseDir:  workDir,
				Secrets:  secretsFromEnv(),
				Logger:   telemetry.SetupLogger(),
			})
			if err != nil {
				return err
			}

			result, err := s.Run(cmd.Context(), p, domain.TriggerManual, env)
			if err != nil {
				return err
			}

			printResult(out, result)

			if result.Failed() {
				return fmt.Errorf("run failed: %s", result.Run.Error)
			}
			out.Success(fmt.Sprintf("Run succeeded: %s", result.Run.ID))
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "Number of parallel instances (default: GOMAXPROCS)")
	cmd.Flags().StringSliceVar(&envFlags, "env", nil, "Environment overrides as KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Directory for the step cache (disabled if empty)")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "Base directory for instance workdirs")

	return cmd
}

// NewValidateCmd создаёт команду проверки определения pipeline.
func NewValidateCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Validate pipeline definitions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			var failed bool
			for _, path := range args {
				p, err := config.Load(path)
				if err == nil {
					err = engine.Validate(p)
				}
				if err != nil {
					failed = true
					out.Error(fmt.Sprintf("%s: %v", path, err))
					continue
				}
				out.Success(fmt.Sprintf("%s: ok (%s, %d jobs)", path, p.Name, len(p.Jobs)))
			}

			if failed {
				return fmt.Errorf("validation failed")
			}
			return nil
		},
	}
}

// NewJobsCmd создаёт команду раскрытия матриц без выполнения.
func NewJobsCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs FILE",
		Short: "Show expanded job instances without executing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			p, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := engine.Validate(p); err != nil {
				return err
			}

			graph, err := engine.BuildJobGraph(p)
			if err != nil {
				return err
			}

			type jobRow struct {
				Job    string            `json:"job"`
				Name   string            `json:"name"`
				Needs  []string          `json:"needs,omitempty"`
				Matrix map[string]string `json:"matrix,omitempty"`
			}

			var rowsData []jobRow
			previewID := uuid.New()
			for _, node := range graph.Order {
				matrices, err := engine.ExpandMatrix(node.Job.Matrix)
				if err != nil {
					return err
				}
				for _, m := range matrices {
					inst := domain.NewJobInstance(previewID, node.Job, m)
					rowsData = append(rowsData, jobRow{
						Job:    node.ID,
						Name:   inst.Name,
						Needs:  node.Job.Needs,
						Matrix: m.Values,
					})
				}
			}

			headers := []string{"JOB", "INSTANCE", "NEEDS"}
			rows := make([][]string, len(rowsData))
			for i, r := range rowsData {
				rows[i] = []string{r.Job, r.Name, strings.Join(r.Needs, ",")}
			}

			out.Print(headers, rows, rowsData)
			return nil
		},
	}
}

// buildLocalExecutor собирает executor с shell runner'ом и файловым
// кешем.
func buildLocalExecutor(cacheDir string) (*executor.Executor, error) {
	logger := telemetry.SetupLogger()

	var resolver *cache.Resolver
	if cacheDir != "" {
		store, err := cache.NewDirStore(cacheDir)
		if err != nil {
			return nil, err
		}
		resolver = cache.NewResolver(store, logger)
	}

	return executor.New(executor.Config{
		Runner: executor.NewShellRunner(),
		Cache:  resolver,
		Logger: logger,
	})
}

// printResult печатает таблицу instances по итогам локального run.
func printResult(out *Output, result *scheduler.Result) {
	headers := []string{"INSTANCE", "STATUS", "DURATION", "ERROR"}
	rows := make([][]string, len(result.Instances))
	for i, inst := range result.Instances {
		rows[i] = []string{
			inst.Name,
			string(inst.Status),
			inst.Duration().Truncate(time.Millisecond).String(),
			inst.Error,
		}
	}
	out.Print(headers, rows, result.Instances)
}

// parseEnvFlags разбирает флаги --env KEY=VALUE.
func parseEnvFlags(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}

	env := make(map[string]string, len(flags))
	for _, kv := range flags {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid env format %q, expected KEY=VALUE", kv)
		}
		env[parts[0]] = parts[1]
	}
	return env, nil
}

// secretsFromEnv собирает секреты из окружения процесса.
func secretsFromEnv() map[string]string {
	secrets := make(map[string]string)
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, secretPrefix) {
			continue
		}
		parts := strings.SplitN(strings.TrimPrefix(kv, secretPrefix), "=", 2)
		if len(parts) == 2 && parts[0] != "" {
			secrets[parts[0]] = parts[1]
		}
	}
	return secrets
}
