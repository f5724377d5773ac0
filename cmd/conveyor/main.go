// Conveyor CLI — инструмент командной строки для локального
// выполнения pipelines и управления runs через HTTP API.
//
// Использование:
//
//	conveyor [--api-url URL] [--json] <command> [flags]
//
// Локальные команды:
//
//	exec      Выполнить pipeline локально
//	validate  Проверить определения pipelines
//	jobs      Показать раскрытые instances без выполнения
//	bench     Объединить бенчмарк-записи
//
// Команды через API:
//
//	run       Управление runs
//	pipeline  Просмотр загруженных pipelines
//	schedule  Управление schedules
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "conveyor",
		Short:         "Conveyor CLI — pipeline execution tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewExecCmd(outputFn),
		cli.NewValidateCmd(outputFn),
		cli.NewJobsCmd(outputFn),
		cli.NewBenchCmd(outputFn),
		cli.NewRunCmd(clientFn, outputFn),
		cli.NewPipelineCmd(clientFn, outputFn),
		cli.NewScheduleCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
