package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewPipelineCmd создаёт группу команд для просмотра pipelines.
func NewPipelineCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Inspect loaded pipelines",
	}

	cmd.AddCommand(
		newPipelineListCmd(clientFn, outputFn),
		newPipelineShowCmd(clientFn, outputFn),
	)

	return cmd
}

func newPipelineListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pipelines, err := client.ListPipelines()
			if err != nil {
				return err
			}

			headers := []string{"NAME", "JOBS", "SCHEDULES"}
			rows := make([][]string, len(pipelines))
			for i, p := range pipelines {
				rows[i] = []string{p.Name, strconv.Itoa(p.Jobs), strings.Join(p.Schedules, ", ")}
			}

			out.Print(headers, rows, pipelines)
			return nil
		},
	}
}

func newPipelineShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show pipeline definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			p, err := client.GetPipeline(args[0])
			if err != nil {
				return err
			}

			headers := []string{"JOB", "NEEDS", "STEPS", "MATRIX", "FAIL_FAST", "CACHE"}
			rows := make([][]string, len(p.Jobs))
			for i, job := range p.Jobs {
				rows[i] = []string{
					job.ID,
					strings.Join(job.Needs, ","),
					strconv.Itoa(job.Steps),
					strconv.FormatBool(job.Matrix),
					strconv.FormatBool(job.FailFast),
					strconv.FormatBool(job.HasCache),
				}
			}

			out.Print(headers, rows, p)
			return nil
		},
	}
}
