package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/aggregator"
	"github.com/shaiso/Conveyor/internal/domain"
)

// NewBenchCmd создаёт группу команд для работы с бенчмарк-записями.
func NewBenchCmd(outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Aggregate benchmark records",
	}

	cmd.AddCommand(newBenchMergeCmd(outputFn))

	return cmd
}

// newBenchMergeCmd объединяет записи из файлов по label.
//
// Каждый файл — JSON-массив BenchmarkRecord либо одиночная запись.
// Результат: объект label → объединённый документ.
func newBenchMergeCmd(outputFn func() *Output) *cobra.Command {
	var label string

	cmd := &cobra.Command{
		Use:   "merge FILE...",
		Short: "Merge benchmark records by label",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			agg := aggregator.New()
			for _, path := range args {
				records, err := readRecords(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				for _, rec := range records {
					if err := agg.Add(rec); err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
				}
			}

			if label != "" {
				merged, err := agg.Merge(label)
				if err != nil {
					return err
				}
				out.Raw(merged)
				return nil
			}

			merged, err := agg.MergeAll()
			if err != nil {
				return err
			}
			out.JSON(merged)
			return nil
		},
	}

	cmd.Flags().StringVar(&label, "label", "", "Merge only records with this label")

	return cmd
}

// readRecords читает записи из файла: массив или одиночный объект.
func readRecords(path string) ([]domain.BenchmarkRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var records []domain.BenchmarkRecord
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}

	var single domain.BenchmarkRecord
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("invalid benchmark records: %w", err)
	}
	return []domain.BenchmarkRecord{single}, nil
}
