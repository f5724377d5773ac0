// Package config загружает определения pipelines из YAML-файлов.
//
// Формат файла — внешний контракт движка; после разбора движок
// работает только с domain.Pipeline. Порядок осей матрицы и jobs
// сохраняется как объявлено (он определяет детерминированные имена
// instances).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/engine"
)

// pipelineFile — YAML-представление pipeline.
type pipelineFile struct {
	Name      string            `yaml:"name"`
	Env       map[string]string `yaml:"env"`
	Schedules []string          `yaml:"schedules"`
	Jobs      []jobFile         `yaml:"jobs"`
}

type jobFile struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	Needs      []string          `yaml:"needs"`
	Matrix     *matrixFile       `yaml:"matrix"`
	Env        map[string]string `yaml:"env"`
	FailFast   *bool             `yaml:"fail_fast"`
	Cache      *cacheFile        `yaml:"cache"`
	TimeoutSec int               `yaml:"timeout_sec"`
	Steps      []stepFile        `yaml:"steps"`
}

type stepFile struct {
	ID              string            `yaml:"id"`
	Name            string            `yaml:"name"`
	If              string            `yaml:"if"`
	Run             string            `yaml:"run"`
	Env             map[string]string `yaml:"env"`
	With            map[string]string `yaml:"with"`
	ContinueOnError bool              `yaml:"continue_on_error"`
	TimeoutSec      int               `yaml:"timeout_sec"`
}

type cacheFile struct {
	Key   string   `yaml:"key"`
	Paths []string `yaml:"paths"`
}

// matrixFile — матрица в YAML. Axes объявляются mapping'ом; порядок
// ключей важен, поэтому разбор идёт через yaml.Node, а не map.
type matrixFile struct {
	Axes    []domain.MatrixAxis
	Exclude []map[string]string
	Include []map[string]string
}

// UnmarshalYAML реализует разбор матрицы с сохранением порядка осей.
func (m *matrixFile) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("matrix must be a mapping")
	}

	for i := 0; i < len(node.Content); i += 2 {
		keyNode := node.Content[i]
		valNode := node.Content[i+1]

		switch keyNode.Value {
		case "exclude":
			if err := valNode.Decode(&m.Exclude); err != nil {
				return fmt.Errorf("matrix exclude: %w", err)
			}

		case "include":
			if err := valNode.Decode(&m.Include); err != nil {
				return fmt.Errorf("matrix include: %w", err)
			}

		case "axes":
			if valNode.Kind != yaml.MappingNode {
				return fmt.Errorf("matrix axes must be a mapping")
			}
			for j := 0; j < len(valNode.Content); j += 2 {
				axisName := valNode.Content[j].Value
				var values []string
				if err := valNode.Content[j+1].Decode(&values); err != nil {
					return fmt.Errorf("matrix axis %q: %w", axisName, err)
				}
				m.Axes = append(m.Axes, domain.MatrixAxis{
					Name:   axisName,
					Values: values,
				})
			}

		default:
			return fmt.Errorf("matrix: unknown key %q", keyNode.Value)
		}
	}

	return nil
}

// Load читает и валидирует pipeline из файла.
//
// Имя pipeline по умолчанию — имя файла без расширения.
func Load(path string) (*domain.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}

	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if p.Name == "" {
		base := filepath.Base(path)
		p.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	return p, nil
}

// Parse разбирает и валидирует pipeline из YAML.
func Parse(data []byte) (*domain.Pipeline, error) {
	var file pipelineFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	p := &domain.Pipeline{
		Name:      file.Name,
		Env:       file.Env,
		Schedules: file.Schedules,
		Jobs:      make([]domain.JobDef, 0, len(file.Jobs)),
	}

	for _, j := range file.Jobs {
		job := domain.JobDef{
			ID:         j.ID,
			Name:       j.Name,
			Needs:      j.Needs,
			Env:        j.Env,
			FailFast:   j.FailFast,
			TimeoutSec: j.TimeoutSec,
		}

		if j.Matrix != nil {
			job.Matrix = &domain.MatrixSpec{
				Axes:    j.Matrix.Axes,
				Exclude: j.Matrix.Exclude,
				Include: j.Matrix.Include,
			}
		}

		if j.Cache != nil {
			job.Cache = &domain.CacheSpec{
				Key:   j.Cache.Key,
				Paths: j.Cache.Paths,
			}
		}

		for _, s := range j.Steps {
			job.Steps = append(job.Steps, domain.StepDef{
				ID:              s.ID,
				Name:            s.Name,
				If:              s.If,
				Run:             s.Run,
				Env:             s.Env,
				With:            s.With,
				ContinueOnError: s.ContinueOnError,
				TimeoutSec:      s.TimeoutSec,
			})
		}

		p.Jobs = append(p.Jobs, job)
	}

	if err := engine.Validate(p); err != nil {
		return nil, err
	}

	return p, nil
}
