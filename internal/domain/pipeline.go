package domain

// Pipeline — декларативное определение CI pipeline.
//
// Pipeline иммутабелен после загрузки: движок читает определение и
// порождает из него runs, но никогда не модифицирует сам pipeline.
// Порядок jobs и осей матрицы — порядок декларации; он определяет
// детерминированные имена instances.
type Pipeline struct {
	// Name — имя pipeline (по умолчанию — имя файла).
	Name string `json:"name"`

	// Env — переменные окружения уровня pipeline.
	Env map[string]string `json:"env,omitempty"`

	// Schedules — cron-выражения автоматического запуска.
	Schedules []string `json:"schedules,omitempty"`

	// Jobs — jobs в порядке декларации.
	Jobs []JobDef `json:"jobs"`
}

// Job возвращает определение job по ID. nil, если job нет.
func (p *Pipeline) Job(id string) *JobDef {
	for i := range p.Jobs {
		if p.Jobs[i].ID == id {
			return &p.Jobs[i]
		}
	}
	return nil
}

// JobDef — определение одного job внутри pipeline.
type JobDef struct {
	// ID — уникальный в pipeline идентификатор job.
	ID string `json:"id"`

	// Name — человекочитаемое имя. Пустое — используется ID.
	Name string `json:"name,omitempty"`

	// Needs — IDs jobs, которые должны успешно завершиться до
	// запуска этого job.
	Needs []string `json:"needs,omitempty"`

	// Matrix — матрица параметризации. nil — один instance.
	Matrix *MatrixSpec `json:"matrix,omitempty"`

	// Env — переменные окружения уровня job.
	// Перекрывают одноимённые переменные pipeline.
	Env map[string]string `json:"env,omitempty"`

	// FailFast — останавливать ли остальные instances job при
	// первом падении. nil трактуется как true.
	FailFast *bool `json:"fail_fast,omitempty"`

	// Cache — настройка кеша рабочей директории. nil — без кеша.
	Cache *CacheSpec `json:"cache,omitempty"`

	// TimeoutSec — таймаут шага по умолчанию в секундах.
	// 0 — без таймаута.
	TimeoutSec int `json:"timeout_sec,omitempty"`

	// Steps — шаги job в порядке выполнения.
	Steps []StepDef `json:"steps"`
}

// IsFailFast возвращает эффективное значение fail-fast.
func (j *JobDef) IsFailFast() bool {
	if j.FailFast == nil {
		return true
	}
	return *j.FailFast
}

// DisplayName возвращает имя job для отчётов.
func (j *JobDef) DisplayName() string {
	if j.Name != "" {
		return j.Name
	}
	return j.ID
}

// MatrixSpec — декларация матрицы параметризации job.
type MatrixSpec struct {
	// Axes — оси в порядке декларации.
	Axes []MatrixAxis `json:"axes"`

	// Exclude — правила исключения. Правило с подмножеством осей
	// исключает все комбинации, согласующиеся с ним по заданным осям.
	Exclude []map[string]string `json:"exclude,omitempty"`

	// Include — дополнительные комбинации. Include, согласующийся
	// с существующей комбинацией по общим осям, расширяет её;
	// не согласующийся ни с одной — добавляется новым instance.
	Include []map[string]string `json:"include,omitempty"`
}

// MatrixAxis — одна ось матрицы.
type MatrixAxis struct {
	// Name — имя оси.
	Name string `json:"name"`

	// Values — значения оси в порядке декларации.
	Values []string `json:"values"`
}

// StepDef — определение одного шага job.
type StepDef struct {
	// ID — идентификатор шага. Пустой допустим: на такой шаг
	// нельзя сослаться через steps.*.
	ID string `json:"id,omitempty"`

	// Name — имя шага для отчётов.
	Name string `json:"name,omitempty"`

	// If — guard-выражение. Пустое — шаг выполняется всегда.
	If string `json:"if,omitempty"`

	// Run — shell-команда. Поддерживает подстановки ${{ }}.
	Run string `json:"run"`

	// Env — переменные окружения шага. Перекрывают job и pipeline.
	Env map[string]string `json:"env,omitempty"`

	// With — произвольные параметры шага. Рендерятся вместе
	// с командой и передаются в окружение как INPUT_<KEY>.
	With map[string]string `json:"with,omitempty"`

	// ContinueOnError — падение шага не валит instance и не
	// прерывает последующие шаги.
	ContinueOnError bool `json:"continue_on_error,omitempty"`

	// TimeoutSec — таймаут шага в секундах. 0 — берётся таймаут job.
	TimeoutSec int `json:"timeout_sec,omitempty"`
}

// DisplayName возвращает имя шага для отчётов.
func (s *StepDef) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.ID != "" {
		return s.ID
	}
	return s.Run
}

// CacheSpec — настройка кеша рабочей директории job.
type CacheSpec struct {
	// Key — шаблон ключа кеша (поддерживает ${{ }} и hashFiles).
	Key string `json:"key"`

	// Paths — пути внутри рабочей директории, попадающие в кеш.
	Paths []string `json:"paths"`
}
