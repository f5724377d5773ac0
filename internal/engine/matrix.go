package engine

import (
	"fmt"
	"sort"

	"github.com/shaiso/Conveyor/internal/domain"
)

// ExpandMatrix раскрывает декларацию матрицы в набор MatrixInstance.
//
// Алгоритм:
//  1. Декартово произведение осей в порядке декларации
//     (порядок определяет детерминированные имена instances).
//  2. Удаление instances, совпавших с exclude-правилом.
//     Правило совпадает, если каждый его ключ равен значению
//     instance по этой оси (частичный кортеж).
//  3. Применение include-правил: совпавшие instances расширяются
//     дополнительными ключами; не совпавшее ни с одним instance
//     правило добавляется как новый instance.
//
// nil matrix — job без матрицы, возвращается один пустой instance.
func ExpandMatrix(spec *domain.MatrixSpec) ([]domain.MatrixInstance, error) {
	if spec == nil || len(spec.Axes) == 0 {
		return []domain.MatrixInstance{{Values: map[string]string{}}}, nil
	}

	if err := validateAxes(spec); err != nil {
		return nil, err
	}

	names := make([]string, len(spec.Axes))
	for i, axis := range spec.Axes {
		names[i] = axis.Name
	}

	// 1. Полное декартово произведение
	instances := cartesian(spec.Axes, names)

	// 2. Применяем exclude
	if len(spec.Exclude) > 0 {
		filtered := instances[:0]
		for _, inst := range instances {
			if !matchesAny(inst, spec.Exclude) {
				filtered = append(filtered, inst)
			}
		}
		instances = filtered
	}

	// 3. Применяем include
	instances = applyIncludes(instances, spec.Include, names)

	if len(instances) == 0 {
		return nil, ErrMatrixEmpty
	}

	return instances, nil
}

// validateAxes проверяет корректность осей и exclude-правил.
func validateAxes(spec *domain.MatrixSpec) error {
	seen := make(map[string]bool, len(spec.Axes))
	for _, axis := range spec.Axes {
		if seen[axis.Name] {
			return fmt.Errorf("%w: %s", ErrDuplicateAxis, axis.Name)
		}
		seen[axis.Name] = true

		if len(axis.Values) == 0 {
			return fmt.Errorf("%w: %s", ErrAxisEmpty, axis.Name)
		}
	}

	for _, rule := range spec.Exclude {
		for key := range rule {
			if !seen[key] {
				return fmt.Errorf("%w: %s", ErrUnknownAxis, key)
			}
		}
	}

	return nil
}

// cartesian строит декартово произведение осей в порядке декларации.
func cartesian(axes []domain.MatrixAxis, names []string) []domain.MatrixInstance {
	total := 1
	for _, axis := range axes {
		total *= len(axis.Values)
	}

	instances := make([]domain.MatrixInstance, 0, total)

	// Индексы текущей комбинации по каждой оси.
	indices := make([]int, len(axes))

	for {
		values := make(map[string]string, len(axes))
		for i, axis := range axes {
			values[axis.Name] = axis.Values[indices[i]]
		}
		instances = append(instances, domain.MatrixInstance{
			Names:  names,
			Values: values,
		})

		// Инкремент с переносом, младший разряд — последняя ось.
		pos := len(axes) - 1
		for pos >= 0 {
			indices[pos]++
			if indices[pos] < len(axes[pos].Values) {
				break
			}
			indices[pos] = 0
			pos--
		}
		if pos < 0 {
			break
		}
	}

	return instances
}

// matchesAny проверяет, совпал ли instance хотя бы с одним правилом.
func matchesAny(inst domain.MatrixInstance, rules []map[string]string) bool {
	for _, rule := range rules {
		if matchesRule(inst, rule) {
			return true
		}
	}
	return false
}

// matchesRule — частичное совпадение кортежа: каждый ключ правила
// должен равняться значению instance по этой оси.
func matchesRule(inst domain.MatrixInstance, rule map[string]string) bool {
	if len(rule) == 0 {
		return false
	}
	for key, want := range rule {
		if inst.Values[key] != want {
			return false
		}
	}
	return true
}

// applyIncludes применяет include-правила к набору instances.
func applyIncludes(instances []domain.MatrixInstance, includes []map[string]string, axisNames []string) []domain.MatrixInstance {
	declared := make(map[string]bool, len(axisNames))
	for _, name := range axisNames {
		declared[name] = true
	}

	for _, rule := range includes {
		// Часть правила по объявленным осям — критерий совпадения.
		matched := false
		for i := range instances {
			if includeMatches(instances[i], rule, declared) {
				matched = true
				extendInstance(&instances[i], rule, declared)
			}
		}

		if !matched {
			instances = append(instances, includeAsInstance(rule, axisNames))
		}
	}

	return instances
}

// includeMatches — include совпадает, если все его ключи по
// объявленным осям равны значениям instance.
func includeMatches(inst domain.MatrixInstance, rule map[string]string, declared map[string]bool) bool {
	any := false
	for key, want := range rule {
		if !declared[key] {
			continue
		}
		any = true
		if inst.Values[key] != want {
			return false
		}
	}
	// Правило без единого ключа по осям расширяет все instances.
	return any || len(rule) > 0
}

// extendInstance добавляет в instance ключи include, не являющиеся
// объявленными осями.
func extendInstance(inst *domain.MatrixInstance, rule map[string]string, declared map[string]bool) {
	extras := make([]string, 0, len(rule))
	for key := range rule {
		if !declared[key] {
			extras = append(extras, key)
		}
	}
	sort.Strings(extras)

	for _, key := range extras {
		if _, exists := inst.Values[key]; !exists {
			inst.Names = append(inst.Names, key)
		}
		inst.Values[key] = rule[key]
	}
}

// includeAsInstance превращает не совпавшее правило в новый instance.
// Порядок имён: объявленные оси, затем остальные ключи по алфавиту.
func includeAsInstance(rule map[string]string, axisNames []string) domain.MatrixInstance {
	values := make(map[string]string, len(rule))
	names := make([]string, 0, len(rule))

	for _, name := range axisNames {
		if v, ok := rule[name]; ok {
			names = append(names, name)
			values[name] = v
		}
	}

	extras := make([]string, 0, len(rule))
	declared := make(map[string]bool, len(axisNames))
	for _, name := range axisNames {
		declared[name] = true
	}
	for key := range rule {
		if !declared[key] {
			extras = append(extras, key)
		}
	}
	sort.Strings(extras)

	for _, key := range extras {
		names = append(names, key)
		values[key] = rule[key]
	}

	return domain.MatrixInstance{Names: names, Values: values}
}
