package engine

import (
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Node — узел в графе jobs.
type Node struct {
	// Job — определение job из Pipeline.
	Job *domain.JobDef

	// ID — идентификатор узла (равен Job.ID).
	ID string

	// InDegree — количество входящих рёбер (needs).
	InDegree int

	// Needs — узлы, от которых зависит этот узел.
	Needs []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// JobGraph — направленный ациклический граф jobs pipeline.
//
// Рёбра задаются полем needs. Jobs без needs — точки входа.
// Instances внутри одного job независимы; граф упорядочивает
// только сами jobs.
type JobGraph struct {
	// Nodes — все узлы графа (jobID → Node).
	Nodes map[string]*Node

	// Roots — узлы без зависимостей (точки входа).
	Roots []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node
}

// BuildJobGraph строит граф jobs из Pipeline.
//
// Возвращает ошибку при ссылке на несуществующий job, самозависимости
// или цикле.
func BuildJobGraph(p *domain.Pipeline) (*JobGraph, error) {
	g := &JobGraph{
		Nodes: make(map[string]*Node, len(p.Jobs)),
	}

	// Первый проход: создаём все узлы
	for i := range p.Jobs {
		job := &p.Jobs[i]
		g.Nodes[job.ID] = &Node{
			Job: job,
			ID:  job.ID,
		}
	}

	// Второй проход: связываем узлы по needs
	for i := range p.Jobs {
		job := &p.Jobs[i]
		node := g.Nodes[job.ID]

		for _, need := range job.Needs {
			if need == job.ID {
				return nil, NewValidationError(job.ID, "needs",
					"job needs itself", ErrSelfNeed)
			}

			dep, exists := g.Nodes[need]
			if !exists {
				return nil, NewValidationError(job.ID, "needs",
					fmt.Sprintf("needs unknown job: %s", need), ErrMissingNeed)
			}

			g.addEdge(dep, node)
		}
	}

	// Корни в порядке декларации jobs — для детерминизма.
	for i := range p.Jobs {
		node := g.Nodes[p.Jobs[i].ID]
		if node.InDegree == 0 {
			g.Roots = append(g.Roots, node)
		}
	}

	order, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}
	g.Order = order

	return g, nil
}

// addEdge добавляет ребро между узлами.
// Дубликаты в needs не увеличивают InDegree дважды.
func (g *JobGraph) addEdge(from, to *Node) {
	for _, dep := range to.Needs {
		if dep.ID == from.ID {
			return // уже связаны
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.Needs = append(to.Needs, from)
	to.InDegree++
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Возвращает ошибку, если обнаружен цикл.
func (g *JobGraph) topologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	for id, node := range g.Nodes {
		inDegree[id] = node.InDegree
	}

	queue := make([]*Node, len(g.Roots))
	copy(queue, g.Roots)

	order := make([]*Node, 0, len(g.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, dependent := range node.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	// Если не все узлы обработаны — есть цикл
	if len(order) != len(g.Nodes) {
		return nil, ErrCyclicNeeds
	}

	return order, nil
}

// NeedsOf возвращает ID jobs, от которых зависит job.
func (g *JobGraph) NeedsOf(jobID string) []string {
	node, ok := g.Nodes[jobID]
	if !ok {
		return nil
	}
	needs := make([]string, len(node.Needs))
	for i, dep := range node.Needs {
		needs[i] = dep.ID
	}
	return needs
}

// ReadyJobs возвращает jobs, готовые к выполнению.
//
// Job готов, если все его needs в done и сам он ещё не в done
// и не в running.
func (g *JobGraph) ReadyJobs(done, running map[string]bool) []*domain.JobDef {
	if done == nil {
		done = make(map[string]bool)
	}
	if running == nil {
		running = make(map[string]bool)
	}

	ready := make([]*domain.JobDef, 0)

	// Обход по Order даёт детерминированный порядок выдачи.
	for _, node := range g.Order {
		if done[node.ID] || running[node.ID] {
			continue
		}

		allDone := true
		for _, dep := range node.Needs {
			if !done[dep.ID] {
				allDone = false
				break
			}
		}

		if allDone {
			ready = append(ready, node.Job)
		}
	}

	return ready
}

// Size возвращает количество узлов в графе.
func (g *JobGraph) Size() int {
	return len(g.Nodes)
}
