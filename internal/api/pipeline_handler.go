package api

import (
	"net/http"
)

// ListPipelines возвращает список загруженных pipelines.
// GET /api/v1/pipelines
func (h *Handler) ListPipelines(w http.ResponseWriter, r *http.Request) {
	names := h.registry.Names()

	result := make([]PipelineSummary, 0, len(names))
	for _, name := range names {
		p := h.registry.Get(name)
		if p == nil {
			continue
		}
		result = append(result, PipelineSummary{
			Name:      p.Name,
			Jobs:      len(p.Jobs),
			Schedules: p.Schedules,
		})
	}

	List(w, result, len(result))
}

// GetPipeline возвращает определение pipeline по имени.
// GET /api/v1/pipelines/{name}
func (h *Handler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	p := h.registry.Get(name)
	if p == nil {
		NotFound(w, "pipeline not found")
		return
	}

	Success(w, PipelineFromDomain(p))
}
