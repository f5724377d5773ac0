package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// ListSchedules возвращает список schedules.
// GET /api/v1/schedules?pipeline=...
func (h *Handler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	pipeline := r.URL.Query().Get("pipeline")

	schedules, err := h.scheduleRepo.List(r.Context(), pipeline)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]ScheduleResponse, len(schedules))
	for i, s := range schedules {
		result[i] = ScheduleFromDomain(s)
	}

	List(w, result, len(result))
}

// SetScheduleEnabled включает или выключает schedule.
// PUT /api/v1/schedules/{id}/enabled
func (h *Handler) SetScheduleEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid schedule id")
		return
	}

	var req SetEnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	sched, err := h.scheduleRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "schedule not found") {
		return
	}

	sched.Enabled = req.Enabled

	if err := h.scheduleRepo.Update(r.Context(), sched); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Success(w, ScheduleFromDomain(*sched))
}
