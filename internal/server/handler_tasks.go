package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/flightlogic/pkg/model"
)

// taskView pairs a persisted task with its derived state.
type taskView struct {
	*model.Task
	State model.TaskState `json:"state"`
}

func (s *Server) view(t *model.Task) taskView {
	return taskView{Task: t, State: s.queues.StateOf(t)}
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	// ?active= switches to the unpaged boot-time view.
	if raw := r.URL.Query().Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("active must be a boolean"))
			return
		}
		tasks, err := s.store.ListActiveTasks(r.Context(), active)
		if err != nil {
			respondStoreError(w, reqID, "tasks", "", err)
			return
		}
		views := make([]taskView, 0, len(tasks))
		for _, t := range tasks {
			views = append(views, s.view(t))
		}
		respondOK(w, reqID, views)
		return
	}

	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	tasks, total, err := s.store.ListTasks(r.Context(), opts)
	if err != nil {
		respondStoreError(w, reqID, "tasks", "", err)
		return
	}
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, s.view(t))
	}
	respondList(w, reqID, views, total, opts)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	raw := chi.URLParam(r, "id")

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid task id %q", raw))
		return
	}

	task, err := s.store.GetTask(r.Context(), model.TaskID(id))
	if err != nil {
		respondStoreError(w, reqID, "task", raw, err)
		return
	}
	respondOK(w, reqID, s.view(task))
}
