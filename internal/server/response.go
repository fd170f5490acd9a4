package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/me/flightlogic/internal/store"
	"github.com/me/flightlogic/pkg/model"
)

// requestID generates a unique request identifier.
func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

// respondOK writes a success response with the standard envelope.
func respondOK(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusOK, reqID, data, nil, nil)
}

// respondList writes a success response with pagination.
func respondList(w http.ResponseWriter, reqID string, data any, total int, opts model.ListOptions) {
	respondJSON(w, http.StatusOK, reqID, data, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+opts.Limit < total,
	}, nil)
}

// respondError writes an error response with the standard envelope.
func respondError(w http.ResponseWriter, reqID string, status int, apiErr *model.APIError) {
	respondJSON(w, status, reqID, nil, nil, apiErr)
}

// respondStoreError maps store errors onto HTTP statuses.
func respondStoreError(w http.ResponseWriter, reqID, resource, id string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError(resource, id))
		return
	}
	respondError(w, reqID, http.StatusInternalServerError,
		&model.APIError{Code: model.ErrInternal, Message: err.Error()})
}

func respondJSON(w http.ResponseWriter, status int, reqID string, data any, pg *model.Pagination, apiErr *model.APIError) {
	resp := model.Response{
		Status:     "ok",
		RequestID:  reqID,
		Timestamp:  time.Now().UTC(),
		Data:       data,
		Pagination: pg,
		Error:      apiErr,
	}
	if apiErr != nil {
		resp.Status = "error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// listOptions reads limit, offset and the shared filters from the query string.
func listOptions(r *http.Request) (model.ListOptions, *model.APIError) {
	opts := model.DefaultListOptions()
	q := r.URL.Query()

	ints := []struct {
		name string
		set  func(int64)
	}{
		{"limit", func(v int64) { opts.Limit = int(v) }},
		{"offset", func(v int64) { opts.Offset = int(v) }},
		{"task_id", func(v int64) { opts.TaskID = model.TaskID(v) }},
		{"plugin_id", func(v int64) { opts.PluginID = model.PluginID(v) }},
		{"since", func(v int64) { opts.Since = model.Timestamp(v) }},
		{"until", func(v int64) { opts.Until = model.Timestamp(v) }},
	}
	for _, p := range ints {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return opts, model.NewValidationError("%s must be a non-negative integer", p.name)
		}
		p.set(v)
	}
	opts.Sensor = q.Get("sensor")
	opts.Clamp()
	return opts, nil
}
