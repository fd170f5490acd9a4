package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "flightlogic status API",
		Version:     "v1",
		Description: "Read-only view of the flight task scheduler and its persisted telemetry",
		Endpoints: []endpointInfo{
			{"/api/v1/health", []string{"GET"}, "Uptime, boot id and queue depths"},
			{"/api/v1/queues", []string{"GET"}, "Priority and scheduled queue contents in dequeue order"},
			{"/api/v1/tasks", []string{"GET"}, "Persisted tasks, newest first. Filters: plugin_id, active"},
			{"/api/v1/tasks/{id}", []string{"GET"}, "Single task with its in-memory state"},
			{"/api/v1/logs", []string{"GET"}, "Persisted log entries. Filters: task_id, plugin_id, since, until"},
			{"/api/v1/data", []string{"GET"}, "Sensor samples. Filters: sensor, since, until"},
			{"/api/v1/packets", []string{"GET"}, "Outbound radio packets"},
			{"/api/v1/plugins", []string{"GET"}, "Registered plugin kinds and their ids"},
		},
	})
}
