package server

import (
	"net/http"
	"runtime"
	"time"
)

type queueDepths struct {
	Priority  int  `json:"priority"`
	Scheduled int  `json:"scheduled"`
	Running   bool `json:"running"`
}

type healthResponse struct {
	Status    string      `json:"status"`
	Version   string      `json:"version"`
	GoVersion string      `json:"go_version"`
	Uptime    string      `json:"uptime"`
	BootID    string      `json:"boot_id"`
	Store     string      `json:"store"`
	Queues    queueDepths `json:"queues"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	status, storeStatus := "healthy", "ok"
	if _, err := s.store.ListPlugins(r.Context()); err != nil {
		s.logger.Warn("health: store unreachable", "error", err)
		status, storeStatus = "degraded", "unreachable"
	}

	snap := s.queues.Snapshot()
	respondOK(w, reqID, healthResponse{
		Status:    status,
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		BootID:    s.bootID,
		Store:     storeStatus,
		Queues: queueDepths{
			Priority:  len(snap.Priority),
			Scheduled: len(snap.Scheduled),
			Running:   snap.Running != nil,
		},
	})
}
