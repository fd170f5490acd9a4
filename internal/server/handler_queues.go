package server

import "net/http"

func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	respondOK(w, RequestIDFromContext(r.Context()), s.queues.Snapshot())
}
