package server

import "net/http"

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	logs, total, err := s.store.ListLogs(r.Context(), opts)
	if err != nil {
		respondStoreError(w, reqID, "logs", "", err)
		return
	}
	respondList(w, reqID, logs, total, opts)
}

func (s *Server) handleListData(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	data, total, err := s.store.ListData(r.Context(), opts)
	if err != nil {
		respondStoreError(w, reqID, "data", "", err)
		return
	}
	respondList(w, reqID, data, total, opts)
}

func (s *Server) handleListPackets(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	packets, total, err := s.store.ListPackets(r.Context(), opts)
	if err != nil {
		respondStoreError(w, reqID, "packets", "", err)
		return
	}
	respondList(w, reqID, packets, total, opts)
}
