package server

import (
	"net/http"

	"github.com/me/flightlogic/pkg/model"
)

type pluginView struct {
	Kind   string         `json:"kind"`
	ID     model.PluginID `json:"id,omitempty"`
	Loaded bool           `json:"loaded"`
}

// handleListPlugins merges registered kinds with the plugin rows in the store.
// A kind without a row has not been instantiated yet.
func (s *Server) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	rows, err := s.store.ListPlugins(r.Context())
	if err != nil {
		respondStoreError(w, reqID, "plugins", "", err)
		return
	}

	ids := make(map[string]model.PluginID, len(rows))
	for _, p := range rows {
		ids[p.Kind] = p.ID
	}

	views := make([]pluginView, 0, len(s.kinds)+len(rows))
	seen := make(map[string]bool, len(s.kinds))
	for _, kind := range s.kinds {
		id, ok := ids[kind]
		views = append(views, pluginView{Kind: kind, ID: id, Loaded: ok})
		seen[kind] = true
	}
	for _, p := range rows {
		if !seen[p.Kind] {
			views = append(views, pluginView{Kind: p.Kind, ID: p.ID, Loaded: true})
		}
	}
	respondOK(w, reqID, views)
}
