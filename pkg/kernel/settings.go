package kernel

import (
	"encoding/json"
	"net/http"
)

// handleGetSettings returns the current configuration with secrets masked.
// GET /v1/settings
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.GetMaskedConfig())
}

// handleUpdateSettings applies a configuration update. The body is decoded
// over the current config, so omitted fields keep their values; a masked
// api_key echoed back keeps the stored secret.
// PUT /v1/settings
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	cfg := s.settings.GetConfig()
	if err := json.NewDecoder(r.Body).Decode(cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := s.settings.UpdateConfig(r.Context(), cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, s.settings.GetMaskedConfig())
}
