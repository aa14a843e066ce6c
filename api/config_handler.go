package api

import (
	"net/http"

	"github.com/arvscout/arvscout/internal/config"
)

// handleGetConfig returns the running configuration with secrets masked.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, s.cfg.Redacted())
}

// handleGetConfigKeys returns the status of every provider API key.
func (s *Server) handleGetConfigKeys(w http.ResponseWriter, r *http.Request) {
	s.writeData(w, config.CheckAPIKeys(s.cfg))
}
