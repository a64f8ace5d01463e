package config

import (
	"encoding/json"
	"net/http"

	"capital_waterfall/pkg/core/waterfall"
)

// Response describes the running server.
type Response struct {
	Store   string       `json:"store"`
	Presets []string     `json:"presets"`
	Config  ServerConfig `json:"config"`
}

// Handler holds dependencies for config endpoints
type Handler struct {
	Config  ServerConfig
	Store   string
	Presets *waterfall.Presets
}

// NewHandler creates a new config handler. store names the active backend
// ("postgres" or "file").
func NewHandler(cfg ServerConfig, store string, presets *waterfall.Presets) *Handler {
	return &Handler{Config: cfg, Store: store, Presets: presets}
}

func (h *Handler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	resp := Response{
		Store:   h.Store,
		Presets: h.Presets.Names(),
		Config:  h.Config,
	}
	if resp.Presets == nil {
		resp.Presets = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
