package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/garnizeh/techsync/internal/mapping"
)

// MappingReloader serves and refreshes the identity mapping table.
// *mapping.Store implements it.
type MappingReloader interface {
	Reload(ctx context.Context) (*mapping.Table, error)
	Current() *mapping.Table
}

type MappingsHandler struct {
	store MappingReloader
}

func NewMappingsHandler(s MappingReloader) *MappingsHandler {
	return &MappingsHandler{store: s}
}

type mappingSummary struct {
	Version     int64     `json:"version"`
	Source      string    `json:"source"`
	LoadedAt    time.Time `json:"loaded_at"`
	Entries     int       `json:"entries"`
	Technicians []string  `json:"technicians"`
	Warnings    []string  `json:"warnings"`
}

func summarize(t *mapping.Table) mappingSummary {
	s := mappingSummary{Technicians: []string{}, Warnings: []string{}}
	if t == nil {
		return s
	}
	s.Version = t.Version()
	s.Source = t.Source()
	s.LoadedAt = t.LoadedAt()
	s.Entries = t.Len()
	for _, e := range t.Entries() {
		s.Technicians = append(s.Technicians, e.TechnicianName)
	}
	for _, w := range t.Warnings() {
		s.Warnings = append(s.Warnings, w.String())
	}
	return s
}

// GetMappings reports the table in service. Remote identities are not exposed.
func (h *MappingsHandler) GetMappings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, summarize(h.store.Current()))
}

// Reload refreshes the table from its source. A broken source keeps the
// previous table in service and answers 422.
func (h *MappingsHandler) Reload(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.Reload(r.Context())
	if err != nil {
		var cfgErr *mapping.ConfigError
		if errors.As(err, &cfgErr) {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
				Error:   "mapping reload failed, previous table kept",
				Details: map[string]any{"reason": cfgErr.Error(), "version": summarize(h.store.Current()).Version},
			})
			return
		}
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(t))
}
