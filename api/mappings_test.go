package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garnizeh/techsync/api"
	"github.com/garnizeh/techsync/internal/mapping"
)

func TestMappingsHandler_GetAndReload(t *testing.T) {
	good := "technician_name,remote_email,remote_account_id\nAva,ava@example.com,acct-123\n,x@example.com,\nBen,ben@example.com,\n"
	var src atomic.Value
	src.Store(good)
	loader := func(ctx context.Context) (*mapping.Table, error) {
		return mapping.Load(strings.NewReader(src.Load().(string)), mapping.FormatCSV)
	}
	store, err := mapping.NewStore(context.Background(), loader)
	require.NoError(t, err)

	h := api.NewMappingsHandler(store)
	r := mux.NewRouter()
	r.HandleFunc("/v1/mappings", h.GetMappings).Methods("GET")
	r.HandleFunc("/v1/mappings/reload", h.Reload).Methods("POST")

	w := do(t, r, http.MethodGet, "/v1/mappings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary struct {
		Version     int64    `json:"version"`
		Entries     int      `json:"entries"`
		Technicians []string `json:"technicians"`
		Warnings    []string `json:"warnings"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, 2, summary.Entries)
	assert.Equal(t, []string{"Ava", "Ben"}, summary.Technicians)
	assert.Len(t, summary.Warnings, 1)
	assert.NotContains(t, w.Body.String(), "acct-123", "remote identities must not be exposed")
	firstVersion := summary.Version

	// broken source: previous table stays in service
	src.Store("name,email\nAva,ava@example.com\n")
	w = do(t, r, http.MethodPost, "/v1/mappings/reload", nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	m, err := store.Lookup("Ava")
	require.NoError(t, err)
	assert.Equal(t, "acct-123", m.RemoteAccountID)

	src.Store("technician_name,remote_email,remote_account_id\nCleo,,acct-777\n")
	w = do(t, r, http.MethodPost, "/v1/mappings/reload", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Greater(t, summary.Version, firstVersion)
	assert.Equal(t, []string{"Cleo"}, summary.Technicians)
	_, err = store.Lookup("Ava")
	assert.True(t, errors.Is(err, mapping.ErrNotFound))
}
