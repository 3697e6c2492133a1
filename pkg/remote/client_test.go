package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garnizeh/techsync/internal/config"
	"github.com/garnizeh/techsync/internal/identity"
	"github.com/garnizeh/techsync/pkg/models"
	"github.com/garnizeh/techsync/pkg/remote"
)

func newClient(t *testing.T, srv *httptest.Server, mutate func(*config.RemoteConfig)) *remote.Client {
	t.Helper()
	cfg := config.RemoteConfig{
		BaseURL:     srv.URL,
		APIToken:    "tok-123",
		PrivacyMode: config.PrivacyModeAuto,
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := remote.NewClient(cfg, srv.Client())
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func resolve(t *testing.T, m models.TechnicianMapping, strict bool) identity.Identity {
	t.Helper()
	id, err := identity.Resolve(m, strict)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return id
}

func TestClient_AssignTicket_BodyFollowsStrategy(t *testing.T) {
	var mu sync.Mutex
	var bodies []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/rest/api/3/issue/T-1/assignee" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	c := newClient(t, srv, nil)
	ctx := context.Background()

	byID := resolve(t, models.TechnicianMapping{TechnicianName: "Ava", RemoteAccountID: "acct-123", RemoteEmail: "ava@example.com"}, false)
	ack, err := c.AssignTicket(ctx, "T-1", byID)
	if err != nil {
		t.Fatalf("AssignTicket by account id: %v", err)
	}
	if ack.Op != remote.OpAssign || ack.TicketID != "T-1" || ack.Attempts != 1 || ack.StatusCode != http.StatusNoContent {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	byEmail := resolve(t, models.TechnicianMapping{TechnicianName: "Ben", RemoteEmail: "ben@example.com"}, false)
	if _, err := c.AssignTicket(ctx, "T-1", byEmail); err != nil {
		t.Fatalf("AssignTicket by email: %v", err)
	}

	if len(bodies) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(bodies))
	}
	if len(bodies[0]) != 1 || bodies[0]["accountId"] != "acct-123" {
		t.Fatalf("account id body wrong: %v", bodies[0])
	}
	if len(bodies[1]) != 1 || bodies[1]["emailAddress"] != "ben@example.com" {
		t.Fatalf("email body wrong: %v", bodies[1])
	}
}

func TestClient_AssignTicket_Idempotent(t *testing.T) {
	var assignee atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			AccountID string `json:"accountId"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		assignee.Store(body.AccountID)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	c := newClient(t, srv, nil)

	id := resolve(t, models.TechnicianMapping{TechnicianName: "Ava", RemoteAccountID: "acct-123"}, true)
	first, err := c.AssignTicket(context.Background(), "T-1", id)
	if err != nil {
		t.Fatalf("first assign: %v", err)
	}
	second, err := c.AssignTicket(context.Background(), "T-1", id)
	if err != nil {
		t.Fatalf("second assign: %v", err)
	}
	if first != second {
		t.Fatalf("repeated assign produced different acks: %+v vs %+v", first, second)
	}
	if got := assignee.Load(); got != "acct-123" {
		t.Fatalf("remote assignee = %v", got)
	}
}

func TestClient_RetryCap_ServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer srv.Close()
	c := newClient(t, srv, nil)

	id := resolve(t, models.TechnicianMapping{TechnicianName: "Ava", RemoteAccountID: "acct-123"}, true)
	_, err := c.AssignTicket(context.Background(), "T-1", id)
	if err == nil {
		t.Fatalf("expected error from 503 server")
	}
	re, ok := remote.AsRemoteError(err)
	if !ok {
		t.Fatalf("expected *RemoteError, got %T", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected exactly 3 attempts, server saw %d", got)
	}
	if !re.Retryable || re.Kind != remote.KindServer || re.Attempts != 3 || re.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unexpected error: %+v", re)
	}
	if re.Body != "maintenance" {
		t.Fatalf("expected body to be captured, got %q", re.Body)
	}
}

func TestClient_NonRetryable4xx_SurfacesImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()
	c := newClient(t, srv, nil)

	_, err := c.AppendComment(context.Background(), "T-404", "Assigned to Ava")
	re, ok := remote.AsRemoteError(err)
	if !ok {
		t.Fatalf("expected *RemoteError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
	if re.Retryable || re.Kind != remote.KindNotFound || re.Op != remote.OpComment {
		t.Fatalf("unexpected error: %+v", re)
	}
}

func TestClient_RateLimited_ThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"c-9"}`))
	}))
	defer srv.Close()
	c := newClient(t, srv, nil)

	start := time.Now()
	ack, err := c.AppendComment(context.Background(), "T-1", "Assigned to Ava")
	if err != nil {
		t.Fatalf("AppendComment: %v", err)
	}
	if ack.Attempts != 2 || ack.CommentID != "c-9" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	// Retry-After of 1s is capped at MaxBackoff (5ms).
	if time.Since(start) > time.Second {
		t.Fatalf("Retry-After was not capped")
	}
}

func TestClient_PerAttemptTimeout(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()
	c := newClient(t, srv, func(cfg *config.RemoteConfig) {
		cfg.Timeout = 20 * time.Millisecond
		cfg.MaxAttempts = 2
	})

	_, err := c.AppendComment(context.Background(), "T-1", "hello")
	re, ok := remote.AsRemoteError(err)
	if !ok {
		t.Fatalf("expected *RemoteError, got %v", err)
	}
	if re.Kind != remote.KindTimeout || !re.Retryable || re.Attempts != 2 {
		t.Fatalf("unexpected error: %+v", re)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestClient_CanceledContext_NoRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	c := newClient(t, srv, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	id := resolve(t, models.TechnicianMapping{TechnicianName: "Ava", RemoteAccountID: "acct-123"}, true)
	_, err := c.AssignTicket(ctx, "T-1", id)
	if err == nil {
		t.Fatalf("expected error for canceled context")
	}
	if re, ok := remote.AsRemoteError(err); !ok || re.Kind != remote.KindCanceled {
		t.Fatalf("expected canceled RemoteError, got %v", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("expected no request, got %d", calls.Load())
	}
}

func TestClient_InvalidArguments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	}))
	defer srv.Close()
	c := newClient(t, srv, nil)

	if _, err := c.AssignTicket(context.Background(), "T-1", identity.Identity{}); err == nil {
		t.Fatalf("expected error for zero identity")
	}
	id := resolve(t, models.TechnicianMapping{TechnicianName: "Ava", RemoteAccountID: "acct-123"}, true)
	if _, err := c.AssignTicket(context.Background(), " ", id); err == nil {
		t.Fatalf("expected error for empty ticket id")
	}
	if _, err := c.AppendComment(context.Background(), "", "x"); err == nil {
		t.Fatalf("expected error for empty ticket id")
	}
}

func TestClient_IsStrictPrivacyMode(t *testing.T) {
	var probes atomic.Int32
	var mode atomic.Value
	mode.Store("strict")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/3/configuration/privacy" {
			http.NotFound(w, r)
			return
		}
		probes.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"mode": mode.Load().(string)})
	}))
	defer srv.Close()
	ctx := context.Background()

	auto := newClient(t, srv, nil)
	strict, err := auto.IsStrictPrivacyMode(ctx)
	if err != nil || !strict {
		t.Fatalf("expected strict from probe, got %v err=%v", strict, err)
	}
	mode.Store("open")
	strict, err = auto.IsStrictPrivacyMode(ctx)
	if err != nil || strict {
		t.Fatalf("expected open from probe, got %v err=%v", strict, err)
	}
	mode.Store("weird")
	if _, err := auto.IsStrictPrivacyMode(ctx); err == nil {
		t.Fatalf("expected decode error for unknown mode")
	} else if re, ok := remote.AsRemoteError(err); !ok || re.Kind != remote.KindDecode {
		t.Fatalf("expected decode RemoteError, got %v", err)
	}
	if probes.Load() != 3 {
		t.Fatalf("expected 3 probes, got %d", probes.Load())
	}

	pinnedStrict := newClient(t, srv, func(cfg *config.RemoteConfig) { cfg.PrivacyMode = config.PrivacyModeStrict })
	if s, err := pinnedStrict.IsStrictPrivacyMode(ctx); err != nil || !s {
		t.Fatalf("configured strict: got %v err=%v", s, err)
	}
	pinnedOpen := newClient(t, srv, func(cfg *config.RemoteConfig) { cfg.PrivacyMode = config.PrivacyModeOpen })
	if s, err := pinnedOpen.IsStrictPrivacyMode(ctx); err != nil || s {
		t.Fatalf("configured open: got %v err=%v", s, err)
	}
	if probes.Load() != 3 {
		t.Fatalf("configured modes must not probe, got %d probes", probes.Load())
	}
}

func TestClient_MyselfAndHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/3/myself" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"accountId":"acct-me","displayName":"Sync Bot"}`))
	}))
	defer srv.Close()

	c := newClient(t, srv, nil)
	acct, err := c.Myself(context.Background())
	if err != nil {
		t.Fatalf("Myself: %v", err)
	}
	if acct.AccountID != "acct-me" || acct.DisplayName != "Sync Bot" {
		t.Fatalf("unexpected account: %+v", acct)
	}
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health: %v", err)
	}

	bad := newClient(t, srv, func(cfg *config.RemoteConfig) { cfg.APIToken = "wrong" })
	err = bad.Health(context.Background())
	var re *remote.RemoteError
	if !errors.As(err, &re) || re.Kind != remote.KindAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := remote.NewClient(config.RemoteConfig{BaseURL: "not a url"}, nil); err == nil {
		t.Fatalf("expected error for invalid base url")
	}
	if _, err := remote.NewClient(config.RemoteConfig{BaseURL: "ftp://example.com"}, nil); err == nil {
		t.Fatalf("expected error for non-http scheme")
	}
	if _, err := remote.NewClient(config.RemoteConfig{BaseURL: "https://example.com", PrivacyMode: "gdpr"}, nil); err == nil {
		t.Fatalf("expected error for unknown privacy mode")
	}
	c, err := remote.NewClient(config.RemoteConfig{BaseURL: "https://example.com/"}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
