package mapping

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/garnizeh/techsync/pkg/models"
)

// Loader produces a fresh table from the configured source.
type Loader func(ctx context.Context) (*Table, error)

// package-level logger; can be replaced by callers
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger sets the logger used by the mapping package. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// Store serves the current mapping table. Reload builds a complete new table
// and publishes it with a single atomic swap, so concurrent readers see either
// the old or the new table, never a partial one.
type Store struct {
	load    Loader
	current atomic.Pointer[Table]
	version atomic.Int64
	mu      sync.Mutex // serializes reloads
}

// NewStore performs the initial load. A ConfigError here is fatal to the caller:
// without a table no identity can be resolved.
func NewStore(ctx context.Context, load Loader) (*Store, error) {
	if load == nil {
		return nil, errors.New("mapping loader is required")
	}
	s := &Store{load: load}
	if _, err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStaticStore publishes a prebuilt table; Reload keeps serving it.
func NewStaticStore(t *Table) *Store {
	s := &Store{load: func(context.Context) (*Table, error) { return t, nil }}
	s.publish(t)
	return s
}

// Reload loads a new table and swaps it in. On failure the previous table
// stays in service and the error is returned.
func (s *Store) Reload(ctx context.Context) (*Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.load(ctx)
	if err != nil {
		if prev := s.current.Load(); prev != nil {
			logger.Error("mapping reload failed, keeping previous table",
				slog.Any("err", err), slog.Int64("version", prev.Version()))
		}
		return nil, err
	}
	if t == nil {
		return nil, &ConfigError{Err: errors.New("loader returned no table")}
	}
	if prev := s.current.Load(); prev == t {
		return t, nil
	}

	s.publish(t)
	for _, w := range t.Warnings() {
		logger.Warn("mapping row warning", slog.String("source", t.Source()), slog.Int("row", w.Row), slog.String("reason", w.Reason))
	}
	logger.Info("mapping table loaded",
		slog.String("source", t.Source()),
		slog.Int("entries", t.Len()),
		slog.Int("warnings", len(t.warnings)),
		slog.Int64("version", t.Version()))
	return t, nil
}

func (s *Store) publish(t *Table) {
	t.version = s.version.Add(1)
	s.current.Store(t)
}

// Current returns the table in service.
func (s *Store) Current() *Table { return s.current.Load() }

// Lookup resolves against the table in service at the time of the call.
func (s *Store) Lookup(name string) (models.TechnicianMapping, error) {
	return s.Current().Lookup(name)
}
