// Package mapping loads the technician -> remote identity table.
//
// A Table is an immutable snapshot. Row-level problems never fail a load: the
// offending row is dropped or repaired and a Warning is recorded on the table.
// Only an unreadable or structurally malformed source fails with *ConfigError.
package mapping

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/garnizeh/techsync/pkg/models"
)

// ErrNotFound is returned by Lookup when no row matches the technician name.
var ErrNotFound = errors.New("technician not mapped")

// ConfigError reports a mapping source that cannot be used at all.
type ConfigError struct {
	Source string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("mapping config: %v", e.Err)
	}
	return fmt.Sprintf("mapping config %s: %v", e.Source, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Warning describes a row that was dropped or repaired during load.
// Row is 1-based over data rows (the CSV header is not counted).
type Warning struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

func (w Warning) String() string { return fmt.Sprintf("row %d: %s", w.Row, w.Reason) }

type Table struct {
	byName   map[string]models.TechnicianMapping
	order    []string
	warnings []Warning
	source   string
	loadedAt time.Time
	version  int64
}

// Lookup matches the technician name exactly; no case or whitespace folding.
func (t *Table) Lookup(name string) (models.TechnicianMapping, error) {
	if t == nil {
		return models.TechnicianMapping{}, ErrNotFound
	}
	m, ok := t.byName[name]
	if !ok {
		return models.TechnicianMapping{}, ErrNotFound
	}
	return m, nil
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

// Entries returns the rows in source order.
func (t *Table) Entries() []models.TechnicianMapping {
	if t == nil {
		return nil
	}
	out := make([]models.TechnicianMapping, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.byName[name])
	}
	return out
}

func (t *Table) Warnings() []Warning {
	if t == nil {
		return nil
	}
	return append([]Warning(nil), t.warnings...)
}

func (t *Table) Source() string      { return t.source }
func (t *Table) LoadedAt() time.Time { return t.loadedAt }

// Version is assigned by the Store when the table is published; 0 for tables
// that were never published.
func (t *Table) Version() int64 { return t.version }

type rawRow struct {
	row     int
	mapping models.TechnicianMapping
}

// build turns decoded rows into a table, applying the row-level rules.
func build(rows []rawRow, source string) *Table {
	t := &Table{
		byName:   make(map[string]models.TechnicianMapping, len(rows)),
		source:   source,
		loadedAt: time.Now().UTC(),
	}
	for _, r := range rows {
		m := models.TechnicianMapping{
			TechnicianName:  strings.TrimSpace(r.mapping.TechnicianName),
			RemoteEmail:     strings.TrimSpace(r.mapping.RemoteEmail),
			RemoteAccountID: strings.TrimSpace(r.mapping.RemoteAccountID),
		}
		if m.TechnicianName == "" {
			t.warn(r.row, "blank technician_name, row dropped")
			continue
		}
		if _, dup := t.byName[m.TechnicianName]; dup {
			t.warn(r.row, fmt.Sprintf("duplicate technician_name %q, row dropped", m.TechnicianName))
			continue
		}
		if m.HasEmail() && !validEmail(m.RemoteEmail) {
			t.warn(r.row, fmt.Sprintf("remote_email for %q is not a valid address, treated as absent", m.TechnicianName))
			m.RemoteEmail = ""
		}
		if !m.HasEmail() && !m.HasAccountID() {
			t.warn(r.row, fmt.Sprintf("technician %q has no remote identity", m.TechnicianName))
		}
		t.byName[m.TechnicianName] = m
		t.order = append(t.order, m.TechnicianName)
	}
	return t
}

func (t *Table) warn(row int, reason string) {
	t.warnings = append(t.warnings, Warning{Row: row, Reason: reason})
}

// validEmail accepts a bare addr-spec only; display-name forms are rejected.
func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return addr.Address == s && strings.Contains(s[strings.LastIndex(s, "@"):], ".")
}
