// Package identity decides which remote lookup strategy can be used for a
// technician and produces the remote identity handle. It performs no I/O.
package identity

import (
	"errors"
	"fmt"

	"github.com/garnizeh/techsync/pkg/models"
)

type Strategy string

const (
	ByAccountID Strategy = "BY_ACCOUNT_ID"
	ByEmail     Strategy = "BY_EMAIL"
)

// Identity is a resolved remote identity. Only Resolve constructs one; the
// zero value is not a usable identity.
type Identity struct {
	strategy Strategy
	value    string
}

func (i Identity) Strategy() Strategy { return i.strategy }
func (i Identity) Value() string      { return i.value }
func (i Identity) IsZero() bool       { return i.strategy == "" || i.value == "" }

func (i Identity) String() string {
	if i.IsZero() {
		return "<unresolved>"
	}
	return fmt.Sprintf("%s:%s", i.strategy, i.value)
}

type GapReason string

const (
	// GapAccountIDRequired: strict privacy mode and no account id on file.
	GapAccountIDRequired GapReason = "ACCOUNT_ID_REQUIRED"
	// GapNoRemoteIdentity: the mapping row carries neither field.
	GapNoRemoteIdentity GapReason = "NO_REMOTE_IDENTITY"
	// GapNotMapped: the technician has no mapping row at all.
	GapNotMapped GapReason = "NOT_MAPPED"
)

// Gap is the expected, non-error state where a technician cannot be mapped
// to a usable remote identity under the current constraints.
type Gap struct {
	Technician string
	Reason     GapReason
}

func (g *Gap) Error() string {
	return fmt.Sprintf("resolution gap for %q: %s", g.Technician, g.Reason)
}

// AsGap extracts a *Gap from err.
func AsGap(err error) (*Gap, bool) {
	var g *Gap
	if errors.As(err, &g) {
		return g, true
	}
	return nil, false
}

// Resolve picks the remote identity for a mapping row.
//
// Under strict privacy mode only the account id is usable. Otherwise the
// account id is still preferred and the email is the fallback. A row with
// neither field is NO_REMOTE_IDENTITY in both modes.
func Resolve(m models.TechnicianMapping, strict bool) (Identity, error) {
	if !m.HasAccountID() && !m.HasEmail() {
		return Identity{}, &Gap{Technician: m.TechnicianName, Reason: GapNoRemoteIdentity}
	}
	if m.HasAccountID() {
		return Identity{strategy: ByAccountID, value: m.RemoteAccountID}, nil
	}
	if strict {
		return Identity{}, &Gap{Technician: m.TechnicianName, Reason: GapAccountIDRequired}
	}
	return Identity{strategy: ByEmail, value: m.RemoteEmail}, nil
}
