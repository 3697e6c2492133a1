package identity_test

import (
	"testing"

	"github.com/garnizeh/techsync/internal/identity"
	"github.com/garnizeh/techsync/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	accountOnly := models.TechnicianMapping{TechnicianName: "Ava", RemoteAccountID: "acct-123"}
	emailOnly := models.TechnicianMapping{TechnicianName: "Ben", RemoteEmail: "ben@example.com"}
	both := models.TechnicianMapping{TechnicianName: "Cy", RemoteEmail: "cy@example.com", RemoteAccountID: "acct-456"}
	neither := models.TechnicianMapping{TechnicianName: "Dee"}

	tests := []struct {
		name         string
		mapping      models.TechnicianMapping
		strict       bool
		wantStrategy identity.Strategy
		wantValue    string
		wantGap      identity.GapReason
	}{
		{"account only, open", accountOnly, false, identity.ByAccountID, "acct-123", ""},
		{"account only, strict", accountOnly, true, identity.ByAccountID, "acct-123", ""},
		{"email only, open", emailOnly, false, identity.ByEmail, "ben@example.com", ""},
		{"email only, strict", emailOnly, true, "", "", identity.GapAccountIDRequired},
		{"both, open", both, false, identity.ByAccountID, "acct-456", ""},
		{"both, strict", both, true, identity.ByAccountID, "acct-456", ""},
		{"neither, open", neither, false, "", "", identity.GapNoRemoteIdentity},
		{"neither, strict", neither, true, "", "", identity.GapNoRemoteIdentity},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			id, err := identity.Resolve(tc.mapping, tc.strict)
			if tc.wantGap != "" {
				gap, ok := identity.AsGap(err)
				require.True(t, ok, "expected gap, got %v", err)
				assert.Equal(t, tc.wantGap, gap.Reason)
				assert.Equal(t, tc.mapping.TechnicianName, gap.Technician)
				assert.True(t, id.IsZero())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantStrategy, id.Strategy())
			assert.Equal(t, tc.wantValue, id.Value())
			assert.False(t, id.IsZero())
		})
	}
}

func TestIdentity_ZeroValue(t *testing.T) {
	var id identity.Identity
	assert.True(t, id.IsZero())
	assert.Equal(t, "<unresolved>", id.String())
}
