package auth_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	auth "github.com/service-laboratory/lab-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotWith(enabled bool, roles ...auth.RoleSnapshot) auth.UserSnapshot {
	return auth.UserSnapshot{
		ID:        uuid.New(),
		Email:     "user@mail.com",
		IsEnabled: enabled,
		IsActive:  true,
		Roles:     roles,
	}
}

func TestRoleGuards(t *testing.T) {
	admin := auth.RoleSnapshot{Name: auth.RoleAdmin}
	manager := auth.RoleSnapshot{
		Name: "manager",
		Permissions: []auth.PermissionSnapshot{
			{App: "races", Action: "edit"},
		},
	}

	s := snapshotWith(true, manager)
	assert.False(t, auth.IsAdmin(s))
	assert.True(t, auth.HasAnyRole(s, "viewer", "manager"))
	assert.False(t, auth.HasAnyRole(s))
	assert.True(t, auth.CanPerform(s, "races", "edit"))
	assert.False(t, auth.CanPerform(s, "races", "delete"))
	assert.False(t, auth.CanPerform(s, "athletes", "edit"))

	assert.True(t, auth.IsAdmin(snapshotWith(true, admin)))
	assert.Equal(t, []string{"admin", "manager"}, snapshotWith(true, admin, manager).RoleNames())
}

func TestRequireRoles(t *testing.T) {
	ts := auth.NewTokenService(newTestConfig())

	claimsFor := func(s auth.UserSnapshot) *auth.TokenClaims {
		token, err := ts.Encode(s, time.Minute)
		require.NoError(t, err)
		claims, err := ts.Decode(token)
		require.NoError(t, err)
		return claims
	}

	adminRole := auth.RoleSnapshot{Name: auth.RoleAdmin}
	customerRole := auth.RoleSnapshot{Name: auth.RoleCustomer}

	tests := []struct {
		name    string
		claims  *auth.TokenClaims
		roles   []string
		wantErr error
	}{
		{
			name:   "admin passes",
			claims: claimsFor(snapshotWith(true, adminRole)),
			roles:  []string{auth.RoleAdmin},
		},
		{
			name:    "customer is forbidden",
			claims:  claimsFor(snapshotWith(true, customerRole)),
			roles:   []string{auth.RoleAdmin},
			wantErr: auth.ErrForbidden,
		},
		{
			name:   "any role passes without a role list",
			claims: claimsFor(snapshotWith(true, customerRole)),
		},
		{
			name:    "disabled admin",
			claims:  claimsFor(snapshotWith(false, adminRole)),
			roles:   []string{auth.RoleAdmin},
			wantErr: auth.ErrUserDisabled,
		},
		{
			name:    "nil claims",
			claims:  nil,
			wantErr: auth.ErrInvalidToken,
		},
		{
			name:    "no payload",
			claims:  &auth.TokenClaims{},
			wantErr: auth.ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.RequireRoles(tt.claims, tt.roles...)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{header: "Bearer abc.def.ghi", want: "abc.def.ghi", ok: true},
		{header: "bearer abc", want: "abc", ok: true},
		{header: "  Bearer   abc  ", want: "abc", ok: true},
		{header: "Basic abc", ok: false},
		{header: "Bearer", ok: false},
		{header: "Bearer ", ok: false},
		{header: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := auth.BearerToken(tt.header)
			if !tt.ok {
				assert.ErrorIs(t, err, auth.ErrInvalidToken)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
