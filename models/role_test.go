package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		raw     string
		want    Role
		wantErr bool
	}{
		{"owner", RoleOwner, false},
		{"admin", RoleAdmin, false},
		{"moderator", RoleModerator, false},
		{"member", RoleMember, false},
		{"Owner", "", true},
		{"superuser", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseRole(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRoleOrdering(t *testing.T) {
	ordered := []Role{RoleMember, RoleModerator, RoleAdmin, RoleOwner}

	for i, lower := range ordered {
		for j, higher := range ordered {
			assert.Equal(t, j > i, higher.Outranks(lower), "%s outranks %s", higher, lower)
		}
	}

	assert.False(t, Role("ghost").Valid())
	assert.Equal(t, 0, Role("ghost").Rank())
	assert.True(t, RoleMember.Outranks(Role("ghost")))
}
