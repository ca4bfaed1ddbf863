package protocol

import "testing"

func TestRoleLevelOrdering(t *testing.T) {
	if RoleLevel(RoleAdmin) <= RoleLevel(RoleModerator) {
		t.Error("admin must outrank moderator")
	}
	if RoleLevel(RoleModerator) <= RoleLevel(RoleMember) {
		t.Error("moderator must outrank member")
	}
	if RoleLevel("") >= RoleLevel(RoleMember) {
		t.Error("unknown role must rank below member")
	}
}

func TestValidRole(t *testing.T) {
	for _, role := range []string{RoleAdmin, RoleModerator, RoleMember} {
		if !ValidRole(role) {
			t.Errorf("expected %q valid", role)
		}
	}
	for _, role := range []string{"", "owner", "Admin"} {
		if ValidRole(role) {
			t.Errorf("expected %q invalid", role)
		}
	}
}
