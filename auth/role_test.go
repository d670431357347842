package auth

import (
	"errors"
	"testing"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{in: "ADMIN", want: RoleAdmin},
		{in: "admin", want: RoleAdmin},
		{in: " User ", want: RoleUser},
		{in: "ROLE_USER", want: RoleUser},
		{in: "root", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownRole) {
				t.Fatalf("ParseRole(%q) error = %v, want ErrUnknownRole", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseRole(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestParseRolesNormalises(t *testing.T) {
	roles, err := ParseRoles([]string{"user", "ADMIN", "User"})
	if err != nil {
		t.Fatalf("ParseRoles() error = %v", err)
	}
	if len(roles) != 2 || roles[0] != RoleAdmin || roles[1] != RoleUser {
		t.Fatalf("ParseRoles() = %v", roles)
	}
	if _, err := ParseRoles([]string{"user", "owner"}); err == nil {
		t.Fatal("ParseRoles() accepted an unknown role")
	}
	if got := RoleStrings(roles); got[0] != "ADMIN" || got[1] != "USER" {
		t.Fatalf("RoleStrings() = %v", got)
	}
}

func TestPermissions(t *testing.T) {
	user := Principal{Roles: []Role{RoleUser}}
	admin := Principal{Roles: []Role{RoleAdmin}}
	none := Principal{}

	if !user.Can(PermProfileRead) || user.Can(PermUserRead) || user.Can(PermUserManage) {
		t.Fatal("USER permissions wrong")
	}
	for _, p := range []Permission{PermProfileRead, PermUserRead, PermUserManage} {
		if !admin.Can(p) {
			t.Fatalf("ADMIN lacks %s", p)
		}
	}
	if none.Can(PermProfileRead) {
		t.Fatal("principal without roles has permissions")
	}
	if !admin.HasRole(RoleUser, RoleAdmin) || admin.HasRole(RoleUser) {
		t.Fatal("HasRole() wrong")
	}
}
