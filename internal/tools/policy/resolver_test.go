package policy

import (
	"testing"

	"github.com/loomkit/adk/pkg/models"
)

func TestResolver_Decide_FailSecureDefaultIsAdminOnly(t *testing.T) {
	r := NewResolver()
	tool := &models.ToolDescriptor{Name: "delete_all", Enabled: true}

	if d := r.Decide(tool, models.AccessRoleUser); d.Allowed {
		t.Errorf("Decide(user) = %+v, want denied (no AllowedRoles defaults to admin-only)", d)
	}
	if d := r.Decide(tool, models.AccessRoleAdmin); !d.Allowed {
		t.Errorf("Decide(admin) = %+v, want allowed", d)
	}
}

func TestResolver_Decide_ExplicitAllowedRoles(t *testing.T) {
	r := NewResolver()
	tool := &models.ToolDescriptor{
		Name:         "search",
		Enabled:      true,
		AllowedRoles: []models.AccessRole{models.AccessRoleUser, models.AccessRoleAdmin},
	}

	if d := r.Decide(tool, models.AccessRoleUser); !d.Allowed {
		t.Errorf("Decide(user) = %+v, want allowed", d)
	}
	if d := r.Decide(tool, models.AccessRoleAdmin); !d.Allowed {
		t.Errorf("Decide(admin) = %+v, want allowed", d)
	}
}

func TestResolver_Decide_DisabledToolAlwaysDenied(t *testing.T) {
	r := NewResolver()
	tool := &models.ToolDescriptor{
		Name:         "search",
		Enabled:      false,
		AllowedRoles: []models.AccessRole{models.AccessRoleUser, models.AccessRoleAdmin},
	}

	if d := r.Decide(tool, models.AccessRoleAdmin); d.Allowed {
		t.Errorf("Decide(admin) = %+v, want denied (tool disabled)", d)
	}
}

func TestResolver_Decide_NilToolIsDenied(t *testing.T) {
	r := NewResolver()
	if d := r.Decide(nil, models.AccessRoleAdmin); d.Allowed {
		t.Errorf("Decide(nil) = %+v, want denied", d)
	}
}

func TestResolver_FilterSelectable_PreservesOrderAndExcludesDenied(t *testing.T) {
	r := NewResolver()
	tools := []*models.ToolDescriptor{
		{Name: "a", Enabled: true, AllowedRoles: []models.AccessRole{models.AccessRoleUser}},
		{Name: "b", Enabled: true}, // admin-only by default
		{Name: "c", Enabled: true, AllowedRoles: []models.AccessRole{models.AccessRoleUser}},
	}

	got := r.FilterSelectable(tools, models.AccessRoleUser)
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "c" {
		t.Errorf("FilterSelectable(user) = %+v, want [a c]", got)
	}

	got = r.FilterSelectable(tools, models.AccessRoleAdmin)
	if len(got) != 1 || got[0].Name != "b" {
		t.Errorf("FilterSelectable(admin) = %+v, want [b]", got)
	}
}

func TestResolver_IsAllowed(t *testing.T) {
	r := NewResolver()
	tool := &models.ToolDescriptor{Name: "t", Enabled: true, AllowedRoles: []models.AccessRole{models.AccessRoleUser}}
	if !r.IsAllowed(tool, models.AccessRoleUser) {
		t.Error("IsAllowed(user) = false, want true")
	}
	if r.IsAllowed(tool, models.AccessRoleAdmin) {
		t.Error("IsAllowed(admin) = true, want false")
	}
}
