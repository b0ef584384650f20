package models

import (
	"testing"
	"time"
)

func strPtr(s string) *string { return &s }

// ---------------------------------------------------------------------------
// JSON
// ---------------------------------------------------------------------------

func TestJSON_ValueEmptyIsNull(t *testing.T) {
	var j JSON
	v, err := j.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if v != nil {
		t.Errorf("Value() = %v, want nil", v)
	}
}

func TestJSON_ScanBytesCopies(t *testing.T) {
	src := []byte(`{"a":1}`)
	var j JSON
	if err := j.Scan(src); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	src[2] = 'x'
	if string(j) != `{"a":1}` {
		t.Errorf("Scan aliased the driver buffer: %s", j)
	}
}

func TestJSON_ScanRejectsUnknownType(t *testing.T) {
	var j JSON
	if err := j.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}

func TestJSON_MarshalEmptyIsNull(t *testing.T) {
	b, _ := JSON(nil).MarshalJSON()
	if string(b) != "null" {
		t.Errorf("MarshalJSON = %s, want null", b)
	}
}

func TestJSON_Map(t *testing.T) {
	m := MustJSON(map[string]interface{}{"k": "v"}).Map()
	if m["k"] != "v" {
		t.Errorf("Map()[k] = %v", m["k"])
	}
	if len(JSON(nil).Map()) != 0 {
		t.Error("Map of NULL should be empty")
	}
}

// ---------------------------------------------------------------------------
// User
// ---------------------------------------------------------------------------

func TestUser_DisplayName(t *testing.T) {
	u := &User{Email: "a@example.com"}
	if u.DisplayName() != "a@example.com" {
		t.Errorf("DisplayName = %q", u.DisplayName())
	}
	u.Name = strPtr("Alice")
	if u.DisplayName() != "Alice" {
		t.Errorf("DisplayName = %q", u.DisplayName())
	}
}

func TestUser_IsAdmin(t *testing.T) {
	for role, want := range map[string]bool{
		RoleUser:          false,
		RoleReadOnlyAdmin: true,
		RoleAdmin:         true,
		RoleSuperAdmin:    true,
	} {
		if got := (&User{Role: role}).IsAdmin(); got != want {
			t.Errorf("IsAdmin(%s) = %v, want %v", role, got, want)
		}
	}
}

func TestIsValidUserRole(t *testing.T) {
	if !IsValidUserRole(RoleAdmin) || IsValidUserRole("OWNER") {
		t.Error("IsValidUserRole mismatch")
	}
}

// ---------------------------------------------------------------------------
// Volunteer
// ---------------------------------------------------------------------------

func TestVolunteer_PrimaryEmail(t *testing.T) {
	v := &Volunteer{}
	if v.PrimaryEmail() != "" {
		t.Error("expected empty email")
	}
	v.EmailPersonal = strPtr("home@example.com")
	if v.PrimaryEmail() != "home@example.com" {
		t.Errorf("PrimaryEmail = %q", v.PrimaryEmail())
	}
	v.EmailJW = strPtr("jw@example.org")
	if v.PrimaryEmail() != "jw@example.org" {
		t.Errorf("PrimaryEmail = %q", v.PrimaryEmail())
	}
}

func TestVolunteer_FullName(t *testing.T) {
	v := &Volunteer{FirstName: "John", LastName: "Doe"}
	if v.FullName() != "John Doe" {
		t.Errorf("FullName = %q", v.FullName())
	}
}

// ---------------------------------------------------------------------------
// Oversight catalog
// ---------------------------------------------------------------------------

func TestFindOversightLimit(t *testing.T) {
	tests := []struct {
		entity, code string
		max          int
		ok           bool
	}{
		{EntityTradeTeam, RoleCodeTTO, 1, true},
		{EntityTradeTeam, RoleCodeTTOA, 2, true},
		{EntityTradeTeam, RoleCodeTTSupport, 0, true},
		{EntityCrew, RoleCodeTCO, 1, true},
		{EntityCrew, RoleCodeTCOA, 3, true},
		{EntityCrew, RoleCodeTTO, 0, false},
		{EntityTradeTeam, RoleCodeTCO, 0, false},
	}
	for _, tt := range tests {
		l, ok := FindOversightLimit(tt.entity, tt.code)
		if ok != tt.ok || l.Max != tt.max {
			t.Errorf("FindOversightLimit(%s, %s) = (%d, %v), want (%d, %v)", tt.entity, tt.code, l.Max, ok, tt.max, tt.ok)
		}
	}
}

func TestRoleAssignment_IsExpired(t *testing.T) {
	now := time.Now()
	a := &RoleAssignment{}
	if a.IsExpired(now) {
		t.Error("open-ended assignment reported expired")
	}
	past := now.Add(-time.Hour)
	a.EndDate = &past
	if !a.IsExpired(now) {
		t.Error("past end date not reported expired")
	}
}

// ---------------------------------------------------------------------------
// Audit / project contacts / defaults
// ---------------------------------------------------------------------------

func TestAuditLogView_DisplayUser(t *testing.T) {
	v := &AuditLogView{}
	if v.DisplayUser() != "System" {
		t.Errorf("DisplayUser = %q, want System", v.DisplayUser())
	}
	v.UserEmail = strPtr("a@example.com")
	if v.DisplayUser() != "a@example.com" {
		t.Errorf("DisplayUser = %q", v.DisplayUser())
	}
	v.UserName = strPtr("Alice")
	if v.DisplayUser() != "Alice" {
		t.Errorf("DisplayUser = %q", v.DisplayUser())
	}
}

func TestProjectCongregation_Contacts(t *testing.T) {
	p := &ProjectCongregation{FoodContactName: strPtr("F"), SecurityContactPhone: strPtr("555")}
	if *p.FoodContact().Name != "F" {
		t.Error("food contact name not mapped")
	}
	if *p.SecurityContact().Phone != "555" {
		t.Error("security contact phone not mapped")
	}
	if p.VolunteerContact().Email != nil {
		t.Error("volunteer contact should be empty")
	}
}

func TestDefaultEmailConfig(t *testing.T) {
	c := DefaultEmailConfig()
	if c.SMTPHost != "smtp.gmail.com" || c.SMTPPort != 587 || c.Encryption != "tls" {
		t.Errorf("unexpected defaults: %+v", c)
	}
	if c.FromName != "LDC Tools" || c.TestStatus != EmailTestUntested {
		t.Errorf("unexpected defaults: %+v", c)
	}
}
