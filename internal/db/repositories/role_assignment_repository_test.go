package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

var assignmentCols = []string{"id", "volunteer_id", "role_id", "assignment_type", "scope", "entity_type",
	"entity_id", "is_primary", "is_active", "start_date", "end_date", "assigned_by",
	"consultation_required", "consultation_status", "notes", "created_at", "updated_at",
	"role_code", "role_name", "role_category", "volunteer_first_name", "volunteer_last_name"}

func sampleAssignmentRow(id string, primary bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(assignmentCols).AddRow(
		id, "vol-1", "role-tto", "oversight", "TRADE_TEAM:team-1", "TRADE_TEAM",
		"team-1", primary, true, now, nil, "user-1",
		false, nil, nil, now, now,
		"TTO", "Trade Team Overseer", "TRADE_TEAM", "Ann", "Lee")
}

func newRoleAssignmentRepo(t *testing.T) (*RoleAssignmentRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewRoleAssignmentRepository(db), mock
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func TestListAssignments_Filters(t *testing.T) {
	repo, mock := newRoleAssignmentRepo(t)
	active := true
	mock.ExpectQuery(`FROM role_assignments ra.*WHERE 1=1 AND v.construction_group_id = \$1 AND ra.volunteer_id = \$2 AND ra.is_active = \$3 ORDER BY ra.created_at DESC$`).
		WithArgs("cg-1", "vol-1", true).
		WillReturnRows(sampleAssignmentRow("ra-1", true))

	out, err := repo.ListAssignments(context.Background(), RoleAssignmentFilters{
		ConstructionGroupID: strPtr("cg-1"),
		VolunteerID:         "vol-1",
		IsActive:            &active,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].RoleCode != "TTO" {
		t.Errorf("out = %+v", out)
	}
}

func TestGetAssignment_NotFound(t *testing.T) {
	repo, mock := newRoleAssignmentRepo(t)
	mock.ExpectQuery(`WHERE ra.id = \$1`).WithArgs("missing").WillReturnRows(sqlmock.NewRows(assignmentCols))

	a, err := repo.GetAssignment(context.Background(), repo.DB(), "missing")
	if err != nil || a != nil {
		t.Errorf("GetAssignment = %v, %v; want nil, nil", a, err)
	}
}

func TestCountActiveHolders(t *testing.T) {
	repo, mock := newRoleAssignmentRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM role_assignments.*entity_type = \\$1").
		WithArgs("CREW", "crew-1", "role-tco").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	n, err := repo.CountActiveHolders(context.Background(), repo.DB(), "CREW", "crew-1", "role-tco")
	if err != nil || n != 1 {
		t.Errorf("CountActiveHolders = %d, %v", n, err)
	}
}

func TestExistsActive(t *testing.T) {
	repo, mock := newRoleAssignmentRepo(t)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("vol-1", "role-1", "CG").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.ExistsActive(context.Background(), repo.DB(), "vol-1", "role-1", "CG")
	if err != nil || !ok {
		t.Errorf("ExistsActive = %v, %v", ok, err)
	}
}

func TestFindActiveInGroup_AllGroups(t *testing.T) {
	repo, mock := newRoleAssignmentRepo(t)
	mock.ExpectQuery(`WHERE r.code = \$1 AND ra.is_active`).
		WithArgs("CGO").
		WillReturnRows(sampleAssignmentRow("ra-9", true))

	a, err := repo.FindActiveInGroup(context.Background(), repo.DB(), "CGO", nil)
	if err != nil || a == nil || a.ID != "ra-9" {
		t.Errorf("FindActiveInGroup = %v, %v", a, err)
	}
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

func TestInsertAssignment_PrimaryConflict(t *testing.T) {
	repo, mock := newRoleAssignmentRepo(t)
	mock.ExpectExec("INSERT INTO role_assignments").WillReturnError(uniqueViolation("role_assignments_one_primary"))

	err := repo.InsertAssignment(context.Background(), repo.DB(), &models.RoleAssignment{VolunteerID: "vol-1", IsPrimary: true})
	if !errors.Is(err, ErrPrimaryConflict) {
		t.Errorf("err = %v, want ErrPrimaryConflict", err)
	}
}

func TestInsertAssignment_Duplicate(t *testing.T) {
	repo, mock := newRoleAssignmentRepo(t)
	mock.ExpectExec("INSERT INTO role_assignments").WillReturnError(uniqueViolation("role_assignments_active_unique"))

	err := repo.InsertAssignment(context.Background(), repo.DB(), &models.RoleAssignment{VolunteerID: "vol-1"})
	if !errors.Is(err, ErrDuplicateAssignment) {
		t.Errorf("err = %v, want ErrDuplicateAssignment", err)
	}
}

func TestInsertAssignment_SetsStartDate(t *testing.T) {
	repo, mock := newRoleAssignmentRepo(t)
	mock.ExpectExec("INSERT INTO role_assignments").WillReturnResult(sqlmock.NewResult(1, 1))

	a := &models.RoleAssignment{VolunteerID: "vol-1"}
	if err := repo.InsertAssignment(context.Background(), repo.DB(), a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID == "" || a.StartDate.IsZero() {
		t.Errorf("ID = %q, StartDate = %v", a.ID, a.StartDate)
	}
}

func TestClearPrimary(t *testing.T) {
	repo, mock := newRoleAssignmentRepo(t)
	mock.ExpectExec("UPDATE role_assignments SET is_primary = false").
		WithArgs("vol-1", "ra-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.ClearPrimary(context.Background(), repo.DB(), "vol-1", "ra-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDeleteAssignment(t *testing.T) {
	repo, mock := newRoleAssignmentRepo(t)
	mock.ExpectExec("DELETE FROM role_assignments").WithArgs("ra-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM role_assignments").WithArgs("ra-x").WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.DeleteAssignment(context.Background(), repo.DB(), "ra-1")
	if err != nil || !ok {
		t.Errorf("first delete = %v, %v", ok, err)
	}
	ok, err = repo.DeleteAssignment(context.Background(), repo.DB(), "ra-x")
	if err != nil || ok {
		t.Errorf("second delete = %v, %v", ok, err)
	}
}

func TestExpireEnded(t *testing.T) {
	repo, mock := newRoleAssignmentRepo(t)
	now := time.Now()
	cols := []string{"id", "volunteer_id", "role_id", "assignment_type", "scope", "entity_type", "entity_id",
		"is_primary", "is_active", "start_date", "end_date", "created_at", "updated_at"}
	mock.ExpectQuery("UPDATE role_assignments.*RETURNING").
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("ra-1", "vol-1", "role-1", "standard", "CG", nil, nil, false, false, now, now, now, now))

	out, err := repo.ExpireEnded(context.Background(), now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].IsActive {
		t.Errorf("out = %+v", out)
	}
}

func TestRoleAssignmentGetStats(t *testing.T) {
	repo, mock := newRoleAssignmentRepo(t)
	mock.ExpectQuery("SELECT COUNT.*FROM role_assignments ra").
		WithArgs("cg-1").
		WillReturnRows(sqlmock.NewRows([]string{"total", "active", "primary"}).AddRow(5, 4, 2))
	mock.ExpectQuery("SELECT r.category").
		WillReturnRows(sqlmock.NewRows([]string{"k", "n"}).AddRow("TRADE_TEAM", 3))
	mock.ExpectQuery("SELECT r.code").
		WillReturnRows(sqlmock.NewRows([]string{"k", "n"}).AddRow("TTO", 3))
	mock.ExpectQuery("SELECT ra.assignment_type").
		WillReturnRows(sqlmock.NewRows([]string{"k", "n"}).AddRow("oversight", 3))

	stats, err := repo.GetStats(context.Background(), strPtr("cg-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 5 || stats.Active != 4 || stats.Primary != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ByRole["TTO"] != 3 || stats.ByType["oversight"] != 3 {
		t.Errorf("ByRole = %v ByType = %v", stats.ByRole, stats.ByType)
	}
}

func TestUserHoldsRole(t *testing.T) {
	repo, mock := newRoleAssignmentRepo(t)
	mock.ExpectQuery(`WHERE v.user_id = \$1 AND ra.is_active AND r.code = ANY\(\$2\)`).
		WithArgs("user-1", pq.Array(models.PersonnelRoleCodes)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.UserHoldsRole(context.Background(), "user-1", models.PersonnelRoleCodes)
	if err != nil || !ok {
		t.Errorf("UserHoldsRole = %v, %v", ok, err)
	}
}
