package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

var announcementCols = []string{"id", "title", "message", "type", "start_date", "end_date", "construction_group_id",
	"target_roles", "is_active", "created_by", "created_at", "updated_at"}

func TestListCurrent_GlobalOnlyWithoutGroup(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAnnouncementRepository(db)
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`WHERE 1=1 AND is_active = \$1 AND \(start_date IS NULL OR start_date <= \$2\) AND \(end_date IS NULL OR end_date >= \$3\) AND construction_group_id IS NULL ORDER BY created_at DESC`).
		WithArgs(true, now, now).
		WillReturnRows(sqlmock.NewRows(announcementCols).AddRow("a-1", "Hello", "Welcome", models.AnnouncementInfo,
			nil, nil, nil, "{ADMIN}", true, nil, now, now))

	out, err := repo.ListCurrent(context.Background(), nil, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || !out[0].Targets(models.RoleAdmin) || out[0].Targets(models.RoleUser) {
		t.Errorf("out = %+v", out)
	}
}

func TestListCurrent_GroupSeesGlobal(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAnnouncementRepository(db)
	now := time.Now()
	mock.ExpectQuery(`AND \(construction_group_id IS NULL OR construction_group_id = \$4\)`).
		WithArgs(true, now, now, "cg-1").
		WillReturnRows(sqlmock.NewRows(announcementCols))

	if _, err := repo.ListCurrent(context.Background(), strPtr("cg-1"), now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateAnnouncement_EmptyTargets(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAnnouncementRepository(db)
	mock.ExpectExec("INSERT INTO announcements").WillReturnResult(sqlmock.NewResult(0, 1))

	a := &models.Announcement{Title: "t", Message: "m", Type: models.AnnouncementInfo, IsActive: true}
	if err := repo.CreateAnnouncement(context.Background(), a); err != nil {
		t.Fatalf("CreateAnnouncement: %v", err)
	}
	if a.ID == "" || a.TargetRoles == nil || !a.Targets(models.RoleUser) {
		t.Errorf("a = %+v", a)
	}
}
