package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

var tradeTeamCols = []string{"id", "name", "description", "color", "construction_group_id", "is_active",
	"created_at", "updated_at", "crew_count", "volunteer_count"}

func newTradeTeamRepo(t *testing.T) (*TradeTeamRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewTradeTeamRepository(db), mock
}

func TestListTradeTeams_ActiveOnly(t *testing.T) {
	repo, mock := newTradeTeamRepo(t)
	now := time.Now()
	mock.ExpectQuery(`FROM trade_teams t WHERE 1=1 AND t.construction_group_id = \$1 AND t.is_active = \$2 ORDER BY t.name`).
		WithArgs("cg-1", true).
		WillReturnRows(sqlmock.NewRows(tradeTeamCols).
			AddRow("team-1", "Electrical", nil, "#f59e0b", "cg-1", true, now, now, 3, 12))

	teams, err := repo.ListTradeTeams(context.Background(), strPtr("cg-1"), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(teams) != 1 || teams[0].CrewCount != 3 || teams[0].VolunteerCount != 12 {
		t.Errorf("teams = %+v", teams)
	}
}

func TestLockTradeTeam_Missing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTradeTeamRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM trade_teams WHERE id = \$1 FOR UPDATE`).
		WithArgs("team-x").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	tx, err := db.Beginx()
	if err != nil {
		t.Fatalf("Beginx: %v", err)
	}
	defer tx.Rollback()
	ok, err := repo.LockTradeTeam(context.Background(), tx, "team-x")
	if err != nil || ok {
		t.Errorf("LockTradeTeam = %v, %v", ok, err)
	}
}

func TestLockCrew_Found(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTradeTeamRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM crews WHERE id = \$1 FOR UPDATE`).
		WithArgs("crew-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("crew-1"))
	mock.ExpectRollback()

	tx, err := db.Beginx()
	if err != nil {
		t.Fatalf("Beginx: %v", err)
	}
	defer tx.Rollback()
	ok, err := repo.LockCrew(context.Background(), tx, "crew-1")
	if err != nil || !ok {
		t.Errorf("LockCrew = %v, %v", ok, err)
	}
}

func TestSeedStandardTeams_SkipsExisting(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTradeTeamRepository(db)

	mock.ExpectBegin()
	for i, std := range models.StandardTradeTeams {
		exec := mock.ExpectExec("INSERT INTO trade_teams.*ON CONFLICT")
		if i == 0 {
			exec.WillReturnResult(sqlmock.NewResult(0, 0))
			continue
		}
		exec.WillReturnResult(sqlmock.NewResult(0, 1))
		for range std.Crews {
			mock.ExpectExec("INSERT INTO crews").WillReturnResult(sqlmock.NewResult(0, 1))
		}
	}
	mock.ExpectCommit()

	tx, err := db.Beginx()
	if err != nil {
		t.Fatalf("Beginx: %v", err)
	}
	created, err := repo.SeedStandardTeams(context.Background(), tx, strPtr("cg-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(created) != len(models.StandardTradeTeams)-1 {
		t.Errorf("created %d teams, want %d", len(created), len(models.StandardTradeTeams)-1)
	}
	for _, name := range created {
		if name == models.StandardTradeTeams[0].Name {
			t.Errorf("existing team %q reported as created", name)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
