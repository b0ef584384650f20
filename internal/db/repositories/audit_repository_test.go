package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

var auditViewCols = []string{"id", "user_id", "action", "resource", "resource_id", "construction_group_id",
	"old_values", "new_values", "metadata", "ip_address", "user_agent", "timestamp",
	"user_name", "user_email", "user_role", "construction_group_name"}

func sampleAuditRow() *sqlmock.Rows {
	return sqlmock.NewRows(auditViewCols).AddRow(
		"log-1", "user-1", "CREATE", "volunteer", "vol-1", "cg-1",
		nil, []byte(`{"first_name":"Ann"}`), nil, "10.0.0.1", "curl/8", time.Now(),
		"Alice", "alice@example.com", "ADMIN", "CG 01.12")
}

func newAuditRepo(t *testing.T) (*AuditRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewAuditRepository(db), mock
}

// ---------------------------------------------------------------------------
// CreateAuditLog
// ---------------------------------------------------------------------------

func TestCreateAuditLog_FillsDefaults(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	log := &models.AuditLog{Action: models.ActionCreate, Resource: models.ResourceVolunteer}
	if err := repo.CreateAuditLog(context.Background(), nil, log); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if log.ID == "" {
		t.Error("expected generated ID")
	}
	if log.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestCreateAuditLog_UsesTransaction(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := db.Beginx()
	if err != nil {
		t.Fatalf("Beginx: %v", err)
	}
	if err := repo.CreateAuditLog(context.Background(), tx, &models.AuditLog{Action: "DELETE", Resource: "crew"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCreateAuditLog_DBError(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnError(errDB)

	if err := repo.CreateAuditLog(context.Background(), nil, &models.AuditLog{}); err == nil {
		t.Fatal("expected error, got nil")
	}
}

// ---------------------------------------------------------------------------
// ListAuditLogs / ExportAuditLogs
// ---------------------------------------------------------------------------

func TestListAuditLogs_Filters(t *testing.T) {
	repo, mock := newAuditRepo(t)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_logs a WHERE 1=1 AND a.user_id = \$1 AND a.action = \$2 AND a.timestamp >= \$3`).
		WithArgs("user-1", "CREATE", from).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`FROM audit_logs a.*LEFT JOIN users u.*ORDER BY a.timestamp DESC LIMIT \$4 OFFSET \$5`).
		WithArgs("user-1", "CREATE", from, 50, 0).
		WillReturnRows(sampleAuditRow())

	logs, total, err := repo.ListAuditLogs(context.Background(),
		AuditFilters{UserID: "user-1", Action: "CREATE", DateFrom: &from}, 50, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(logs) != 1 {
		t.Fatalf("got %d logs (total %d)", len(logs), total)
	}
	if logs[0].DisplayUser() != "Alice" {
		t.Errorf("DisplayUser = %s, want Alice", logs[0].DisplayUser())
	}
	if logs[0].NewValues.Map()["first_name"] != "Ann" {
		t.Errorf("NewValues = %s", logs[0].NewValues)
	}
}

func TestListAuditLogs_SearchUsesThreeArgs(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_logs a WHERE 1=1 AND \(a.action ILIKE \$1 OR a.resource ILIKE \$2 OR a.resource_id ILIKE \$3\)`).
		WithArgs("%crew%", "%crew%", "%crew%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("FROM audit_logs a").WillReturnRows(sqlmock.NewRows(auditViewCols))

	logs, total, err := repo.ListAuditLogs(context.Background(), AuditFilters{Search: "crew"}, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 || len(logs) != 0 {
		t.Errorf("got %d logs (total %d)", len(logs), total)
	}
}

func TestExportAuditLogs_Caps(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectQuery(`FROM audit_logs a.*LIMIT \$1 OFFSET \$2`).
		WithArgs(10000, 0).
		WillReturnRows(sampleAuditRow())

	logs, err := repo.ExportAuditLogs(context.Background(), AuditFilters{}, 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logs) != 1 {
		t.Errorf("len = %d, want 1", len(logs))
	}
}

// ---------------------------------------------------------------------------
// GetStats / DeleteOlderThan
// ---------------------------------------------------------------------------

func TestAuditGetStats(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectQuery(`SELECT COUNT.*FROM audit_logs a WHERE 1=1$`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "last24h"}).AddRow(12, 4))
	mock.ExpectQuery(`SELECT a.action, COUNT.*FROM audit_logs a WHERE 1=1 GROUP BY 1`).
		WillReturnRows(sqlmock.NewRows([]string{"action", "count"}).AddRow("CREATE", 8).AddRow("DELETE", 4))
	mock.ExpectQuery(`SELECT a.resource, COUNT.*FROM audit_logs a WHERE 1=1 GROUP BY 1`).
		WillReturnRows(sqlmock.NewRows([]string{"resource", "count"}).AddRow("volunteer", 12))

	stats, err := repo.GetStats(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 12 || stats.Last24h != 4 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ByAction["DELETE"] != 4 || stats.ByResource["volunteer"] != 12 {
		t.Errorf("ByAction = %v ByResource = %v", stats.ByAction, stats.ByResource)
	}
}

func TestAuditGetStats_ScopedToGroup(t *testing.T) {
	repo, mock := newAuditRepo(t)
	mock.ExpectQuery(`FROM audit_logs a WHERE 1=1 AND a.construction_group_id = \$1$`).WithArgs("cg-1").
		WillReturnRows(sqlmock.NewRows([]string{"total", "last24h"}).AddRow(2, 0))
	mock.ExpectQuery(`SELECT a.action.*a.construction_group_id = \$1 GROUP BY 1`).WithArgs("cg-1").
		WillReturnRows(sqlmock.NewRows([]string{"action", "count"}))
	mock.ExpectQuery(`SELECT a.resource.*a.construction_group_id = \$1 GROUP BY 1`).WithArgs("cg-1").
		WillReturnRows(sqlmock.NewRows([]string{"resource", "count"}))

	stats, err := repo.GetStats(context.Background(), strPtr("cg-1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("Total = %d, want 2", stats.Total)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	repo, mock := newAuditRepo(t)
	cutoff := time.Now().AddDate(0, 0, -90)
	mock.ExpectExec("DELETE FROM audit_logs WHERE timestamp < ").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 17))

	n, err := repo.DeleteOlderThan(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 17 {
		t.Errorf("deleted = %d, want 17", n)
	}
}
