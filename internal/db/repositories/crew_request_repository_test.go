package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

var crewRequestCols = []string{"id", "construction_group_id", "request_type", "requestor_name", "requestor_email",
	"volunteer_name", "volunteer_ba_id", "trade_team_id", "crew_id", "crew_name", "project_id",
	"project_roster_name", "comments", "status", "assigned_to_id", "resolution_notes", "completed_at",
	"completed_by_id", "submitted_by_id", "created_at", "updated_at",
	"assigned_to_name", "assigned_to_email", "completed_by_name"}

func TestListRequests_Filters(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCrewRequestRepository(db)
	now := time.Now()
	mock.ExpectQuery(`FROM crew_change_requests cr .* WHERE 1=1 AND cr.construction_group_id = \$1 AND cr.status = \$2 AND cr.assigned_to_id = \$3 ORDER BY cr.created_at DESC$`).
		WithArgs("cg-1", models.CrewRequestInProgress, "user-2").
		WillReturnRows(sqlmock.NewRows(crewRequestCols).AddRow("cr-1", "cg-1", models.CrewRequestAddToCrew,
			"Omar", "omar@example.org", "Ruth Park", nil, nil, nil, nil, nil, nil, nil,
			models.CrewRequestInProgress, "user-2", nil, nil, nil, "user-1", now, now,
			"Kim Lo", "kim@example.org", nil))

	out, err := repo.ListRequests(context.Background(), CrewRequestFilters{
		ConstructionGroupID: strPtr("cg-1"),
		Status:              models.CrewRequestInProgress,
		AssignedToID:        "user-2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].AssignedTo == nil || out[0].AssignedTo.ID != "user-2" || out[0].CompletedBy != nil {
		t.Errorf("out = %+v", out)
	}
}

func TestGetRequest_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCrewRequestRepository(db)
	mock.ExpectQuery(`WHERE cr.id = \$1`).WithArgs("missing").WillReturnRows(sqlmock.NewRows(crewRequestCols))

	cr, err := repo.GetRequest(context.Background(), "missing")
	if err != nil || cr != nil {
		t.Errorf("GetRequest = %v, %v; want nil, nil", cr, err)
	}
}

func TestCreateRequest_DefaultsToNew(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCrewRequestRepository(db)
	mock.ExpectExec("INSERT INTO crew_change_requests").WillReturnResult(sqlmock.NewResult(0, 1))

	cr := &models.CrewChangeRequest{ConstructionGroupID: "cg-1", RequestType: models.CrewRequestAddToCrew, VolunteerName: "Ruth Park"}
	if err := repo.CreateRequest(context.Background(), cr); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if cr.ID == "" || cr.Status != models.CrewRequestNew {
		t.Errorf("cr = %+v", cr)
	}
}

func TestDeleteRequest_Missing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCrewRequestRepository(db)
	mock.ExpectExec(`DELETE FROM crew_change_requests WHERE id = \$1`).WithArgs("cr-9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	found, err := repo.DeleteRequest(context.Background(), "cr-9")
	if err != nil || found {
		t.Errorf("DeleteRequest = %v, %v; want false", found, err)
	}
}
