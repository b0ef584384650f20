package crewrequests

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldc-construction/ldc-tools/internal/auth"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/email"
	"github.com/ldc-construction/ldc-tools/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var requestCols = []string{"id", "construction_group_id", "request_type", "requestor_name", "requestor_email",
	"volunteer_name", "volunteer_ba_id", "trade_team_id", "crew_id", "crew_name", "project_id",
	"project_roster_name", "comments", "status", "assigned_to_id", "resolution_notes", "completed_at",
	"completed_by_id", "submitted_by_id", "created_at", "updated_at",
	"assigned_to_name", "assigned_to_email", "completed_by_name"}

var userCols = []string{"id", "email", "name", "password_hash", "role", "admin_level", "region_id", "zone_id",
	"construction_group_id", "is_active", "last_login_at", "created_at", "updated_at"}

func requestRow(id, cg, status string, assignee, completedBy interface{}) *sqlmock.Rows {
	crew := "Electrical A"
	return sqlmock.NewRows(requestCols).AddRow(id, cg, models.CrewRequestAddToCrew, "Omar", "omar@example.org",
		"Ruth Park", nil, nil, nil, crew, nil, nil, nil, status, assignee, nil, nil, completedBy, "sub-1",
		time.Now(), time.Now(), nil, nil, nil)
}

type fakeMailer struct {
	err     error
	to      []string
	details []email.CrewRequestDetails
}

func (m *fakeMailer) Configured(context.Context) bool { return true }

func (m *fakeMailer) SendCrewRequestCompleted(_ context.Context, to string, d email.CrewRequestDetails) error {
	m.to = append(m.to, to)
	m.details = append(m.details, d)
	return m.err
}

func testUser(id, role, cg string) *models.User {
	name := "Dana Cruz"
	u := &models.User{ID: id, Email: id + "@example.org", Name: &name, Role: role, IsActive: true}
	if cg != "" {
		u.ConstructionGroupID = &cg
	}
	return u
}

func asUser(u *models.User) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("user", u)
		c.Set("user_id", u.ID)
		c.Set("claims", auth.ClaimsForUser(u))
		c.Set("role", u.Role)
		c.Set("scopes", auth.ScopesForRole(u.Role))
		c.Next()
	}
}

func newRouter(t *testing.T, u *models.User, mail services.CompletionMailer) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	db := sqlx.NewDb(raw, "postgres")

	svc := services.NewCrewRequestService(repositories.NewCrewRequestRepository(db),
		repositories.NewUserRepository(db), repositories.NewRoleAssignmentRepository(db), mail)
	h := NewCrewRequestHandlers(db, svc)

	r := gin.New()
	r.Use(asUser(u))
	read := h.RequirePersonnel(auth.ScopeCrewRequestsRead)
	write := h.RequirePersonnel(auth.ScopeCrewRequestsWrite)
	r.POST("/crew-requests", h.SubmitHandler())
	r.GET("/crew-requests/mine", h.MyRequestsHandler())
	r.GET("/crew-requests", read, h.ListRequestsHandler())
	r.GET("/crew-requests/:id", read, h.GetRequestHandler())
	r.PATCH("/crew-requests/:id", write, h.UpdateRequestHandler())
	r.DELETE("/crew-requests/:id", h.DeleteRequestHandler())
	return mock, r
}

func do(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m), w.Body.String())
	return m
}

func expectHoldsRole(mock sqlmock.Sqlmock, userID string, holds bool) {
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM role_assignments ra`).WithArgs(userID, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(holds))
}

func TestSubmit(t *testing.T) {
	t.Run("requires a construction group", func(t *testing.T) {
		_, r := newRouter(t, testUser("u-1", models.RoleUser, ""), nil)
		w := do(r, http.MethodPost, "/crew-requests", map[string]string{
			"request_type": "add_to_crew", "volunteer_name": "Ruth Park",
		})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "No construction group assigned", decode(t, w)["error"])
	})

	t.Run("validation", func(t *testing.T) {
		_, r := newRouter(t, testUser("u-1", models.RoleUser, "cg-1"), nil)
		w := do(r, http.MethodPost, "/crew-requests", map[string]string{"request_type": "ADD_TO_CREW"})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = do(r, http.MethodPost, "/crew-requests", map[string]string{"request_type": "PROMOTE", "volunteer_name": "Ruth"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Invalid request type", decode(t, w)["error"])
	})

	t.Run("stores the submitter as requestor", func(t *testing.T) {
		mock, r := newRouter(t, testUser("u-1", models.RoleUser, "cg-1"), nil)
		mock.ExpectExec("INSERT INTO crew_change_requests").WillReturnResult(sqlmock.NewResult(0, 1))

		w := do(r, http.MethodPost, "/crew-requests", map[string]interface{}{
			"request_type": "add_to_crew", "volunteer_name": " Ruth Park ", "crew_name": "Electrical A",
			"override_requestor_name": "Someone Else", "override_requestor_email": "else@example.org",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		body := decode(t, w)
		assert.Equal(t, models.CrewRequestAddToCrew, body["request_type"])
		assert.Equal(t, "Ruth Park", body["volunteer_name"])
		assert.Equal(t, models.CrewRequestNew, body["status"])
		assert.Equal(t, "cg-1", body["construction_group_id"])
		// only a SUPER_ADMIN may submit on behalf of someone else
		assert.Equal(t, "u-1@example.org", body["requestor_email"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("super admin override", func(t *testing.T) {
		mock, r := newRouter(t, testUser("root", models.RoleSuperAdmin, "cg-1"), nil)
		mock.ExpectExec("INSERT INTO crew_change_requests").WillReturnResult(sqlmock.NewResult(0, 1))

		w := do(r, http.MethodPost, "/crew-requests", map[string]interface{}{
			"request_type": "REMOVE_FROM_CREW", "volunteer_name": "Ruth Park",
			"override_requestor_name": "Omar", "override_requestor_email": "Omar@Example.org",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		body := decode(t, w)
		assert.Equal(t, "Omar", body["requestor_name"])
		assert.Equal(t, "omar@example.org", body["requestor_email"])
	})
}

func TestListRequests(t *testing.T) {
	t.Run("users without a personnel role are refused", func(t *testing.T) {
		mock, r := newRouter(t, testUser("u-1", models.RoleUser, "cg-1"), nil)
		expectHoldsRole(mock, "u-1", false)
		w := do(r, http.MethodGet, "/crew-requests", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("personnel contacts see their group", func(t *testing.T) {
		mock, r := newRouter(t, testUser("u-1", models.RoleUser, "cg-1"), nil)
		expectHoldsRole(mock, "u-1", true)
		mock.ExpectQuery(`FROM crew_change_requests cr .* WHERE 1=1 AND cr.construction_group_id = \$1 ORDER BY cr.created_at DESC`).
			WithArgs("cg-1").
			WillReturnRows(requestRow("req-1", "cg-1", models.CrewRequestNew, nil, nil))

		w := do(r, http.MethodGet, "/crew-requests?status=all", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, 1.0, decode(t, w)["count"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("status and assignee filters", func(t *testing.T) {
		mock, r := newRouter(t, testUser("admin-1", models.RoleAdmin, "cg-1"), nil)
		mock.ExpectQuery(`AND cr.status = \$2 AND cr.assigned_to_id = \$3`).
			WithArgs("cg-1", models.CrewRequestInProgress, "admin-1").
			WillReturnRows(sqlmock.NewRows(requestCols))

		w := do(r, http.MethodGet, "/crew-requests?status=in_progress&assigned_to=me", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid status", func(t *testing.T) {
		_, r := newRouter(t, testUser("admin-1", models.RoleAdmin, "cg-1"), nil)
		w := do(r, http.MethodGet, "/crew-requests?status=DONE", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestMyRequests(t *testing.T) {
	mock, r := newRouter(t, testUser("u-1", models.RoleUser, "cg-1"), nil)
	mock.ExpectQuery(`WHERE 1=1 AND cr.submitted_by_id = \$1`).WithArgs("u-1").
		WillReturnRows(requestRow("req-1", "cg-1", models.CrewRequestNew, nil, nil))

	w := do(r, http.MethodGet, "/crew-requests/mine", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRequest(t *testing.T) {
	admin := testUser("admin-1", models.RoleAdmin, "cg-1")

	t.Run("other group is not found", func(t *testing.T) {
		mock, r := newRouter(t, admin, nil)
		mock.ExpectQuery(`WHERE cr.id = \$1`).WithArgs("req-9").
			WillReturnRows(requestRow("req-9", "cg-2", models.CrewRequestNew, nil, nil))
		w := do(r, http.MethodPatch, "/crew-requests/req-9", map[string]string{"status": "COMPLETED"})
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("assigning moves to in progress", func(t *testing.T) {
		mock, r := newRouter(t, admin, nil)
		mock.ExpectQuery(`WHERE cr.id = \$1`).WithArgs("req-1").
			WillReturnRows(requestRow("req-1", "cg-1", models.CrewRequestNew, nil, nil))
		mock.ExpectQuery(`FROM users WHERE id = \$1`).WithArgs("pc-1").
			WillReturnRows(sqlmock.NewRows(userCols).AddRow("pc-1", "pc@example.org", "Pat", nil, models.RoleUser,
				nil, nil, nil, "cg-1", true, nil, time.Now(), time.Now()))
		mock.ExpectExec("UPDATE crew_change_requests SET status").
			WithArgs(models.CrewRequestInProgress, "pc-1", nil, nil, nil, sqlmock.AnyArg(), "req-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`WHERE cr.id = \$1`).WithArgs("req-1").
			WillReturnRows(requestRow("req-1", "cg-1", models.CrewRequestInProgress, "pc-1", nil))

		w := do(r, http.MethodPatch, "/crew-requests/req-1", map[string]string{"assigned_to_id": "pc-1"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		req := decode(t, w)["request"].(map[string]interface{})
		assert.Equal(t, models.CrewRequestInProgress, req["status"])
		assert.Equal(t, "pc-1", req["assigned_to"].(map[string]interface{})["id"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("completing stamps the completer and emails the requestor", func(t *testing.T) {
		mail := &fakeMailer{}
		mock, r := newRouter(t, admin, mail)
		mock.ExpectQuery(`WHERE cr.id = \$1`).WithArgs("req-1").
			WillReturnRows(requestRow("req-1", "cg-1", models.CrewRequestInProgress, "pc-1", nil))
		mock.ExpectExec("UPDATE crew_change_requests SET status").
			WithArgs(models.CrewRequestCompleted, "pc-1", "Added to roster", sqlmock.AnyArg(), "admin-1", sqlmock.AnyArg(), "req-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		done := requestRow("req-1", "cg-1", models.CrewRequestCompleted, "pc-1", "admin-1")
		mock.ExpectQuery(`WHERE cr.id = \$1`).WithArgs("req-1").WillReturnRows(done)

		w := do(r, http.MethodPatch, "/crew-requests/req-1", map[string]interface{}{
			"status": "completed", "resolution_notes": "Added to roster", "send_completion_email": true,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, true, decode(t, w)["email_sent"])
		require.Equal(t, []string{"omar@example.org"}, mail.to)
		assert.Equal(t, "Dana Cruz", mail.details[0].CompletedBy)
		assert.Equal(t, "Electrical A", mail.details[0].CrewName)
		assert.Equal(t, "Add Volunteer to Crew", mail.details[0].RequestType)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("email failure does not fail the update", func(t *testing.T) {
		mail := &fakeMailer{err: errors.New("535 auth failed")}
		mock, r := newRouter(t, admin, mail)
		mock.ExpectQuery(`WHERE cr.id = \$1`).
			WillReturnRows(requestRow("req-1", "cg-1", models.CrewRequestInProgress, nil, nil))
		mock.ExpectExec("UPDATE crew_change_requests").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`WHERE cr.id = \$1`).
			WillReturnRows(requestRow("req-1", "cg-1", models.CrewRequestCompleted, nil, "admin-1"))

		w := do(r, http.MethodPatch, "/crew-requests/req-1", map[string]interface{}{
			"status": "COMPLETED", "send_completion_email": true,
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, false, decode(t, w)["email_sent"])
		assert.Len(t, mail.to, 1)
	})

	t.Run("invalid status", func(t *testing.T) {
		mock, r := newRouter(t, admin, nil)
		mock.ExpectQuery(`WHERE cr.id = \$1`).
			WillReturnRows(requestRow("req-1", "cg-1", models.CrewRequestNew, nil, nil))
		w := do(r, http.MethodPatch, "/crew-requests/req-1", map[string]string{"status": "ARCHIVED"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestDeleteRequest(t *testing.T) {
	t.Run("requires a personnel contact role", func(t *testing.T) {
		mock, r := newRouter(t, testUser("u-1", models.RoleUser, "cg-1"), nil)
		expectHoldsRole(mock, "u-1", false)
		w := do(r, http.MethodDelete, "/crew-requests/req-1", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, "Only Personnel Contact roles can delete requests", decode(t, w)["error"])
	})

	t.Run("personnel contact deletes", func(t *testing.T) {
		mock, r := newRouter(t, testUser("u-1", models.RoleUser, "cg-1"), nil)
		expectHoldsRole(mock, "u-1", true)
		mock.ExpectQuery(`WHERE cr.id = \$1`).WithArgs("req-1").
			WillReturnRows(requestRow("req-1", "cg-1", models.CrewRequestNew, nil, nil))
		mock.ExpectExec(`DELETE FROM crew_change_requests WHERE id = \$1`).WithArgs("req-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		w := do(r, http.MethodDelete, "/crew-requests/req-1", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("admin cannot delete another group's request", func(t *testing.T) {
		mock, r := newRouter(t, testUser("admin-1", models.RoleAdmin, "cg-1"), nil)
		mock.ExpectQuery(`WHERE cr.id = \$1`).WithArgs("req-2").
			WillReturnRows(requestRow("req-2", "cg-2", models.CrewRequestNew, nil, nil))
		w := do(r, http.MethodDelete, "/crew-requests/req-2", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
