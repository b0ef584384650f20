package admin

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/ldc-construction/ldc-tools/internal/audit"
	"github.com/ldc-construction/ldc-tools/internal/auth"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var userCols = []string{"id", "email", "name", "password_hash", "role", "admin_level", "region_id", "zone_id",
	"construction_group_id", "is_active", "last_login_at", "created_at", "updated_at"}

func userRow(rows *sqlmock.Rows, u *models.User) *sqlmock.Rows {
	return rows.AddRow(u.ID, u.Email, u.Name, u.PasswordHash, u.Role, nil, nil, nil,
		u.ConstructionGroupID, u.IsActive, nil, time.Now(), time.Now())
}

func testUser(id, role, cg string) *models.User {
	u := &models.User{ID: id, Email: id + "@example.org", Role: role, IsActive: true}
	if cg != "" {
		u.ConstructionGroupID = &cg
	}
	return u
}

// asUser injects u the way the auth middleware does. A nil u leaves the request anonymous.
func asUser(u *models.User) gin.HandlerFunc {
	return func(c *gin.Context) {
		if u != nil {
			c.Set("user", u)
			c.Set("user_id", u.ID)
			c.Set("claims", auth.ClaimsForUser(u))
		}
		c.Next()
	}
}

func newMockDB(t *testing.T, opts ...sqlmock.Option) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	return sqlx.NewDb(raw, "postgres"), mock
}

func newRecorder(db *sqlx.DB) *audit.Recorder {
	return audit.NewRecorder(repositories.NewAuditRepository(db), nil)
}

func expectAudit(mock sqlmock.Sqlmock) {
	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(0, 1))
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
