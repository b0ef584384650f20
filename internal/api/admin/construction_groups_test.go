package admin

import (
	"net/http"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

var cgCols = []string{"id", "code", "name", "region_id", "zone_id", "is_active", "created_at", "updated_at"}

func newOrgRouter(t *testing.T, caller *models.User) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	db, mock := newMockDB(t)
	h := NewOrganizationHandlers(db, newRecorder(db))
	r := gin.New()
	r.Use(asUser(caller))
	r.GET("/construction-groups", h.ListConstructionGroupsHandler())
	r.POST("/construction-groups", h.CreateConstructionGroupHandler())
	r.GET("/construction-groups/:id", h.GetConstructionGroupHandler())
	r.PATCH("/construction-groups/:id", h.UpdateConstructionGroupHandler())
	r.GET("/zones", h.ListZonesHandler())
	return mock, r
}

func cgRows() *sqlmock.Rows {
	return sqlmock.NewRows(cgCols).
		AddRow("cg-1", "CG-01", "North", "r-1", nil, true, time.Now(), time.Now()).
		AddRow("cg-2", "CG-02", "South", "r-1", nil, true, time.Now(), time.Now())
}

func TestListConstructionGroups_ScopedForAdmins(t *testing.T) {
	mock, r := newOrgRouter(t, testUser("admin-1", models.RoleAdmin, "cg-2"))
	mock.ExpectQuery("FROM construction_groups").WillReturnRows(cgRows())

	w := do(r, http.MethodGet, "/construction-groups", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, 1.0, body["count"])
	groups := body["construction_groups"].([]interface{})
	assert.Equal(t, "cg-2", groups[0].(map[string]interface{})["id"])
}

func TestListConstructionGroups_ActiveFilter(t *testing.T) {
	mock, r := newOrgRouter(t, testUser("root", models.RoleSuperAdmin, ""))
	mock.ExpectQuery(`FROM construction_groups WHERE 1=1 AND is_active`).WillReturnRows(cgRows())

	w := do(r, http.MethodGet, "/construction-groups?active=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.0, decode(t, w)["count"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetConstructionGroup_OtherGroupIsNotFound(t *testing.T) {
	mock, r := newOrgRouter(t, testUser("admin-1", models.RoleAdmin, "cg-2"))
	mock.ExpectQuery(`FROM construction_groups WHERE id = \$1`).WithArgs("cg-1").
		WillReturnRows(sqlmock.NewRows(cgCols).AddRow("cg-1", "CG-01", "North", nil, nil, true, time.Now(), time.Now()))

	w := do(r, http.MethodGet, "/construction-groups/cg-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateConstructionGroup(t *testing.T) {
	root := testUser("root", models.RoleSuperAdmin, "")

	t.Run("requires code and name", func(t *testing.T) {
		_, r := newOrgRouter(t, root)
		w := do(r, http.MethodPost, "/construction-groups", map[string]string{"code": "  "})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "Code and name are required", decode(t, w)["error"])
	})

	t.Run("created with upper-case code", func(t *testing.T) {
		mock, r := newOrgRouter(t, root)
		mock.ExpectExec("INSERT INTO construction_groups").
			WithArgs(sqlmock.AnyArg(), "CG-07", "East", nil, nil, true, sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		expectAudit(mock)

		w := do(r, http.MethodPost, "/construction-groups", map[string]string{"code": "cg-07", "name": " East "})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.Equal(t, "CG-07", decode(t, w)["code"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate code", func(t *testing.T) {
		mock, r := newOrgRouter(t, root)
		mock.ExpectExec("INSERT INTO construction_groups").WillReturnError(&pq.Error{Code: "23505"})
		w := do(r, http.MethodPost, "/construction-groups", map[string]string{"code": "CG-01", "name": "North"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestUpdateConstructionGroup_Deactivate(t *testing.T) {
	mock, r := newOrgRouter(t, testUser("root", models.RoleSuperAdmin, ""))
	mock.ExpectQuery(`FROM construction_groups WHERE id = \$1`).WithArgs("cg-1").
		WillReturnRows(sqlmock.NewRows(cgCols).AddRow("cg-1", "CG-01", "North", nil, nil, true, time.Now(), time.Now()))
	mock.ExpectExec("UPDATE construction_groups").WillReturnResult(sqlmock.NewResult(0, 1))
	expectAudit(mock)

	w := do(r, http.MethodPatch, "/construction-groups/cg-1", map[string]bool{"is_active": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, decode(t, w)["is_active"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListZones_ByRegion(t *testing.T) {
	mock, r := newOrgRouter(t, testUser("root", models.RoleSuperAdmin, ""))
	mock.ExpectQuery("FROM zones").WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "region_id", "code", "name", "created_at"}).
			AddRow("z-1", "r-1", "Z1", "Zone 1", time.Now()))

	w := do(r, http.MethodGet, "/zones?region_id=r-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["zones"], 1)
}
