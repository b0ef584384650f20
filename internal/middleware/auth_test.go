package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ldc-construction/ldc-tools/internal/auth"
	"github.com/ldc-construction/ldc-tools/internal/config"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type fakeUsers struct {
	users map[string]*models.User
	err   error
	calls int
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (*models.User, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.users[id], nil
}

func strPtr(s string) *string { return &s }

func testConfig() *config.Config {
	return &config.Config{App: config.AppConfig{Name: "ldc-tools"}}
}

func testUser(role string) *models.User {
	return &models.User{
		ID:                  "user-1",
		Email:               "jane@example.com",
		Name:                strPtr("Jane"),
		Role:                role,
		ConstructionGroupID: strPtr("cg-1"),
		IsActive:            true,
	}
}

func generateTestJWT(t *testing.T, u *models.User) string {
	t.Helper()
	token, err := auth.GenerateJWT(u, time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	return token
}

// newAuthRouter returns a router whose handler echoes the identity the middleware stored.
func newAuthRouter(users UserLoader) *gin.Engine {
	r := gin.New()
	r.Use(AuthMiddleware(testConfig(), users))
	r.GET("/", func(c *gin.Context) {
		cg := CGScope(c)
		out := gin.H{"user_id": c.GetString("user_id"), "role": c.GetString("role"), "scopes": GetScopes(c)}
		if cg != nil {
			out["cg"] = *cg
		}
		c.JSON(http.StatusOK, out)
	})
	return r
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// AuthMiddleware
// ---------------------------------------------------------------------------

func TestAuthMiddleware_MissingToken(t *testing.T) {
	users := &fakeUsers{}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := serve(newAuthRouter(users), req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
	if users.calls != 0 {
		t.Error("user lookup should not run without a token")
	}
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	w := serve(newAuthRouter(&fakeUsers{}), req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_BearerHeader(t *testing.T) {
	u := testUser(models.RoleUser)
	users := &fakeUsers{users: map[string]*models.User{u.ID: u}}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestJWT(t, u))

	w := serve(newAuthRouter(users), req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body)
	}
	body := w.Body.String()
	for _, want := range []string{`"user_id":"user-1"`, `"cg":"cg-1"`, `"assignments:write"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body %s missing %s", body, want)
		}
	}
}

func TestAuthMiddleware_SessionCookie(t *testing.T) {
	u := testUser(models.RoleSuperAdmin)
	users := &fakeUsers{users: map[string]*models.User{u.ID: u}}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "ldc-tools-auth.session-token", Value: generateTestJWT(t, u)})

	w := serve(newAuthRouter(users), req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if strings.Contains(w.Body.String(), `"cg"`) {
		t.Error("super admin should not be scoped to a construction group")
	}
}

func TestAuthMiddleware_RoleFromDatabase(t *testing.T) {
	issued := testUser(models.RoleAdmin)
	token := generateTestJWT(t, issued)

	demoted := testUser(models.RoleUser)
	users := &fakeUsers{users: map[string]*models.User{demoted.ID: demoted}}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	w := serve(newAuthRouter(users), req)
	if !strings.Contains(w.Body.String(), `"role":"USER"`) {
		t.Errorf("role should come from the user row, body = %s", w.Body)
	}
}

func TestAuthMiddleware_InactiveOrMissingUser(t *testing.T) {
	inactive := testUser(models.RoleUser)
	inactive.IsActive = false
	token := generateTestJWT(t, inactive)

	for name, users := range map[string]*fakeUsers{
		"inactive": {users: map[string]*models.User{inactive.ID: inactive}},
		"deleted":  {users: map[string]*models.User{}},
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			if w := serve(newAuthRouter(users), req); w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestAuthMiddleware_LoaderError(t *testing.T) {
	u := testUser(models.RoleUser)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestJWT(t, u))
	w := serve(newAuthRouter(&fakeUsers{err: errors.New("db down")}), req)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

func TestCGScope_Unauthenticated(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	cg := CGScope(c)
	if cg == nil || *cg != "00000000-0000-0000-0000-000000000000" {
		t.Errorf("CGScope() = %v, want the nil UUID", cg)
	}
}

func TestActorFromContext(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Request.Header.Set("User-Agent", "curl/8")
	setIdentity(c, testUser(models.RoleAdmin))

	a := ActorFromContext(c)
	if a.UserID != "user-1" || a.ConstructionGroupID != "cg-1" || a.UserAgent != "curl/8" {
		t.Errorf("actor = %+v", a)
	}
}
