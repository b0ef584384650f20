package admin

import (
	"net/http"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldc-construction/ldc-tools/internal/auth"
	"github.com/ldc-construction/ldc-tools/internal/config"
	"github.com/ldc-construction/ldc-tools/internal/crypto"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/email"
)

var tokenCols = []string{"id", "user_id", "purpose", "token_hash", "expires_at", "used_at", "created_at"}

var accountCfg = &config.Config{
	Server:   config.ServerConfig{BaseURL: "https://ldc.example.org/"},
	Security: config.SecurityConfig{InviteTTL: 72 * time.Hour, ResetTTL: time.Hour},
}

func newAccountRouter(t *testing.T, sender *fakeSender) (sqlmock.Sqlmock, *gin.Engine, *AccountHandlers) {
	t.Helper()
	db, mock := newMockDB(t)
	svc := email.NewService(repositories.NewEmailConfigRepository(db), testCipher(t), sender, "LDC Tools", "https://ldc.example.org/login")
	h := NewAccountHandlers(accountCfg, db, svc, newRecorder(db))

	r := gin.New()
	r.GET("/auth/verify-invite", h.VerifyInviteHandler())
	r.POST("/auth/accept-invite", h.AcceptInviteHandler())
	r.POST("/auth/forgot-password", h.ForgotPasswordHandler())
	r.GET("/auth/verify-reset-token", h.VerifyResetTokenHandler())
	r.POST("/auth/reset-password", h.ResetPasswordHandler())
	return mock, r, h
}

// expectActiveEmail answers one lookup of the active email configuration.
func expectActiveEmail(t *testing.T, mock sqlmock.Sqlmock, cipher *crypto.TokenCipher) {
	t.Helper()
	sealed, err := cipher.Seal("pw")
	require.NoError(t, err)
	mock.ExpectQuery("FROM email_configurations").WillReturnRows(sqlmock.NewRows(emailConfigCols).
		AddRow("cfg-1", "gmail", "smtp.gmail.com", 587, "tls", "ops@example.org", "LDC Tools", "ops",
			sealed, nil, true, models.EmailTestSuccess, nil, nil, time.Now(), time.Now()))
}

func expectToken(mock sqlmock.Sqlmock, token, purpose, userID string, expires time.Time) {
	mock.ExpectQuery(`FROM account_tokens WHERE token_hash = \$1`).
		WithArgs(auth.HashAccountToken(token), purpose).
		WillReturnRows(sqlmock.NewRows(tokenCols).
			AddRow("tok-1", userID, purpose, auth.HashAccountToken(token), expires, nil, time.Now()))
}

var linkToken = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)

func TestVerifyInvite(t *testing.T) {
	invited := testUser("u-1", models.RoleUser, "cg-1")

	t.Run("missing token", func(t *testing.T) {
		_, r, _ := newAccountRouter(t, &fakeSender{})
		w := do(r, http.MethodGet, "/auth/verify-invite", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown token", func(t *testing.T) {
		mock, r, _ := newAccountRouter(t, &fakeSender{})
		mock.ExpectQuery("FROM account_tokens").WillReturnRows(sqlmock.NewRows(tokenCols))
		w := do(r, http.MethodGet, "/auth/verify-invite?token=nope", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, false, decode(t, w)["valid"])
	})

	t.Run("expired token", func(t *testing.T) {
		mock, r, _ := newAccountRouter(t, &fakeSender{})
		expectToken(mock, "abc", models.TokenInvite, invited.ID, time.Now().Add(-time.Minute))
		w := do(r, http.MethodGet, "/auth/verify-invite?token=abc", nil)
		assert.Equal(t, http.StatusGone, w.Code)
	})

	t.Run("user already set a password", func(t *testing.T) {
		mock, r, _ := newAccountRouter(t, &fakeSender{})
		done := *invited
		done.PasswordHash = hashed(t, "already-set")
		expectToken(mock, "abc", models.TokenInvite, invited.ID, time.Now().Add(time.Hour))
		expectUser(mock, &done)
		w := do(r, http.MethodGet, "/auth/verify-invite?token=abc", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("valid", func(t *testing.T) {
		mock, r, _ := newAccountRouter(t, &fakeSender{})
		expectToken(mock, "abc", models.TokenInvite, invited.ID, time.Now().Add(time.Hour))
		expectUser(mock, invited)
		w := do(r, http.MethodGet, "/auth/verify-invite?token=abc", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decode(t, w)
		assert.Equal(t, true, body["valid"])
		assert.Equal(t, invited.Email, body["user"].(map[string]interface{})["email"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAcceptInvite(t *testing.T) {
	invited := testUser("u-1", models.RoleUser, "cg-1")

	t.Run("short password", func(t *testing.T) {
		_, r, _ := newAccountRouter(t, &fakeSender{})
		w := do(r, http.MethodPost, "/auth/accept-invite", map[string]string{"token": "abc", "password": "short"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("sets password and consumes token", func(t *testing.T) {
		mock, r, _ := newAccountRouter(t, &fakeSender{})
		expectToken(mock, "abc", models.TokenInvite, invited.ID, time.Now().Add(time.Hour))
		expectUser(mock, invited)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE account_tokens SET used_at").WithArgs("tok-1").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE users SET password_hash").WithArgs(invited.ID, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		expectAudit(mock)

		w := do(r, http.MethodPost, "/auth/accept-invite", map[string]string{"token": "abc", "password": "long-enough"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("token used concurrently", func(t *testing.T) {
		mock, r, _ := newAccountRouter(t, &fakeSender{})
		expectToken(mock, "abc", models.TokenInvite, invited.ID, time.Now().Add(time.Hour))
		expectUser(mock, invited)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE account_tokens SET used_at").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		w := do(r, http.MethodPost, "/auth/accept-invite", map[string]string{"token": "abc", "password": "long-enough"})
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestForgotPassword(t *testing.T) {
	t.Run("unknown email answers the same", func(t *testing.T) {
		sender := &fakeSender{}
		mock, r, _ := newAccountRouter(t, sender)
		mock.ExpectQuery(`FROM users WHERE lower\(email\) = lower\(\$1\)`).WillReturnRows(sqlmock.NewRows(userCols))

		w := do(r, http.MethodPost, "/auth/forgot-password", map[string]string{"email": "ghost@example.org"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, forgotPasswordReply, decode(t, w)["message"])
		assert.Empty(t, sender.sent)
	})

	t.Run("emails a link whose token resets the password", func(t *testing.T) {
		u := testUser("u-2", models.RoleUser, "cg-1")
		u.PasswordHash = hashed(t, "old-password")
		sender := &fakeSender{}
		mock, r, _ := newAccountRouter(t, sender)
		cipher := testCipher(t)

		mock.ExpectQuery(`FROM users WHERE lower\(email\) = lower\(\$1\)`).WithArgs(u.Email).
			WillReturnRows(userRow(sqlmock.NewRows(userCols), u))
		expectActiveEmail(t, mock, cipher)
		mock.ExpectExec("DELETE FROM account_tokens").WithArgs(u.ID, models.TokenPasswordReset).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO account_tokens").WillReturnResult(sqlmock.NewResult(0, 1))
		expectActiveEmail(t, mock, cipher)

		w := do(r, http.MethodPost, "/auth/forgot-password", map[string]string{"email": "U-2@example.org"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.Len(t, sender.text, 1)
		assert.Contains(t, sender.text[0], "https://ldc.example.org/reset-password?token=")
		assert.NoError(t, mock.ExpectationsWereMet())

		m := linkToken.FindStringSubmatch(sender.text[0])
		require.Len(t, m, 2)
		mock2, r2, _ := newAccountRouter(t, &fakeSender{})
		expectToken(mock2, m[1], models.TokenPasswordReset, u.ID, time.Now().Add(time.Hour))
		expectUser(mock2, u)
		w = do(r2, http.MethodGet, "/auth/verify-reset-token?token="+m[1], nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, u.Email, decode(t, w)["email"])
	})
}

func TestResetPassword_Expired(t *testing.T) {
	mock, r, h := newAccountRouter(t, &fakeSender{})
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }
	expectToken(mock, "abc", models.TokenPasswordReset, "u-2", now)

	w := do(r, http.MethodPost, "/auth/reset-password", map[string]string{"token": "abc", "password": "long-enough"})
	assert.Equal(t, http.StatusGone, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInviteUser_SendsSetupLink(t *testing.T) {
	db, mock := newMockDB(t)
	sender := &fakeSender{}
	cipher := testCipher(t)
	svc := email.NewService(repositories.NewEmailConfigRepository(db), cipher, sender, "LDC Tools", "https://ldc.example.org/login")
	h := NewUserHandlers(accountCfg, db, svc, newRecorder(db))
	r := gin.New()
	r.Use(asUser(testUser("admin-1", models.RoleAdmin, "cg-1")))
	r.POST("/users/invite", h.InviteUserHandler())

	expectActiveEmail(t, mock, cipher)
	mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM account_tokens").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO account_tokens").WillReturnResult(sqlmock.NewResult(0, 1))
	expectActiveEmail(t, mock, cipher)
	expectAudit(mock)

	w := do(r, http.MethodPost, "/users/invite", map[string]string{"email": "nia@example.org"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["email_sent"])
	assert.NotContains(t, body, "temporary_password")
	assert.NotContains(t, body, "invite_url")
	require.Len(t, sender.text, 1)
	assert.Contains(t, sender.text[0], "https://ldc.example.org/accept-invite?token=")
	assert.Contains(t, sender.text[0], "3 days")
	assert.NoError(t, mock.ExpectationsWereMet())
}
