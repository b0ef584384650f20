package email

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldc-construction/ldc-tools/internal/crypto"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

type fakeStore struct {
	cfg        *models.EmailConfig
	err        error
	testedID   string
	testStatus string
}

func (f *fakeStore) GetActive(context.Context) (*models.EmailConfig, error) { return f.cfg, f.err }

func (f *fakeStore) RecordTest(_ context.Context, id, status string, _ time.Time) error {
	f.testedID, f.testStatus = id, status
	return nil
}

type fakeSender struct {
	sent     []Message
	settings []Settings
	err      error
}

func (f *fakeSender) Send(_ context.Context, s Settings, m Message) error {
	f.sent = append(f.sent, m)
	f.settings = append(f.settings, s)
	return f.err
}

func newTestService(t *testing.T, sendErr error) (*Service, *fakeStore, *fakeSender) {
	t.Helper()
	cipher, err := crypto.FromPassphrase("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	sealed, err := cipher.Seal("smtp-secret")
	require.NoError(t, err)

	store := &fakeStore{cfg: &models.EmailConfig{
		ID:                "ec-1",
		SMTPHost:          "smtp.example.com",
		SMTPPort:          587,
		Encryption:        EncryptionTLS,
		Username:          "mailer",
		PasswordEncrypted: sealed,
		FromEmail:         "noreply@example.com",
		FromName:          "LDC Tools",
		IsActive:          true,
	}}
	sender := &fakeSender{err: sendErr}
	return NewService(store, cipher, sender, "LDC Tools", "https://ldc.example.com/login"), store, sender
}

func TestService_SendTestRecordsSuccess(t *testing.T) {
	svc, store, sender := newTestService(t, nil)

	require.NoError(t, svc.SendTest(context.Background(), "admin@example.com", nil))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "smtp-secret", sender.settings[0].Password)
	assert.Equal(t, "ec-1", store.testedID)
	assert.Equal(t, models.EmailTestSuccess, store.testStatus)
}

func TestService_SendTestRecordsFailure(t *testing.T) {
	svc, store, _ := newTestService(t, errors.New("smtp auth: 535"))

	err := svc.SendTest(context.Background(), "admin@example.com", nil)
	require.Error(t, err)
	assert.Equal(t, models.EmailTestFailed, store.testStatus)
}

func TestService_SendTestInlineSkipsStore(t *testing.T) {
	svc, store, sender := newTestService(t, nil)
	store.cfg = nil

	inline := &Settings{Host: "smtp.gmail.com", Port: 465, Encryption: EncryptionSSL, FromEmail: "x@example.com"}
	require.NoError(t, svc.SendTest(context.Background(), "admin@example.com", inline))
	assert.Equal(t, "smtp.gmail.com", sender.settings[0].Host)
	assert.Empty(t, store.testedID)
}

func TestService_NotConfigured(t *testing.T) {
	svc, store, _ := newTestService(t, nil)
	store.cfg = nil

	assert.False(t, svc.Configured(context.Background()))
	assert.ErrorIs(t, svc.SendInvite(context.Background(), "new@example.com", "New", "pw"), ErrNotConfigured)
}

func TestService_InviteAndReset(t *testing.T) {
	svc, _, sender := newTestService(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.SendInvite(ctx, "new@example.com", "Sam", "Temp#1234"))
	require.NoError(t, svc.SendPasswordReset(ctx, "old@example.com", "Kai", "Temp#5678"))
	require.Len(t, sender.sent, 2)

	assert.Equal(t, "new@example.com", sender.sent[0].To)
	assert.Contains(t, sender.sent[0].HTML, "Temp#1234")
	assert.Contains(t, sender.sent[0].Text, "https://ldc.example.com/login")
	assert.Contains(t, sender.sent[1].Subject, "password reset")
	assert.Contains(t, sender.sent[1].Text, "Kai")
}

func TestTemplatesEscapeHTML(t *testing.T) {
	m, err := InviteMessage("LDC", "a@example.com", "<script>x</script>", "pw", "")
	require.NoError(t, err)
	assert.NotContains(t, m.HTML, "<script>")
	assert.Contains(t, m.HTML, "&lt;script&gt;")
}

func TestService_LinksAndCrewRequest(t *testing.T) {
	svc, _, sender := newTestService(t, nil)
	ctx := context.Background()

	require.NoError(t, svc.SendInviteLink(ctx, "new@example.com", "Sam", "https://ldc.example.com/accept-invite?token=abc", 7*24*time.Hour))
	require.NoError(t, svc.SendResetLink(ctx, "old@example.com", "Kai", "https://ldc.example.com/reset-password?token=xyz", time.Hour))
	require.NoError(t, svc.SendCrewRequestCompleted(ctx, "tco@example.com", CrewRequestDetails{
		RequestorName: "Ana",
		VolunteerName: "Ben Ortiz",
		RequestType:   "Add Volunteer to Crew",
		CrewName:      "Framing A",
		CompletedBy:   "Personnel Team",
	}))
	require.Len(t, sender.sent, 3)

	assert.Contains(t, sender.sent[0].Text, "accept-invite?token=abc")
	assert.Contains(t, sender.sent[0].Text, "7 days")
	assert.NotContains(t, sender.sent[0].Text, "temporary password")
	assert.Contains(t, sender.sent[1].Text, "1 hour")
	assert.Contains(t, sender.sent[2].Subject, "Ben Ortiz")
	assert.Contains(t, sender.sent[2].Text, "Crew: Framing A")
	assert.NotContains(t, sender.sent[2].Text, "Project:")
}
