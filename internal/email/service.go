package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ldc-construction/ldc-tools/internal/crypto"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/telemetry"
)

// ErrNotConfigured is returned when no active email configuration exists.
var ErrNotConfigured = errors.New("email is not configured")

// ConfigStore reads the active configuration. *repositories.EmailConfigRepository satisfies it.
type ConfigStore interface {
	GetActive(ctx context.Context) (*models.EmailConfig, error)
	RecordTest(ctx context.Context, id, status string, at time.Time) error
}

// Service resolves the stored configuration and sends mail with it.
type Service struct {
	store    ConfigStore
	cipher   *crypto.TokenCipher
	sender   Sender
	appName  string
	loginURL string
}

// NewService creates a Service. cipher opens the stored SMTP password.
func NewService(store ConfigStore, cipher *crypto.TokenCipher, sender Sender, appName, loginURL string) *Service {
	return &Service{store: store, cipher: cipher, sender: sender, appName: appName, loginURL: loginURL}
}

// SettingsFromConfig combines a stored configuration with its decrypted password.
func SettingsFromConfig(cfg *models.EmailConfig, password string) Settings {
	s := Settings{
		Host:       cfg.SMTPHost,
		Port:       cfg.SMTPPort,
		Encryption: cfg.Encryption,
		Username:   cfg.Username,
		Password:   password,
		FromEmail:  cfg.FromEmail,
		FromName:   cfg.FromName,
	}
	if cfg.ReplyTo != nil {
		s.ReplyTo = *cfg.ReplyTo
	}
	return s
}

// Active loads the active configuration and decrypts its password.
func (s *Service) Active(ctx context.Context) (*models.EmailConfig, Settings, error) {
	cfg, err := s.store.GetActive(ctx)
	if err != nil {
		return nil, Settings{}, fmt.Errorf("failed to load email config: %w", err)
	}
	if cfg == nil {
		return nil, Settings{}, ErrNotConfigured
	}
	if s.cipher == nil {
		return nil, Settings{}, errors.New("email encryption key is not configured")
	}
	password, err := s.cipher.Open(cfg.PasswordEncrypted)
	if err != nil {
		return nil, Settings{}, fmt.Errorf("failed to decrypt SMTP password: %w", err)
	}
	return cfg, SettingsFromConfig(cfg, password), nil
}

// Configured reports whether an active configuration exists.
func (s *Service) Configured(ctx context.Context) bool {
	cfg, err := s.store.GetActive(ctx)
	return err == nil && cfg != nil
}

func (s *Service) send(ctx context.Context, kind string, settings Settings, m Message) error {
	err := s.sender.Send(ctx, settings, m)
	outcome := "sent"
	if err != nil {
		outcome = "failed"
	}
	telemetry.EmailsSentTotal.WithLabelValues(kind, outcome).Inc()
	return err
}

// SendTest sends a test message. With inline settings nothing is loaded or recorded;
// otherwise the stored configuration is used and the result saved on it.
func (s *Service) SendTest(ctx context.Context, to string, inline *Settings) error {
	if inline != nil {
		m, err := TestMessage(s.appName, to, *inline)
		if err != nil {
			return err
		}
		return s.send(ctx, "test", *inline, m)
	}

	cfg, settings, err := s.Active(ctx)
	if err != nil {
		return err
	}
	m, err := TestMessage(s.appName, to, settings)
	if err != nil {
		return err
	}
	sendErr := s.send(ctx, "test", settings, m)

	status := models.EmailTestSuccess
	if sendErr != nil {
		status = models.EmailTestFailed
	}
	if err := s.store.RecordTest(ctx, cfg.ID, status, time.Now()); err != nil {
		slog.Error("failed to record email test result", "config_id", cfg.ID, "error", err)
	}
	return sendErr
}

// SendInvite emails a temporary password to a newly invited user.
func (s *Service) SendInvite(ctx context.Context, to, name, tempPassword string) error {
	_, settings, err := s.Active(ctx)
	if err != nil {
		return err
	}
	m, err := InviteMessage(s.appName, to, name, tempPassword, s.loginURL)
	if err != nil {
		return err
	}
	return s.send(ctx, "invite", settings, m)
}

// SendPasswordReset emails an administrator-issued temporary password.
func (s *Service) SendPasswordReset(ctx context.Context, to, name, tempPassword string) error {
	_, settings, err := s.Active(ctx)
	if err != nil {
		return err
	}
	m, err := PasswordResetMessage(s.appName, to, name, tempPassword, s.loginURL)
	if err != nil {
		return err
	}
	return s.send(ctx, "password_reset", settings, m)
}

// SendInviteLink emails an account setup link to a newly invited user.
func (s *Service) SendInviteLink(ctx context.Context, to, name, link string, validFor time.Duration) error {
	_, settings, err := s.Active(ctx)
	if err != nil {
		return err
	}
	m, err := InviteLinkMessage(s.appName, to, name, link, humanDuration(validFor))
	if err != nil {
		return err
	}
	return s.send(ctx, "invite", settings, m)
}

// SendResetLink emails a self-service password reset link.
func (s *Service) SendResetLink(ctx context.Context, to, name, link string, validFor time.Duration) error {
	_, settings, err := s.Active(ctx)
	if err != nil {
		return err
	}
	m, err := ResetLinkMessage(s.appName, to, name, link, humanDuration(validFor))
	if err != nil {
		return err
	}
	return s.send(ctx, "password_reset", settings, m)
}

// SendCrewRequestCompleted notifies the requestor of a completed crew change request.
func (s *Service) SendCrewRequestCompleted(ctx context.Context, to string, d CrewRequestDetails) error {
	_, settings, err := s.Active(ctx)
	if err != nil {
		return err
	}
	m, err := CrewRequestCompletedMessage(s.appName, to, d)
	if err != nil {
		return err
	}
	return s.send(ctx, "crew_request", settings, m)
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= 48*time.Hour:
		return fmt.Sprintf("%d days", int(d.Hours()/24))
	case d >= 2*time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	case d >= time.Hour:
		return "1 hour"
	default:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
}
