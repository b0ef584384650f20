// email.go implements the SMTP configuration and test-send handlers.
package admin

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/ldc-construction/ldc-tools/internal/audit"
	"github.com/ldc-construction/ldc-tools/internal/crypto"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/email"
	"github.com/ldc-construction/ldc-tools/internal/middleware"
	"github.com/ldc-construction/ldc-tools/internal/validation"
)

// EmailHandlers handles email configuration endpoints
type EmailHandlers struct {
	repo   *repositories.EmailConfigRepository
	mail   *email.Service
	cipher *crypto.TokenCipher
	rec    *audit.Recorder
}

// NewEmailHandlers creates a new EmailHandlers instance. cipher is nil when
// email.encryption_key is not set, in which case saving a configuration fails.
func NewEmailHandlers(db *sqlx.DB, mail *email.Service, cipher *crypto.TokenCipher, rec *audit.Recorder) *EmailHandlers {
	return &EmailHandlers{repo: repositories.NewEmailConfigRepository(db), mail: mail, cipher: cipher, rec: rec}
}

// EmailConfigRequest is the body of PUT /admin/email/config and the inline config of a test
type EmailConfigRequest struct {
	Provider   string  `json:"provider"`
	SMTPHost   string  `json:"smtp_host"`
	SMTPPort   int     `json:"smtp_port"`
	Encryption string  `json:"encryption"`
	FromEmail  string  `json:"from_email"`
	FromName   string  `json:"from_name"`
	Username   string  `json:"username"`
	Password   string  `json:"password"`
	ReplyTo    *string `json:"reply_to"`
}

// TestEmailRequest is the body of POST /admin/email/test
type TestEmailRequest struct {
	TestEmail string              `json:"test_email"`
	Config    *EmailConfigRequest `json:"config"`
}

var defaultPorts = map[string]int{
	email.EncryptionSSL:  465,
	email.EncryptionTLS:  587,
	email.EncryptionNone: 25,
}

// normalize fills defaults and validates the request
func (req *EmailConfigRequest) normalize() error {
	req.FromEmail = strings.TrimSpace(req.FromEmail)
	req.Username = strings.TrimSpace(req.Username)
	if req.FromEmail == "" || req.Username == "" || req.Password == "" {
		return errors.New("from_email, username and password are required")
	}
	if err := validation.Email(req.FromEmail); err != nil {
		return errors.New("from_email must be a valid email address")
	}
	def := models.DefaultEmailConfig()
	if req.Provider == "" {
		req.Provider = def.Provider
	}
	if req.SMTPHost == "" {
		req.SMTPHost = def.SMTPHost
	}
	req.Encryption = strings.ToLower(strings.TrimSpace(req.Encryption))
	if req.Encryption == "" {
		req.Encryption = def.Encryption
	}
	port, ok := defaultPorts[req.Encryption]
	if !ok {
		return errors.New("encryption must be one of ssl, tls or none")
	}
	if req.SMTPPort == 0 {
		req.SMTPPort = port
	}
	if req.SMTPPort < 1 || req.SMTPPort > 65535 {
		return errors.New("smtp_port must be between 1 and 65535")
	}
	if req.FromName == "" {
		req.FromName = def.FromName
	}
	if req.ReplyTo != nil && strings.TrimSpace(*req.ReplyTo) == "" {
		req.ReplyTo = nil
	}
	if req.ReplyTo != nil {
		if err := validation.Email(*req.ReplyTo); err != nil {
			return errors.New("reply_to must be a valid email address")
		}
	}
	return nil
}

func (req *EmailConfigRequest) settings() email.Settings {
	s := email.Settings{
		Host:       req.SMTPHost,
		Port:       req.SMTPPort,
		Encryption: req.Encryption,
		Username:   req.Username,
		Password:   req.Password,
		FromEmail:  req.FromEmail,
		FromName:   req.FromName,
	}
	if req.ReplyTo != nil {
		s.ReplyTo = *req.ReplyTo
	}
	return s
}

// @Summary      Get email configuration
// @Description  The active SMTP configuration without its password, or the defaults when none is saved.
// @Tags         Email
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "config, configured"
// @Router       /api/v1/admin/email/config [get]
// GetEmailConfigHandler returns the active email configuration
// GET /api/v1/admin/email/config
func (h *EmailHandlers) GetEmailConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, err := h.repo.GetActive(c.Request.Context())
		if err != nil {
			respondError(c, err, "Failed to load email configuration")
			return
		}
		configured := cfg != nil
		if cfg == nil {
			cfg = models.DefaultEmailConfig()
		}
		c.JSON(http.StatusOK, gin.H{"config": cfg, "configured": configured})
	}
}

// @Summary      Save email configuration
// @Tags         Email
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  EmailConfigRequest  true  "SMTP settings"
// @Success      200  {object}  map[string]interface{}  "message, config"
// @Failure      400  {object}  map[string]interface{}  "Validation error"
// @Router       /api/v1/admin/email/config [put]
// UpdateEmailConfigHandler replaces the active email configuration
// PUT /api/v1/admin/email/config
func (h *EmailHandlers) UpdateEmailConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req EmailConfigRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := req.normalize(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if h.cipher == nil {
			slog.Error("email.encryption_key is not configured; cannot store SMTP password")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Email encryption is not configured"})
			return
		}
		sealed, err := h.cipher.Seal(req.Password)
		if err != nil {
			respondError(c, err, "Failed to encrypt password")
			return
		}

		ctx := c.Request.Context()
		old, err := h.repo.GetActive(ctx)
		if err != nil {
			respondError(c, err, "Failed to save email configuration")
			return
		}

		cfg := &models.EmailConfig{
			Provider:          req.Provider,
			SMTPHost:          req.SMTPHost,
			SMTPPort:          req.SMTPPort,
			Encryption:        req.Encryption,
			FromEmail:         req.FromEmail,
			FromName:          req.FromName,
			Username:          req.Username,
			PasswordEncrypted: sealed,
			ReplyTo:           req.ReplyTo,
			TestStatus:        models.EmailTestUntested,
			CreatedBy:         optString(c.GetString("user_id")),
		}
		if err := h.repo.Replace(ctx, cfg); err != nil {
			respondError(c, err, "Failed to save email configuration")
			return
		}

		h.rec.Record(ctx, middleware.ActorFromContext(c), audit.Event{
			Action:     models.ActionConfigChange,
			Resource:   models.ResourceEmailConfig,
			ResourceID: cfg.ID,
			OldValues:  old,
			NewValues:  cfg,
		})
		middleware.MarkAudited(c)
		c.JSON(http.StatusOK, gin.H{"message": "Email configuration saved", "config": cfg})
	}
}

// @Summary      Send test email
// @Description  Sends a test message with the inline configuration, or the saved one when none is given.
// @Tags         Email
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  TestEmailRequest  true  "Recipient and optional configuration"
// @Success      200  {object}  map[string]interface{}  "success, message"
// @Failure      400  {object}  map[string]interface{}  "Invalid address or send failure"
// @Failure      404  {object}  map[string]interface{}  "No email configuration found"
// @Router       /api/v1/admin/email/test [post]
// TestEmailHandler sends a test message
// POST /api/v1/admin/email/test
func (h *EmailHandlers) TestEmailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TestEmailRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if strings.TrimSpace(req.TestEmail) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Test email address is required"})
			return
		}
		if err := validation.Email(req.TestEmail); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid test email format"})
			return
		}

		var inline *email.Settings
		if req.Config != nil {
			if err := req.Config.normalize(); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
				return
			}
			s := req.Config.settings()
			inline = &s
		}

		err := h.mail.SendTest(c.Request.Context(), strings.TrimSpace(req.TestEmail), inline)
		if errors.Is(err, email.ErrNotConfigured) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error":   "No email configuration found. Please configure email settings first.",
			})
			return
		}
		if err != nil {
			slog.Warn("test email failed", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": email.ClassifyError(err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Test email sent to " + req.TestEmail})
	}
}
