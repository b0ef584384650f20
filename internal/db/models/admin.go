package models

import "time"

// EmailConfig is a stored SMTP configuration. Only one row is active at a time.
type EmailConfig struct {
	ID                string     `db:"id" json:"id"`
	Provider          string     `db:"provider" json:"provider"`
	SMTPHost          string     `db:"smtp_host" json:"smtp_host"`
	SMTPPort          int        `db:"smtp_port" json:"smtp_port"`
	Encryption        string     `db:"encryption" json:"encryption"`
	FromEmail         string     `db:"from_email" json:"from_email"`
	FromName          string     `db:"from_name" json:"from_name"`
	Username          string     `db:"username" json:"username"`
	PasswordEncrypted string     `db:"password_encrypted" json:"-"`
	ReplyTo           *string    `db:"reply_to" json:"reply_to,omitempty"`
	IsActive          bool       `db:"is_active" json:"is_active"`
	TestStatus        string     `db:"test_status" json:"test_status"`
	LastTested        *time.Time `db:"last_tested" json:"last_tested,omitempty"`
	CreatedBy         *string    `db:"created_by" json:"created_by,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Email test statuses.
const (
	EmailTestUntested = "untested"
	EmailTestSuccess  = "success"
	EmailTestFailed   = "failed"
)

// DefaultEmailConfig is returned when nothing has been saved yet.
func DefaultEmailConfig() *EmailConfig {
	return &EmailConfig{
		Provider:   "gmail",
		SMTPHost:   "smtp.gmail.com",
		SMTPPort:   587,
		Encryption: "tls",
		FromName:   "LDC Tools",
		TestStatus: EmailTestUntested,
	}
}

// Backup is a database dump stored in the configured storage backend.
type Backup struct {
	ID             string     `db:"id" json:"id"`
	FileName       string     `db:"file_name" json:"file_name"`
	StoragePath    string     `db:"storage_path" json:"storage_path"`
	StorageBackend string     `db:"storage_backend" json:"storage_backend"`
	SizeBytes      int64      `db:"size_bytes" json:"size_bytes"`
	Checksum       *string    `db:"checksum" json:"checksum,omitempty"`
	Status         string     `db:"status" json:"status"`
	Trigger        string     `db:"trigger" json:"trigger"`
	Error          *string    `db:"error" json:"error,omitempty"`
	CreatedBy      *string    `db:"created_by" json:"created_by,omitempty"`
	StartedAt      time.Time  `db:"started_at" json:"started_at"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Backup statuses.
const (
	BackupRunning   = "running"
	BackupCompleted = "completed"
	BackupFailed    = "failed"
)

// SystemSetting is a key/value row in system_settings.
type SystemSetting struct {
	Key       string    `db:"key" json:"key"`
	Value     JSON      `db:"value" json:"value"`
	UpdatedBy *string   `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// MaintenanceMode is the value stored under the "maintenance_mode" setting.
type MaintenanceMode struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message,omitempty"`
}

// SettingMaintenanceMode is the system_settings key for MaintenanceMode.
const SettingMaintenanceMode = "maintenance_mode"

// DashboardStats is the admin dashboard summary.
type DashboardStats struct {
	Users             int `db:"users" json:"users"`
	Volunteers        int `db:"volunteers" json:"volunteers"`
	ActiveVolunteers  int `db:"active_volunteers" json:"active_volunteers"`
	TradeTeams        int `db:"trade_teams" json:"trade_teams"`
	Crews             int `db:"crews" json:"crews"`
	Congregations     int `db:"congregations" json:"congregations"`
	ActiveAssignments int `db:"active_assignments" json:"active_role_assignments"`
	PendingRequests   int `db:"pending_requests" json:"pending_assignment_requests"`
	AuditEvents24h    int `db:"audit_events_24h" json:"audit_events_24h"`
}
