// Package api wires together all HTTP routes for the LDC tools backend.
//
// Route grouping:
//   - /health, /ready and /version are unauthenticated health endpoints.
//   - /api/v1/auth/login, /logout and the invitation and password reset token routes are public
//     and carry their own, stricter rate limit.
//   - Everything else under /api/v1 requires a session and the scope the route names.
//     Records are further narrowed to the caller's construction group by the handlers.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/ldc-construction/ldc-tools/internal/api/admin"
	"github.com/ldc-construction/ldc-tools/internal/api/assignments"
	"github.com/ldc-construction/ldc-tools/internal/api/crewrequests"
	"github.com/ldc-construction/ldc-tools/internal/api/directory"
	"github.com/ldc-construction/ldc-tools/internal/api/feedback"
	"github.com/ldc-construction/ldc-tools/internal/api/roles"
	"github.com/ldc-construction/ldc-tools/internal/api/teams"
	"github.com/ldc-construction/ldc-tools/internal/audit"
	"github.com/ldc-construction/ldc-tools/internal/auth"
	"github.com/ldc-construction/ldc-tools/internal/backup"
	"github.com/ldc-construction/ldc-tools/internal/cache"
	"github.com/ldc-construction/ldc-tools/internal/config"
	"github.com/ldc-construction/ldc-tools/internal/crypto"
	"github.com/ldc-construction/ldc-tools/internal/db/models"
	"github.com/ldc-construction/ldc-tools/internal/db/repositories"
	"github.com/ldc-construction/ldc-tools/internal/email"
	"github.com/ldc-construction/ldc-tools/internal/jobs"
	"github.com/ldc-construction/ldc-tools/internal/middleware"
	"github.com/ldc-construction/ldc-tools/internal/safego"
	"github.com/ldc-construction/ldc-tools/internal/services"
	"github.com/ldc-construction/ldc-tools/internal/storage"

	// Import storage backends to register them
	_ "github.com/ldc-construction/ldc-tools/internal/storage/azure"
	_ "github.com/ldc-construction/ldc-tools/internal/storage/gcs"
	_ "github.com/ldc-construction/ldc-tools/internal/storage/local"
	_ "github.com/ldc-construction/ldc-tools/internal/storage/s3"
)

// maintenanceRefresh is how long the maintenance flag is cached between settings reads.
const maintenanceRefresh = 15 * time.Second

// BackgroundServices holds the jobs and resources that must be stopped during graceful
// shutdown. cmd/server calls Shutdown after the HTTP server has drained.
type BackgroundServices struct {
	cancel       context.CancelFunc
	backupJob    *jobs.BackupJob
	retentionJob *jobs.AuditRetentionJob
	expiryJob    *jobs.RoleExpiryJob
	tokenJob     *jobs.TokenCleanupJob
	rateLimiters []*middleware.RateLimiter
	memoryCache  *cache.MemoryCache
	shippers     *audit.MultiShipper
	redis        *redis.Client
}

// Shutdown stops all background goroutines and flushes the audit shippers.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.backupJob != nil {
		bg.backupJob.Stop()
	}
	if bg.retentionJob != nil {
		bg.retentionJob.Stop()
	}
	if bg.expiryJob != nil {
		bg.expiryJob.Stop()
	}
	if bg.tokenJob != nil {
		bg.tokenJob.Stop()
	}
	if bg.cancel != nil {
		bg.cancel()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.memoryCache != nil {
		bg.memoryCache.Stop()
	}
	if bg.shippers != nil {
		if err := bg.shippers.Close(); err != nil {
			slog.Warn("failed to flush audit shippers", "error", err)
		}
	}
	if bg.redis != nil {
		_ = bg.redis.Close()
	}
	slog.Info("all background services stopped")
}

// Options carries build metadata into the router.
type Options struct {
	Version   string
	StartedAt time.Time
	// DisableJobs keeps the background jobs from starting, for tests and one-off commands
	DisableJobs bool
}

// NewRouter creates and configures the Gin router and starts the background jobs.
func NewRouter(cfg *config.Config, database *sqlx.DB, opts Options) (*gin.Engine, *BackgroundServices, error) {
	bg := &BackgroundServices{}
	ctx, cancel := context.WithCancel(context.Background())
	bg.cancel = cancel

	storageBackend, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("initialize storage backend: %w", err)
	}
	slog.Info("initialized storage backend", "backend", storageBackend.Name())

	// Redis is optional. When it is unreachable the cache and rate limits stay in-process.
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, using in-memory cache and rate limits", "addr", cfg.Redis.Addr, "error", err)
			rdb = nil
		}
	}
	bg.redis = rdb

	var appCache cache.Cache
	if rdb != nil {
		appCache = cache.NewRedisCache(rdb, cfg.Redis.KeyPrefix)
	} else {
		mem := cache.NewMemoryCache(time.Minute)
		bg.memoryCache = mem
		appCache = mem
	}

	shippers, err := audit.NewMultiShipper(cfg.Audit.Shippers)
	if err != nil {
		bg.Shutdown()
		return nil, nil, fmt.Errorf("initialize audit shippers: %w", err)
	}
	bg.shippers = shippers
	var shipper audit.Shipper
	if shippers.Len() > 0 {
		shipper = shippers
		slog.Info("audit shippers enabled", "count", shippers.Len())
	}

	// Repositories and services
	auditRepo := repositories.NewAuditRepository(database)
	rec := audit.NewRecorder(auditRepo, shipper)
	userRepo := repositories.NewUserRepository(database)
	teamRepo := repositories.NewTradeTeamRepository(database)
	roleAssignmentRepo := repositories.NewRoleAssignmentRepository(database)
	volunteerRepo := repositories.NewVolunteerRepository(database)
	roleRepo := repositories.NewRoleRepository(database)
	requestRepo := repositories.NewAssignmentRepository(database)

	views := services.NewReadModels(appCache, cfg.Redis.CacheTTL, teamRepo, roleAssignmentRepo, volunteerRepo, roleRepo)
	roleSvc := services.NewRoleAssignmentService(database, roleAssignmentRepo, roleRepo, volunteerRepo, teamRepo, rec)
	assignmentSvc := services.NewAssignmentService(database, requestRepo, roleAssignmentRepo, teamRepo, volunteerRepo, rec)
	feedbackSvc := services.NewFeedbackService(database, repositories.NewFeedbackRepository(database), storageBackend)

	var cipher *crypto.TokenCipher
	if cfg.Email.EncryptionKey != "" {
		cipher, err = crypto.FromPassphrase(cfg.Email.EncryptionKey)
		if err != nil {
			bg.Shutdown()
			return nil, nil, fmt.Errorf("initialize email cipher: %w", err)
		}
	} else {
		slog.Warn("email.encryption_key not set; the SMTP configuration cannot be saved")
	}
	mail := email.NewService(
		repositories.NewEmailConfigRepository(database),
		cipher,
		&email.SMTPSender{Timeout: cfg.Email.SendTimeout},
		cfg.App.Name,
		cfg.Server.BaseURL+"/login",
	)

	backups := backup.NewService(
		repositories.NewBackupRepository(database),
		storageBackend,
		backup.CommandDumper{Command: cfg.Backup.DumpCommand, URL: cfg.Database.GetURL()},
		cfg.Backup.Prefix,
	)

	maintenance := middleware.NewMaintenanceState(repositories.NewSettingsRepository(database), maintenanceRefresh)

	// Background jobs
	if !opts.DisableJobs {
		bg.backupJob = jobs.NewBackupJob(backups, cfg.Backup)
		bg.retentionJob = jobs.NewAuditRetentionJob(auditRepo, cfg.Audit.RetentionDays, cfg.Jobs.AuditRetentionIntervalHours)
		bg.expiryJob = jobs.NewRoleExpiryJob(roleSvc, cfg.Jobs.RoleExpiryIntervalMinutes)
		safego.GoNamed("backup_job", func() { bg.backupJob.Start(ctx) })
		safego.GoNamed("audit_retention_job", func() { bg.retentionJob.Start(ctx) })
		bg.tokenJob = jobs.NewTokenCleanupJob(repositories.NewAccountTokenRepository(database), cfg.Jobs.TokenCleanupIntervalHours)
		safego.GoNamed("role_expiry_job", func() { bg.expiryJob.Start(ctx) })
		safego.GoNamed("token_cleanup_job", func() { bg.tokenJob.Start(ctx) })
	}

	// Rate limiters
	var apiLimiter, authLimiter middleware.Limiter
	if cfg.Security.RateLimiting.Enabled {
		apiCfg := middleware.RateLimitConfig{
			RequestsPerMinute: cfg.Security.RateLimiting.RequestsPerMinute,
			BurstSize:         cfg.Security.RateLimiting.Burst,
			CleanupInterval:   5 * time.Minute,
		}
		authCfg := middleware.RateLimitConfig{
			RequestsPerMinute: cfg.Security.RateLimiting.AuthRequestsPerMinute,
			BurstSize:         cfg.Security.RateLimiting.AuthRequestsPerMinute,
			CleanupInterval:   5 * time.Minute,
		}
		if rdb != nil {
			apiLimiter = middleware.NewRedisRateLimiter(rdb, cfg.Redis.KeyPrefix, "api", apiCfg)
			authLimiter = middleware.NewRedisRateLimiter(rdb, cfg.Redis.KeyPrefix, "auth", authCfg)
		} else {
			apiRL := middleware.NewRateLimiter(apiCfg)
			authRL := middleware.NewRateLimiter(authCfg)
			bg.rateLimiters = append(bg.rateLimiters, apiRL, authRL)
			apiLimiter, authLimiter = apiRL, authRL
		}
	}

	// Handlers
	authHandlers := admin.NewAuthHandlers(cfg, database, rec)
	userHandlers := admin.NewUserHandlers(cfg, database, mail, rec)
	auditHandlers := admin.NewAuditHandlers(database, rec)
	emailHandlers := admin.NewEmailHandlers(database, mail, cipher, rec)
	backupHandlers := admin.NewBackupHandlers(backups, rec)
	orgHandlers := admin.NewOrganizationHandlers(database, rec)
	statsHandler := admin.NewStatsHandler(database)
	systemHandlers := admin.NewSystemHandlers(cfg, database, admin.SystemDeps{
		Cache:       appCache,
		Views:       views,
		Backups:     backups,
		Mail:        mail,
		Maintenance: maintenance,
		Recorder:    rec,
		Version:     opts.Version,
		StartedAt:   opts.StartedAt,
	})
	volunteerHandlers := directory.NewVolunteerHandlers(database, roleSvc, views, rec)
	congregationHandlers := directory.NewCongregationHandlers(database, rec)
	teamHandlers := teams.NewTradeTeamHandlers(database, roleSvc, views)
	roleHandlers := roles.NewRoleHandlers(database, views)
	roleAssignmentHandlers := roles.NewRoleAssignmentHandlers(database, roleSvc, views)
	assignmentHandlers := assignments.NewAssignmentHandlers(database, assignmentSvc)
	accountHandlers := admin.NewAccountHandlers(cfg, database, mail, rec)
	announcementHandlers := admin.NewAnnouncementHandlers(database)
	crewRequestHandlers := crewrequests.NewCrewRequestHandlers(database, services.NewCrewRequestService(
		repositories.NewCrewRequestRepository(database), userRepo, roleAssignmentRepo, mail))
	feedbackHandlers := feedback.NewFeedbackHandlers(database, feedbackSvc)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS))
	router.Use(middleware.SecurityHeadersMiddleware(cfg.Security.TLS.Enabled))

	router.GET("/health", healthCheckHandler(database))
	router.GET("/ready", readinessHandler(database, storageBackend))
	router.GET("/version", versionHandler(opts.Version))

	apiV1 := router.Group("/api/v1")
	authMW := middleware.AuthMiddleware(cfg, userRepo)

	// Auth
	authGroup := apiV1.Group("/auth")
	if authLimiter != nil {
		authGroup.Use(middleware.RateLimitMiddleware("auth", authLimiter))
	}
	{
		authGroup.POST("/login", authHandlers.LoginHandler())
		authGroup.POST("/logout", authHandlers.LogoutHandler())
		authGroup.GET("/me", authMW, authHandlers.MeHandler())
		authGroup.POST("/change-password", authMW, authHandlers.ChangePasswordHandler())
		authGroup.GET("/verify-invite", accountHandlers.VerifyInviteHandler())
		authGroup.POST("/accept-invite", accountHandlers.AcceptInviteHandler())
		authGroup.POST("/forgot-password", accountHandlers.ForgotPasswordHandler())
		authGroup.GET("/verify-reset-token", accountHandlers.VerifyResetTokenHandler())
		authGroup.POST("/reset-password", accountHandlers.ResetPasswordHandler())
	}

	protected := apiV1.Group("")
	protected.Use(authMW)
	if apiLimiter != nil {
		protected.Use(middleware.RateLimitMiddleware("api", apiLimiter))
	}
	protected.Use(middleware.MaintenanceMiddleware(maintenance))
	protected.Use(middleware.AuditMiddleware(rec, cfg.Audit))

	volRead := middleware.RequireScope(auth.ScopeVolunteersRead)
	volWrite := middleware.RequireScope(auth.ScopeVolunteersWrite)
	teamsRead := middleware.RequireScope(auth.ScopeTeamsRead)
	teamsWrite := middleware.RequireScope(auth.ScopeTeamsWrite)
	rolesRead := middleware.RequireScope(auth.ScopeRolesRead)
	rolesWrite := middleware.RequireScope(auth.ScopeRolesWrite)
	asgRead := middleware.RequireScope(auth.ScopeAssignmentsRead)
	asgWrite := middleware.RequireScope(auth.ScopeAssignmentsWrite)
	superAdmin := middleware.RequireRole(models.RoleSuperAdmin)

	// Volunteers
	volunteers := protected.Group("/volunteers")
	{
		volunteers.GET("", volRead, volunteerHandlers.ListVolunteersHandler())
		volunteers.POST("", volWrite, volunteerHandlers.CreateVolunteerHandler())
		volunteers.GET("/stats", volRead, volunteerHandlers.StatsHandler())
		volunteers.GET("/export", volRead, volunteerHandlers.ExportHandler())
		volunteers.POST("/import", volWrite, volunteerHandlers.ImportHandler())
		volunteers.POST("/bulk-update", volWrite, volunteerHandlers.BulkUpdateHandler())
		volunteers.GET("/:id", volRead, volunteerHandlers.GetVolunteerHandler())
		volunteers.PATCH("/:id", volWrite, volunteerHandlers.UpdateVolunteerHandler())
		volunteers.DELETE("/:id", volWrite, volunteerHandlers.DeleteVolunteerHandler())
	}

	// Congregations
	congregations := protected.Group("/congregations")
	{
		congregations.GET("", volRead, congregationHandlers.ListCongregationsHandler())
		congregations.POST("", volWrite, congregationHandlers.CreateCongregationHandler())
		congregations.GET("/:id", volRead, congregationHandlers.GetCongregationHandler())
		congregations.PATCH("/:id", volWrite, congregationHandlers.UpdateCongregationHandler())
		congregations.DELETE("/:id", volWrite, congregationHandlers.DeleteCongregationHandler())
	}

	// Projects and their congregation assignments
	projects := protected.Group("/projects")
	{
		projects.GET("", volRead, congregationHandlers.ListProjectsHandler())
		projects.POST("", volWrite, congregationHandlers.CreateProjectHandler())
		projects.GET("/:id", volRead, congregationHandlers.GetProjectHandler())
		projects.GET("/:id/congregations", volRead, congregationHandlers.ListProjectCongregationsHandler())
		projects.POST("/:id/congregations", volWrite, congregationHandlers.CreateProjectCongregationHandler())
		projects.GET("/:id/congregations/export", volRead, congregationHandlers.ExportProjectCongregationsHandler())
		projects.PATCH("/:id/congregations/:assignmentId", volWrite, congregationHandlers.UpdateProjectCongregationHandler())
		projects.DELETE("/:id/congregations/:assignmentId", volWrite, congregationHandlers.DeleteProjectCongregationHandler())
	}

	// Trade teams, crews and oversight
	tradeTeams := protected.Group("/trade-teams")
	{
		tradeTeams.GET("", teamsRead, teamHandlers.ListTradeTeamsHandler())
		tradeTeams.POST("", teamsWrite, teamHandlers.CreateTradeTeamHandler())
		tradeTeams.POST("/seed-standard", teamsWrite, teamHandlers.SeedStandardHandler())
		tradeTeams.GET("/overview", teamsRead, teamHandlers.OverviewHandler())
		tradeTeams.GET("/overview/export", teamsRead, teamHandlers.ExportOverviewHandler())
		tradeTeams.GET("/:id", teamsRead, teamHandlers.GetTradeTeamHandler())
		tradeTeams.PATCH("/:id", teamsWrite, teamHandlers.UpdateTradeTeamHandler())
		tradeTeams.DELETE("/:id", teamsWrite, teamHandlers.DeleteTradeTeamHandler())

		tradeTeams.GET("/:id/crews", teamsRead, teamHandlers.ListCrewsHandler())
		tradeTeams.POST("/:id/crews", teamsWrite, teamHandlers.CreateCrewHandler())
		tradeTeams.GET("/:id/crews/:crewId", teamsRead, teamHandlers.GetCrewHandler())
		tradeTeams.PATCH("/:id/crews/:crewId", teamsWrite, teamHandlers.UpdateCrewHandler())
		tradeTeams.DELETE("/:id/crews/:crewId", teamsWrite, teamHandlers.DeleteCrewHandler())

		tradeTeams.GET("/:id/oversight", teamsRead, teamHandlers.ListTeamOversightHandler())
		tradeTeams.POST("/:id/oversight", teamsWrite, teamHandlers.AddTeamOversightHandler())
		tradeTeams.PATCH("/:id/oversight/:oversightId", teamsWrite, teamHandlers.UpdateTeamOversightHandler())
		tradeTeams.DELETE("/:id/oversight/:oversightId", teamsWrite, teamHandlers.EndTeamOversightHandler())

		tradeTeams.GET("/:id/crews/:crewId/oversight", teamsRead, teamHandlers.ListCrewOversightHandler())
		tradeTeams.POST("/:id/crews/:crewId/oversight", teamsWrite, teamHandlers.AddCrewOversightHandler())
		tradeTeams.PATCH("/:id/crews/:crewId/oversight/:oversightId", teamsWrite, teamHandlers.UpdateCrewOversightHandler())
		tradeTeams.DELETE("/:id/crews/:crewId/oversight/:oversightId", teamsWrite, teamHandlers.EndCrewOversightHandler())
	}

	// Role catalog
	roleRoutes := protected.Group("/roles")
	{
		roleRoutes.GET("", rolesRead, roleHandlers.ListRolesHandler())
		roleRoutes.POST("", rolesWrite, roleHandlers.CreateRoleHandler())
		roleRoutes.GET("/:id", rolesRead, roleHandlers.GetRoleHandler())
		roleRoutes.PATCH("/:id", rolesWrite, roleHandlers.UpdateRoleHandler())
	}

	// Role assignments
	roleAssignments := protected.Group("/role-assignments")
	{
		roleAssignments.GET("", rolesRead, roleAssignmentHandlers.ListRoleAssignmentsHandler())
		roleAssignments.POST("", rolesWrite, roleAssignmentHandlers.CreateRoleAssignmentHandler())
		roleAssignments.POST("/bulk", rolesWrite, roleAssignmentHandlers.BulkAssignHandler())
		roleAssignments.GET("/stats", rolesRead, roleAssignmentHandlers.StatsHandler())
		roleAssignments.GET("/health", rolesRead, roleAssignmentHandlers.HealthHandler())
		roleAssignments.GET("/:id", rolesRead, roleAssignmentHandlers.GetRoleAssignmentHandler())
		roleAssignments.PATCH("/:id", rolesWrite, roleAssignmentHandlers.UpdateRoleAssignmentHandler())
		roleAssignments.DELETE("/:id", rolesWrite, roleAssignmentHandlers.DeleteRoleAssignmentHandler())
		roleAssignments.POST("/:id/primary", rolesWrite, roleAssignmentHandlers.SetPrimaryHandler())
	}

	// Assignment requests and the approval workflow
	assignmentRoutes := protected.Group("/assignments")
	{
		assignmentRoutes.POST("", asgWrite, assignmentHandlers.CreateAssignmentHandler())
		assignmentRoutes.GET("", asgRead, assignmentHandlers.ListAssignmentsHandler())
		assignmentRoutes.GET("/capacity", asgRead, assignmentHandlers.CapacityHandler())
		assignmentRoutes.GET("/stats", asgRead, assignmentHandlers.StatsHandler())
		assignmentRoutes.GET("/:id", asgRead, assignmentHandlers.GetAssignmentHandler())
		assignmentRoutes.POST("/:id/decision", asgWrite, assignmentHandlers.DecisionHandler())
		assignmentRoutes.POST("/:id/transition", asgWrite, assignmentHandlers.TransitionHandler())
	}

	// Crew change requests
	crewRequests := protected.Group("/crew-requests")
	{
		crewRead := crewRequestHandlers.RequirePersonnel(auth.ScopeCrewRequestsRead)
		crewWrite := crewRequestHandlers.RequirePersonnel(auth.ScopeCrewRequestsWrite)
		crewRequests.POST("", crewRequestHandlers.SubmitHandler())
		crewRequests.GET("/mine", crewRequestHandlers.MyRequestsHandler())
		crewRequests.GET("", crewRead, crewRequestHandlers.ListRequestsHandler())
		crewRequests.GET("/:id", crewRead, crewRequestHandlers.GetRequestHandler())
		crewRequests.PATCH("/:id", crewWrite, crewRequestHandlers.UpdateRequestHandler())
		crewRequests.DELETE("/:id", crewRequestHandlers.DeleteRequestHandler())
	}

	// Feedback and announcements for every signed-in user
	protected.POST("/feedback", feedbackHandlers.SubmitFeedbackHandler())
	protected.GET("/feedback/mine", feedbackHandlers.MyFeedbackHandler())
	protected.GET("/feedback/:id/attachments/:attachmentId", feedbackHandlers.AttachmentHandler())
	protected.GET("/announcements", announcementHandlers.CurrentAnnouncementsHandler())

	// Administration
	adminGroup := protected.Group("/admin")
	{
		adminGroup.GET("/stats", middleware.RequireScope(auth.ScopeAdminRead), statsHandler.GetDashboardStats)

		auditRoutes := adminGroup.Group("/audit")
		auditRoutes.Use(middleware.RequireScope(auth.ScopeAuditRead))
		{
			auditRoutes.GET("/logs", auditHandlers.ListAuditLogsHandler())
			auditRoutes.GET("/export", superAdmin, auditHandlers.ExportAuditLogsHandler())
			auditRoutes.GET("/stats", auditHandlers.AuditStatsHandler())
		}

		usersRead := middleware.RequireScope(auth.ScopeUsersRead)
		usersWrite := middleware.RequireScope(auth.ScopeUsersWrite)
		users := adminGroup.Group("/users")
		{
			users.GET("", usersRead, userHandlers.ListUsersHandler())
			users.GET("/stats", usersRead, userHandlers.UserStatsHandler())
			users.POST("/invite", usersWrite, userHandlers.InviteUserHandler())
			users.PATCH("/:id", usersWrite, userHandlers.UpdateUserHandler())
			users.DELETE("/:id", superAdmin, userHandlers.DeleteUserHandler())
			users.POST("/:id/reset-password", usersWrite, userHandlers.ResetPasswordHandler())
			users.POST("/:id/link-volunteer", usersWrite, userHandlers.LinkVolunteerHandler())
		}

		backupRoutes := adminGroup.Group("/backup")
		backupRoutes.Use(middleware.RequireScope(auth.ScopeBackupsManage))
		{
			backupRoutes.POST("", backupHandlers.CreateBackupHandler())
			backupRoutes.GET("/info", backupHandlers.BackupInfoHandler())
			backupRoutes.GET("/:id/download", backupHandlers.DownloadBackupHandler())
			backupRoutes.DELETE("/:id", backupHandlers.DeleteBackupHandler())
		}

		emailRoutes := adminGroup.Group("/email")
		emailRoutes.Use(middleware.RequireScope(auth.ScopeEmailManage))
		{
			emailRoutes.GET("/config", emailHandlers.GetEmailConfigHandler())
			emailRoutes.PUT("/config", emailHandlers.UpdateEmailConfigHandler())
			emailRoutes.POST("/test", emailHandlers.TestEmailHandler())
		}

		adminRead := middleware.RequireScope(auth.ScopeAdminRead)
		adminWrite := middleware.RequireScope(auth.ScopeAdminWrite)
		cacheManage := middleware.RequireScope(auth.ScopeCacheManage)

		adminGroup.GET("/construction-groups", adminRead, orgHandlers.ListConstructionGroupsHandler())
		adminGroup.POST("/construction-groups", superAdmin, orgHandlers.CreateConstructionGroupHandler())
		adminGroup.GET("/construction-groups/:id", adminRead, orgHandlers.GetConstructionGroupHandler())
		adminGroup.PATCH("/construction-groups/:id", superAdmin, orgHandlers.UpdateConstructionGroupHandler())
		adminGroup.GET("/regions", adminRead, orgHandlers.ListRegionsHandler())
		adminGroup.GET("/zones", adminRead, orgHandlers.ListZonesHandler())

		adminGroup.GET("/health/status", adminRead, systemHandlers.HealthStatusHandler())
		adminGroup.GET("/system/info", adminRead, systemHandlers.SystemInfoHandler())
		adminGroup.GET("/cache/items", cacheManage, systemHandlers.CacheItemsHandler())
		adminGroup.POST("/cache/clear", cacheManage, systemHandlers.ClearCacheHandler())
		adminGroup.POST("/cache/warm", cacheManage, systemHandlers.WarmCacheHandler())
		adminGroup.GET("/maintenance", adminRead, systemHandlers.GetMaintenanceHandler())
		adminGroup.PUT("/maintenance", adminWrite, systemHandlers.SetMaintenanceHandler())

		adminGroup.GET("/announcements", adminRead, announcementHandlers.ListAnnouncementsHandler())
		adminGroup.POST("/announcements", adminWrite, announcementHandlers.CreateAnnouncementHandler())
		adminGroup.PUT("/announcements/:id", adminWrite, announcementHandlers.UpdateAnnouncementHandler())
		adminGroup.DELETE("/announcements/:id", adminWrite, announcementHandlers.DeleteAnnouncementHandler())

		feedbackRoutes := adminGroup.Group("/feedback")
		feedbackRoutes.Use(middleware.RequireScope(auth.ScopeFeedbackManage))
		{
			feedbackRoutes.GET("", feedbackHandlers.ListFeedbackHandler())
			feedbackRoutes.PATCH("/:id/status", feedbackHandlers.UpdateStatusHandler())
			feedbackRoutes.POST("/:id/comments", feedbackHandlers.AddCommentHandler())
		}
	}

	return router, bg, nil
}

// @Summary      Health check
// @Description  Liveness check. Pings the database.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(database *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database unavailable",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the database and the backup storage backend.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service.
// A storage failure is reported but does not fail readiness; only backups depend on it.
func readinessHandler(database *sqlx.DB, storageBackend storage.Storage) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := database.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if storageBackend != nil {
			if err := storageBackend.Ping(c.Request.Context()); err != nil {
				slog.Warn("storage backend ping failed", "backend", storageBackend.Name(), "error", err)
				checks["storage"] = "unhealthy"
			} else {
				checks["storage"] = "healthy"
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the build and API version
func versionHandler(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     version,
			"api_version": "v1",
		})
	}
}
