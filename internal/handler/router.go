package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-discipline-api/internal/middleware"
	"github.com/noah-isme/sma-discipline-api/internal/models"
)

// Handlers groups every API handler mounted under the API prefix.
type Handlers struct {
	Auth          *AuthHandler
	Rules         *RuleHandler
	Violations    *ViolationHandler
	Appeals       *AppealHandler
	Students      *StudentHandler
	Settings      *SettingsHandler
	Announcements *AnnouncementHandler
	Notifications *NotificationHandler
	Evidence      *EvidenceHandler
}

// Register mounts the API routes. Everything except login, refresh and evidence downloads
// requires a bearer token; evidence downloads are authorised by their signed token.
func (h Handlers) Register(api gin.IRouter, tokens middleware.TokenValidator, audit middleware.AuditWriter, logger *zap.Logger) {
	admin := middleware.RequireRoles(models.RoleAdmin)
	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor)
	record := func(action, resource string) gin.HandlerFunc {
		return middleware.Audit(audit, logger, action, resource)
	}

	auth := api.Group("/auth")
	auth.POST("/login", h.Auth.Login)
	auth.POST("/refresh", h.Auth.Refresh)

	api.GET("/evidence/files", h.Evidence.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(tokens))

	secured.GET("/auth/me", h.Auth.Me)

	rules := secured.Group("/rules")
	rules.GET("", h.Rules.List)
	rules.GET("/:id", h.Rules.Get)
	rules.POST("", admin, record(models.AuditActionRuleWrite, "rule"), h.Rules.Create)
	rules.PUT("/:id", admin, record(models.AuditActionRuleWrite, "rule"), h.Rules.Update)

	violations := secured.Group("/violations")
	violations.GET("", h.Violations.List)
	violations.GET("/:id", staff, h.Violations.Get)
	violations.POST("", staff, record(models.AuditActionViolationRecord, "violation"), h.Violations.Record)
	violations.POST("/:id/reverse", admin, record(models.AuditActionViolationReverse, "violation"), h.Violations.Reverse)

	appeals := secured.Group("/appeals")
	appeals.GET("", h.Appeals.List)
	appeals.POST("", middleware.RequireRoles(models.RoleStudent), h.Appeals.Submit)
	appeals.POST("/:id/decision", admin, record(models.AuditActionAppealDecide, "appeal"), h.Appeals.Decide)

	students := secured.Group("/students")
	students.GET("", staff, h.Students.List)
	students.GET("/:id", h.Students.Get)
	students.GET("/:id/history", h.Students.History)
	students.POST("", admin, record(models.AuditActionStudentCreate, models.AuditResourceStudent), h.Students.Create)
	students.DELETE("/:id", admin, record(models.AuditActionStudentDelete, "student_deletion"), h.Students.Delete)
	students.POST("/bulk-delete", admin, record(models.AuditActionStudentDelete, "student_deletion"), h.Students.BulkDelete)
	students.POST("/reconcile", admin, record(models.AuditActionStudentReconcile, models.AuditResourceStudent), h.Students.ReconcileAll)
	students.POST("/:id/reconcile", admin, record(models.AuditActionStudentReconcile, models.AuditResourceStudent), h.Students.Reconcile)

	settings := secured.Group("/settings")
	settings.GET("/thresholds", h.Settings.GetThresholds)
	settings.PUT("/thresholds", admin, record(models.AuditActionThresholdsUpdate, "settings"), h.Settings.UpdateThresholds)

	announcements := secured.Group("/announcements")
	announcements.GET("", h.Announcements.List)
	announcements.GET("/:id", h.Announcements.Get)
	announcements.POST("", staff, record(models.AuditActionAnnouncementWrite, "announcement"), h.Announcements.Create)
	announcements.POST("/preview", staff, h.Announcements.Preview)

	notifications := secured.Group("/notifications")
	notifications.GET("", h.Notifications.List)
	notifications.GET("/unread-count", h.Notifications.UnreadCount)
	notifications.POST("/read-all", h.Notifications.MarkAllRead)
	notifications.POST("/:id/read", h.Notifications.MarkRead)

	secured.POST("/evidence", staff, h.Evidence.Upload)
}
