package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-discipline-api/internal/dto"
	"github.com/noah-isme/sma-discipline-api/internal/models"
	"github.com/noah-isme/sma-discipline-api/pkg/response"
)

type studentService interface {
	Create(ctx context.Context, req dto.CreateStudentRequest) (*models.Student, error)
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, *models.Pagination, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Student, error)
	History(ctx context.Context, id string, actor *models.JWTClaims) ([]models.StatusChange, error)
}

type studentDeleter interface {
	DeleteStudent(ctx context.Context, studentID string, actor *models.JWTClaims) (*dto.DeletionReport, error)
	DeleteStudents(ctx context.Context, req dto.BulkDeleteRequest, actor *models.JWTClaims) (*dto.BulkDeletionReport, error)
}

type studentReconciler interface {
	Reconcile(ctx context.Context, studentID string) (*dto.ReconcileResult, error)
}

type reconcileScheduler interface {
	ReconcileAll(ctx context.Context) (*dto.ReconcileAllResult, error)
}

// StudentHandler exposes student endpoints.
type StudentHandler struct {
	students  studentService
	deleter   studentDeleter
	ledger    studentReconciler
	scheduler reconcileScheduler
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students studentService, deleter studentDeleter, ledger studentReconciler, scheduler reconcileScheduler) *StudentHandler {
	return &StudentHandler{students: students, deleter: deleter, ledger: ledger, scheduler: scheduler}
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Param search query string false "Search by name or NIS"
// @Param program query string false "Program"
// @Param cohort query string false "Cohort"
// @Param status query string false "NORMAL, PROBATION or AT_RISK_EXPULSION"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Param sort query string false "full_name, nis, point_total or created_at"
// @Param order query string false "asc or desc"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	filter := models.StudentFilter{
		Search:    strings.TrimSpace(c.Query("search")),
		Program:   c.Query("program"),
		Cohort:    c.Query("cohort"),
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
	}
	if status := c.Query("status"); status != "" {
		value := models.StudentStatus(status)
		filter.Status = &value
	}
	filter.Page, filter.PageSize = pageParams(c)

	students, pagination, err := h.students.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, pagination)
}

// Get godoc
// @Summary Get student detail
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	student, err := h.students.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// History godoc
// @Summary Student status history
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/history [get]
func (h *StudentHandler) History(c *gin.Context) {
	changes, err := h.students.History(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, changes, nil)
}

// Create godoc
// @Summary Enrol student
// @Description Creates the student's identity account and the student record.
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body dto.CreateStudentRequest true "Student payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Create(c *gin.Context) {
	var req dto.CreateStudentRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}
	student, err := h.students.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// Delete godoc
// @Summary Delete student
// @Description Removes the student with every dependent record and their identity. When the identity
// @Description cannot be removed the deletion still succeeds and meta.qualified is set.
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id} [delete]
func (h *StudentHandler) Delete(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	report, err := h.deleter.DeleteStudent(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	if report.IdentityOrphaned {
		response.Qualified(c, report, "student deleted but identity could not be removed")
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// BulkDelete godoc
// @Summary Delete students in bulk
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body dto.BulkDeleteRequest true "Student ids"
// @Success 200 {object} response.Envelope
// @Router /students/bulk-delete [post]
func (h *StudentHandler) BulkDelete(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.BulkDeleteRequest
	if !bindJSON(c, &req, "invalid payload") {
		return
	}
	report, err := h.deleter.DeleteStudents(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	if len(report.OrphanedIdentities) > 0 {
		response.Qualified(c, report, fmt.Sprintf("%d identities could not be removed", len(report.OrphanedIdentities)))
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Reconcile godoc
// @Summary Reconcile one student
// @Description Recomputes the point total from the ledger and repairs drift.
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/reconcile [post]
func (h *StudentHandler) Reconcile(c *gin.Context) {
	result, err := h.ledger.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ReconcileAll godoc
// @Summary Reconcile every student
// @Description Queues one background reconciliation per student.
// @Tags Students
// @Produce json
// @Success 202 {object} response.Envelope
// @Router /students/reconcile [post]
func (h *StudentHandler) ReconcileAll(c *gin.Context) {
	result, err := h.scheduler.ReconcileAll(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, result, nil)
}
