package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/deploydeck/api/internal/expander"
	"github.com/deploydeck/api/internal/middleware"
	"github.com/deploydeck/api/internal/model"
	"github.com/deploydeck/api/internal/service"
	"github.com/deploydeck/api/internal/store"
	"github.com/deploydeck/api/pkg/response"
)

type AssignmentHandler struct {
	service   *service.AssignmentService
	reports   *service.ReportService
	validator *validator.Validate
}

func NewAssignmentHandler(svc *service.AssignmentService, reports *service.ReportService, v *validator.Validate) *AssignmentHandler {
	return &AssignmentHandler{
		service:   svc,
		reports:   reports,
		validator: v,
	}
}

// SubmitBulk handles POST /api/assignments/bulk
// @Summary      Submit bulk assignment
// @Description  Expand a resource and group selection into assignment jobs and start processing them
// @Tags         Assignments
// @Accept       json
// @Produce      json
// @Param        request body model.BulkAssignRequest true "Bulk assignment request"
// @Success      202 {object} model.BulkAssignResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/assignments/bulk [post]
func (h *AssignmentHandler) SubmitBulk(c *fiber.Ctx) error {
	var req model.BulkAssignRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	createdBy := middleware.GetUserEmail(c)
	if createdBy == "" {
		createdBy = middleware.GetUserID(c)
	}

	result, err := h.service.SubmitBulk(c.Context(), &req, createdBy)
	if err != nil {
		if errors.Is(err, expander.ErrInvalidSelection) {
			return response.ValidationError(c, err.Error(), nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// ListBatches handles GET /api/assignments
// @Summary      List batches
// @Description  List all known batches, newest first
// @Tags         Assignments
// @Produce      json
// @Success      200 {array} model.Batch
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/assignments [get]
func (h *AssignmentHandler) ListBatches(c *fiber.Ctx) error {
	return response.OK(c, h.service.Batches())
}

// GetBatch handles GET /api/assignments/:batchId
// @Summary      Get batch detail
// @Description  Get a batch record together with its live per-status counts
// @Tags         Assignments
// @Produce      json
// @Param        batchId path string true "Batch ID"
// @Success      200 {object} model.BatchDetailResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/assignments/{batchId} [get]
func (h *AssignmentHandler) GetBatch(c *fiber.Ctx) error {
	batchID := c.Params("batchId")

	batch, err := h.service.Batch(batchID)
	if err != nil {
		if errors.Is(err, store.ErrBatchNotFound) {
			return response.NotFound(c, "Batch not found")
		}
		return response.ServiceError(c, err.Error())
	}
	summary, err := h.service.Summary(batchID)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.BatchDetailResponse{Batch: batch, Summary: summary})
}

// GetSummary handles GET /api/assignments/:batchId/summary
// @Summary      Get batch summary
// @Description  Get the per-status job counts for a batch
// @Tags         Assignments
// @Produce      json
// @Param        batchId path string true "Batch ID"
// @Success      200 {object} model.BatchSummary
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/assignments/{batchId}/summary [get]
func (h *AssignmentHandler) GetSummary(c *fiber.Ctx) error {
	summary, err := h.service.Summary(c.Params("batchId"))
	if err != nil {
		if errors.Is(err, store.ErrBatchNotFound) {
			return response.NotFound(c, "Batch not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, summary)
}

// ListJobs handles GET /api/assignments/:batchId/jobs
// @Summary      List batch jobs
// @Description  List a batch's jobs in creation order, optionally filtered by status
// @Tags         Assignments
// @Produce      json
// @Param        batchId path string true "Batch ID"
// @Param        status query string false "Filter by job status"
// @Param        offset query int false "Page offset"
// @Param        limit query int false "Page size (default 50)"
// @Success      200 {object} model.JobListResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/assignments/{batchId}/jobs [get]
func (h *AssignmentHandler) ListJobs(c *fiber.Ctx) error {
	status := model.JobStatus(c.Query("status"))
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)

	result, err := h.service.Jobs(c.Params("batchId"), status, offset, limit)
	if err != nil {
		if errors.Is(err, store.ErrBatchNotFound) {
			return response.NotFound(c, "Batch not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Cancel handles POST /api/assignments/:batchId/cancel
// @Summary      Cancel batch
// @Description  Cancel every job of the batch that has not reached a terminal status
// @Tags         Assignments
// @Produce      json
// @Param        batchId path string true "Batch ID"
// @Success      200 {object} model.CancelResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/assignments/{batchId}/cancel [post]
func (h *AssignmentHandler) Cancel(c *fiber.Ctx) error {
	result, err := h.service.Cancel(c.Params("batchId"))
	if err != nil {
		if errors.Is(err, store.ErrBatchNotFound) {
			return response.NotFound(c, "Batch not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// GetReport handles GET /api/assignments/:batchId/report
// @Summary      Get batch report
// @Description  Archive the finished batch and return a time-limited download link
// @Tags         Assignments
// @Produce      json
// @Param        batchId path string true "Batch ID"
// @Success      200 {object} model.ReportResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/assignments/{batchId}/report [get]
func (h *AssignmentHandler) GetReport(c *fiber.Ctx) error {
	result, err := h.reports.Generate(c.Context(), c.Params("batchId"))
	if err != nil {
		if errors.Is(err, store.ErrBatchNotFound) {
			return response.NotFound(c, "Batch not found")
		}
		if errors.Is(err, service.ErrReportNotReady) {
			return response.Conflict(c, "Batch still has active jobs")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
