package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/deploydeck/api/internal/client"
	"github.com/deploydeck/api/internal/service"
	"github.com/deploydeck/api/pkg/response"
)

type DirectoryHandler struct {
	service *service.DirectoryService
}

func NewDirectoryHandler(svc *service.DirectoryService) *DirectoryHandler {
	return &DirectoryHandler{service: svc}
}

// ListApps handles GET /api/directory/apps
// @Summary      List applications
// @Description  List the managed applications available for assignment
// @Tags         Directory
// @Produce      json
// @Success      200 {array} model.Application
// @Failure      401 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/directory/apps [get]
func (h *DirectoryHandler) ListApps(c *fiber.Ctx) error {
	apps, err := h.service.ListApplications(c.Context())
	if err != nil {
		return directoryError(c, err)
	}
	return response.OK(c, apps)
}

// ListGroups handles GET /api/directory/groups
// @Summary      List groups
// @Description  List the security groups usable as assignment targets, built-ins first
// @Tags         Directory
// @Produce      json
// @Success      200 {array} model.DirectoryGroup
// @Failure      401 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/directory/groups [get]
func (h *DirectoryHandler) ListGroups(c *fiber.Ctx) error {
	groups, err := h.service.ListGroups(c.Context())
	if err != nil {
		return directoryError(c, err)
	}
	return response.OK(c, groups)
}

// ListFilters handles GET /api/directory/filters
// @Summary      List assignment filters
// @Description  List the device filters that can scope assignment targets
// @Tags         Directory
// @Produce      json
// @Success      200 {array} model.AssignmentFilter
// @Failure      401 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/directory/filters [get]
func (h *DirectoryHandler) ListFilters(c *fiber.Ctx) error {
	filters, err := h.service.ListFilters(c.Context())
	if err != nil {
		return directoryError(c, err)
	}
	return response.OK(c, filters)
}

// directoryError maps upstream API failures to 502 so callers can tell
// them apart from faults in this service.
func directoryError(c *fiber.Ctx, err error) error {
	if apiErr, ok := client.AsAPIError(err); ok {
		return response.UpstreamError(c, apiErr.Error())
	}
	return response.ServiceError(c, err.Error())
}
