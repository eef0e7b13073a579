package handler

import (
	"net/http"
	"strings"

	"github.com/SergeiKhy/linkresolver/internal/apperr"
	"github.com/SergeiKhy/linkresolver/internal/middleware"
	"github.com/SergeiKhy/linkresolver/internal/models"
	"github.com/SergeiKhy/linkresolver/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errNoPrincipal = apperr.New(apperr.KindUnauthorized, "unauthorized", "Authentication required")

type LinkHandler struct {
	service service.LinkService
	baseURL string
	errors  *ErrorWriter
	logger  *zap.Logger
}

func NewLinkHandler(service service.LinkService, baseURL string, errors *ErrorWriter, logger *zap.Logger) *LinkHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkHandler{
		service: service,
		baseURL: strings.TrimRight(baseURL, "/"),
		errors:  errors,
		logger:  logger,
	}
}

type CreateLinkRequest struct {
	Destination string  `json:"destination" binding:"required"`
	Alias       *string `json:"alias,omitempty"`
}

type UpdateLinkRequest struct {
	Destination     *string `json:"destination,omitempty"`
	IncrementVisits bool    `json:"increment_visits,omitempty"`
}

type BulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

type LinkResponse struct {
	models.Link
	ShortURL string `json:"short_url"`
}

// CreateLink godoc
// @Summary Create a short link
// @Description Create a short link with a generated code or a custom alias
// @Tags links
// @Accept json
// @Produce json
// @Param request body CreateLinkRequest true "Link creation request"
// @Success 201 {object} LinkResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/links [post]
func (h *LinkHandler) CreateLink(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}

	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", zap.Error(err))
		h.errors.BadRequest(c, err)
		return
	}

	input := &models.CreateLinkInput{
		OwnerID:     ownerID,
		Destination: strings.TrimSpace(req.Destination),
	}
	if req.Alias != nil && *req.Alias != "" {
		input.Alias = req.Alias
	}

	link, err := h.service.Create(c.Request.Context(), input)
	if err != nil {
		h.errors.Write(c, err)
		return
	}

	c.JSON(http.StatusCreated, h.response(link))
}

// ListLinks godoc
// @Summary List own links
// @Tags links
// @Produce json
// @Success 200 {array} LinkResponse
// @Router /api/v1/links [get]
func (h *LinkHandler) ListLinks(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}

	links, err := h.service.List(c.Request.Context(), ownerID)
	if err != nil {
		h.errors.Write(c, err)
		return
	}

	resp := make([]LinkResponse, 0, len(links))
	for i := range links {
		resp = append(resp, h.response(&links[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// QuotaStatus godoc
// @Summary Current plan, limit and link count
// @Tags links
// @Produce json
// @Success 200 {object} models.QuotaStatus
// @Router /api/v1/links/status [get]
func (h *LinkHandler) QuotaStatus(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}

	status, err := h.service.Status(c.Request.Context(), ownerID)
	if err != nil {
		h.errors.Write(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// UpdateLink godoc
// @Summary Update destination or increment the visit counter
// @Tags links
// @Accept json
// @Produce json
// @Param id path string true "Link ID"
// @Param request body UpdateLinkRequest true "Update request"
// @Success 200 {object} LinkResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/links/{id} [patch]
func (h *LinkHandler) UpdateLink(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}

	var req UpdateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errors.BadRequest(c, err)
		return
	}

	link, err := h.service.Update(c.Request.Context(), ownerID, c.Param("id"), &models.UpdateLinkInput{
		Destination:     req.Destination,
		IncrementVisits: req.IncrementVisits,
	})
	if err != nil {
		h.errors.Write(c, err)
		return
	}

	c.JSON(http.StatusOK, h.response(link))
}

// DeleteLink godoc
// @Summary Delete a short link
// @Tags links
// @Produce json
// @Param id path string true "Link ID"
// @Success 200 {object} map[string]bool
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/links/{id} [delete]
func (h *LinkHandler) DeleteLink(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), ownerID, c.Param("id")); err != nil {
		h.errors.Write(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// BulkDeleteLinks godoc
// @Summary Delete several own links
// @Description Ids that do not exist or belong to another owner are skipped
// @Tags links
// @Accept json
// @Produce json
// @Param request body BulkDeleteRequest true "Ids to delete"
// @Success 200 {object} map[string]int
// @Router /api/v1/links/bulk [delete]
func (h *LinkHandler) BulkDeleteLinks(c *gin.Context) {
	ownerID, ok := h.ownerID(c)
	if !ok {
		return
	}

	var req BulkDeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errors.BadRequest(c, err)
		return
	}

	deleted, err := h.service.BulkDelete(c.Request.Context(), ownerID, req.IDs)
	if err != nil {
		h.errors.Write(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// ownerID пишет 401, если принципал не установлен
func (h *LinkHandler) ownerID(c *gin.Context) (string, bool) {
	principal, ok := middleware.GetPrincipal(c)
	if !ok {
		h.errors.Write(c, errNoPrincipal)
		return "", false
	}
	return principal.OwnerID, true
}

func (h *LinkHandler) response(link *models.Link) LinkResponse {
	return LinkResponse{
		Link:     *link,
		ShortURL: h.baseURL + "/" + link.Code,
	}
}
