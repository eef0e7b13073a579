package handler

import (
	"net/http"
	"strings"

	"github.com/SergeiKhy/linkresolver/internal/apperr"
	"github.com/SergeiKhy/linkresolver/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RedirectHandler обслуживает GET /:code
type RedirectHandler struct {
	resolver    service.Resolver
	fallbackURL string
	status      int
	logger      *zap.Logger
}

func NewRedirectHandler(resolver service.Resolver, fallbackURL string, status int, logger *zap.Logger) *RedirectHandler {
	if fallbackURL == "" {
		fallbackURL = "/"
	}
	if status != http.StatusMovedPermanently {
		status = http.StatusFound
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedirectHandler{
		resolver:    resolver,
		fallbackURL: fallbackURL,
		status:      status,
		logger:      logger,
	}
}

// Redirect godoc
// @Summary Redirect to destination
// @Description Resolve a short code and redirect to its destination
// @Tags redirect
// @Param code path string true "Short code"
// @Success 302
// @Failure 404 {string} string "Link not found"
// @Router /{code} [get]
func (h *RedirectHandler) Redirect(c *gin.Context) {
	code := c.Param("code")

	resolution, err := h.resolver.Resolve(c.Request.Context(), code)
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindRejected:
			// Код неверного формата: отправляем на запасной адрес
			c.Redirect(http.StatusFound, h.fallbackURL)
		case apperr.KindNotFound:
			c.String(http.StatusNotFound, "Link not found")
		default:
			h.logger.Error("Failed to resolve code", zap.String("code", code), zap.Error(err))
			c.String(http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	c.Redirect(h.status, resolution.Destination)
}

// Fallback обслуживает пути, не совпавшие ни с одним маршрутом.
// GET вида /abc/def считается неверным кодом; API отвечает JSON 404.
func (h *RedirectHandler) Fallback(c *gin.Context) {
	method := c.Request.Method
	if (method == http.MethodGet || method == http.MethodHead) && !strings.HasPrefix(c.Request.URL.Path, "/api/") {
		c.Redirect(http.StatusFound, h.fallbackURL)
		return
	}

	c.JSON(http.StatusNotFound, ErrorResponse{
		Error:   "not_found",
		Message: "Route not found",
	})
}
