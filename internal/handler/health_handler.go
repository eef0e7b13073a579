package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/SergeiKhy/linkresolver/internal/service"
	"github.com/gin-gonic/gin"
)

// Pinger проверяемая зависимость (PostgreSQL, Redis)
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	visits       service.VisitRecorder
	dependencies map[string]Pinger
}

func NewHealthHandler(visits service.VisitRecorder, dependencies map[string]Pinger) *HealthHandler {
	return &HealthHandler{visits: visits, dependencies: dependencies}
}

// Health godoc
// @Summary Liveness probe
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /healthz [get]
func (h *HealthHandler) Health(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"service": "linkresolver",
	}
	if h.visits != nil {
		resp["visits"] = h.visits.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

// Ready godoc
// @Summary Readiness probe
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /readyz [get]
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.dependencies))
	for name, dep := range h.dependencies {
		if err := dep.Ping(ctx); err != nil {
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	c.JSON(status, checks)
}
