package handler

import (
	"strings"

	"github.com/SergeiKhy/linkresolver/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// Фиксированные пути верхнего уровня, они перекрывают /:code
const (
	healthPath  = "/healthz"
	readyPath   = "/readyz"
	metricsPath = "/metrics"
)

// ReservedCodes коды, которые нельзя выдавать как алиасы
func ReservedCodes() []string {
	paths := []string{healthPath, readyPath, metricsPath}
	codes := make([]string, 0, len(paths))
	for _, path := range paths {
		codes = append(codes, strings.TrimPrefix(path, "/"))
	}
	return codes
}

// RouterDeps зависимости HTTP слоя
type RouterDeps struct {
	Redirects   *RedirectHandler
	Links       *LinkHandler
	Health      *HealthHandler
	Auth        *middleware.Auth
	RateLimiter *middleware.RateLimiter
	Logger      *zap.Logger
	ServiceName string
}

func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.ServiceName == "" {
		deps.ServiceName = "linkresolver"
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(deps.ServiceName))
	router.Use(middleware.Logger(deps.Logger))
	router.Use(middleware.Metrics())

	router.GET(healthPath, deps.Health.Health)
	router.GET(readyPath, deps.Health.Ready)
	router.GET(metricsPath, gin.WrapH(promhttp.Handler()))

	// API v.1: владелец определяется токеном
	v1 := router.Group("/api/v1")
	v1.Use(deps.Auth.Middleware())
	if deps.RateLimiter != nil {
		v1.Use(deps.RateLimiter.MiddlewareWithKey(middleware.OwnerKey))
	}
	{
		v1.POST("/links", deps.Links.CreateLink)
		v1.GET("/links", deps.Links.ListLinks)
		v1.GET("/links/status", deps.Links.QuotaStatus)
		v1.DELETE("/links/bulk", deps.Links.BulkDeleteLinks)
		v1.PATCH("/links/:id", deps.Links.UpdateLink)
		v1.DELETE("/links/:id", deps.Links.DeleteLink)
	}

	// Редирект (корневой путь) без аутентификации, лимит по IP
	redirect := router.Group("/")
	if deps.RateLimiter != nil {
		redirect.Use(deps.RateLimiter.Middleware())
	}
	redirect.GET("/:code", deps.Redirects.Redirect)

	// Многосегментные пути тоже считаются неверным кодом
	if deps.RateLimiter != nil {
		router.NoRoute(deps.RateLimiter.Middleware(), deps.Redirects.Fallback)
	} else {
		router.NoRoute(deps.Redirects.Fallback)
	}

	return router
}
