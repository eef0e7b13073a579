package handler

import (
	"net/http"

	"github.com/SergeiKhy/linkresolver/internal/apperr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// ErrorWriter переводит ошибки приложения в HTTP ответы
type ErrorWriter struct {
	production          bool
	concealForeignLinks bool
	logger              *zap.Logger
}

func NewErrorWriter(production, concealForeignLinks bool, logger *zap.Logger) *ErrorWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorWriter{
		production:          production,
		concealForeignLinks: concealForeignLinks,
		logger:              logger,
	}
}

// Write пишет JSON ответ с кодом статуса по виду ошибки
func (w *ErrorWriter) Write(c *gin.Context, err error) {
	appErr := apperr.From(err)
	status := statusFor(appErr.Kind)

	resp := ErrorResponse{
		Error:   appErr.Code,
		Message: appErr.Message,
	}

	// Чужая ссылка неотличима от несуществующей
	if appErr.Kind == apperr.KindForbidden && w.concealForeignLinks {
		status = http.StatusNotFound
		resp.Error = "not_found"
		resp.Message = "Link not found"
	}

	if !w.production && appErr.Err != nil {
		resp.Detail = appErr.Err.Error()
	}

	if status >= http.StatusInternalServerError {
		w.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("kind", appErr.Kind.String()),
			zap.Error(err),
		)
	}

	c.JSON(status, resp)
}

// BadRequest ответ на невалидное тело запроса
func (w *ErrorWriter) BadRequest(c *gin.Context, err error) {
	resp := ErrorResponse{
		Error:   "invalid_input",
		Message: "Invalid request body",
	}
	if !w.production {
		resp.Detail = err.Error()
	}
	c.JSON(http.StatusBadRequest, resp)
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidInput, apperr.KindRejected:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden, apperr.KindQuotaExceeded:
		return http.StatusForbidden
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
