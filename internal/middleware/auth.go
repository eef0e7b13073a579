package middleware

import (
	"net/http"
	"strings"

	"github.com/SergeiKhy/linkresolver/internal/auth"
	"github.com/gin-gonic/gin"
)

const (
	principalKey = "principal"

	// TokenCookie cookie сессии, которую выставляет провайдер идентификации
	TokenCookie = "auth_token"
)

// Auth middleware для аутентификации по JWT провайдера идентификации
type Auth struct {
	verifier *auth.Verifier
}

// NewAuth создаёт новый auth middleware
func NewAuth(verifier *auth.Verifier) *Auth {
	return &Auth{verifier: verifier}
}

// Middleware возвращает Gin middleware handler, требующий валидный токен
func (a *Auth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := a.verifier.Verify(tokenFromRequest(c))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Требуется авторизация",
			})
			c.Abort()
			return
		}

		// Принципал доступен и через gin.Context, и через context.Context запроса
		c.Set(principalKey, principal)
		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), principal))

		c.Next()
	}
}

// tokenFromRequest берёт токен из заголовка Authorization: Bearer, затем из cookie
func tokenFromRequest(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	}

	if token, err := c.Cookie(TokenCookie); err == nil {
		return token
	}

	return ""
}

// GetPrincipal извлекает принципала из контекста
func GetPrincipal(c *gin.Context) (*auth.Principal, bool) {
	value, exists := c.Get(principalKey)
	if !exists {
		return nil, false
	}
	principal, ok := value.(*auth.Principal)
	return principal, ok
}

// OwnerKey ключ для rate limiter: владелец из токена, иначе IP
func OwnerKey(c *gin.Context) string {
	if principal, ok := GetPrincipal(c); ok {
		return "owner:" + principal.OwnerID
	}
	return ""
}
