// Package auth проверяет токены внешнего провайдера идентификации и переносит
// принципала через context.Context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Principal аутентифицированный владелец ссылок
type Principal struct {
	OwnerID string
	Plan    string // тариф из токена, может быть пустым
	Admin   bool
}

// Claims полезная нагрузка токена: subject - идентификатор владельца
type Claims struct {
	jwt.RegisteredClaims
	Plan  string `json:"plan,omitempty"`
	Admin bool   `json:"admin,omitempty"`
}

// Verifier проверяет HS256 токены
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify разбирает токен и возвращает принципала
func (v *Verifier) Verify(tokenString string) (*Principal, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}

	return &Principal{
		OwnerID: claims.Subject,
		Plan:    claims.Plan,
		Admin:   claims.Admin,
	}, nil
}

// Issue подписывает токен; используется в тестах и локальной разработке
func (v *Verifier) Issue(p Principal, ttl time.Duration) (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.OwnerID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Plan:  p.Plan,
		Admin: p.Admin,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

type principalKey struct{}

// WithPrincipal кладёт принципала в контекст
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext достаёт принципала из контекста
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
