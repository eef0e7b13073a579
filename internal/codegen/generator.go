// Package codegen генерирует короткие коды ссылок.
package codegen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"regexp"
)

// Константы генератора
const (
	CodeLength = 8
	Alphabet   = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	// Количество случайных байт, интерпретируемых как big-endian число
	randomBytes = 6
)

// ErrEntropyUnavailable источник случайности недоступен
var ErrEntropyUnavailable = errors.New("entropy source unavailable")

var (
	codePattern = regexp.MustCompile(`^[A-Za-z0-9]{6,12}$`)
	base        = big.NewInt(int64(len(Alphabet)))
)

// Valid проверяет формат кода (6-12 латинских букв и цифр)
func Valid(code string) bool {
	return codePattern.MatchString(code)
}

// Generator выдаёт коды фиксированной длины
type Generator interface {
	Generate() (string, error)
}

// RandomGenerator генератор на криптостойком источнике
type RandomGenerator struct {
	source io.Reader
}

// New создаёт генератор на crypto/rand
func New() *RandomGenerator {
	return &RandomGenerator{source: rand.Reader}
}

// NewWithSource создаёт генератор с заданным источником случайности
func NewWithSource(source io.Reader) *RandomGenerator {
	return &RandomGenerator{source: source}
}

// Generate возвращает код из CodeLength символов алфавита base62.
// Случайные байты кодируются в base62; короткий результат добивается случайными
// символами справа, длинный обрезается до CodeLength.
func (g *RandomGenerator) Generate() (string, error) {
	buf := make([]byte, randomBytes)
	if _, err := io.ReadFull(g.source, buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}

	code := encode(new(big.Int).SetBytes(buf))

	if len(code) >= CodeLength {
		return code[:CodeLength], nil
	}

	padded := []byte(code)
	for len(padded) < CodeLength {
		n, err := rand.Int(g.source, base)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
		}
		padded = append(padded, Alphabet[n.Int64()])
	}

	return string(padded), nil
}

// encode переводит число в base62, старший разряд первым
func encode(n *big.Int) string {
	if n.Sign() == 0 {
		return Alphabet[:1]
	}

	var out []byte
	rem := new(big.Int)
	num := new(big.Int).Set(n)
	for num.Sign() > 0 {
		num.QuoRem(num, base, rem)
		out = append(out, Alphabet[rem.Int64()])
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
