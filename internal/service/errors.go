package service

import "github.com/SergeiKhy/linkresolver/internal/apperr"

// Ошибки сервиса. Сравниваются через errors.Is по виду и коду.
var (
	ErrRejected           = apperr.New(apperr.KindRejected, "invalid_code", "Short code has an invalid format")
	ErrNotFound           = apperr.New(apperr.KindNotFound, "not_found", "Link not found")
	ErrForbidden          = apperr.New(apperr.KindForbidden, "forbidden", "Link belongs to another owner")
	ErrInvalidURL         = apperr.New(apperr.KindInvalidInput, "invalid_url", "Destination must be an absolute http(s) URL")
	ErrInvalidAlias       = apperr.New(apperr.KindInvalidInput, "invalid_alias", "Alias must be 6-12 letters or digits")
	ErrEmptyUpdate        = apperr.New(apperr.KindInvalidInput, "empty_update", "Nothing to update")
	ErrTooManyIDs         = apperr.New(apperr.KindInvalidInput, "too_many_ids", "Too many ids in one request")
	ErrAliasTaken         = apperr.New(apperr.KindConflict, "alias_taken", "Alias is not available")
	ErrQuotaExceeded      = apperr.New(apperr.KindQuotaExceeded, "quota_exceeded", "Link limit of the current plan reached")
	ErrCodeSpaceExhausted = apperr.New(apperr.KindResourceExhausted, "code_generation_failed", "Failed to generate a unique short code")
)

func unavailable(code string, err error) error {
	return apperr.Wrap(apperr.KindUnavailable, code, "Service temporarily unavailable", err)
}
