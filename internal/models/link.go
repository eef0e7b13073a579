package models

import (
	"time"
)

type Link struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	Code        string    `json:"code"`
	Alias       *string   `json:"alias,omitempty"`
	Destination string    `json:"destination"`
	VisitCount  int64     `json:"visit_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type CreateLinkInput struct {
	OwnerID     string
	Destination string
	Alias       *string
}

type UpdateLinkInput struct {
	Destination     *string
	IncrementVisits bool
}

// Resolution результат успешного разрешения кода
type Resolution struct {
	LinkID      string
	Code        string
	Destination string
}

// QuotaStatus состояние квоты владельца
type QuotaStatus struct {
	Plan        string `json:"plan"`
	Limit       *int   `json:"limit"`
	Unlimited   bool   `json:"unlimited"`
	Count       int    `json:"count"`
	IsOverLimit bool   `json:"is_over_limit"`
}
