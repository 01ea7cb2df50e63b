package types

import (
	"time"
)

// Account is one end-user, keyed by the identity provider's external id.
// Rows are created on first resolution and never mutated afterwards.
type Account struct {
	ID         int64     `json:"id" db:"id"`
	ExternalID string    `json:"external_id" db:"external_id"`
	Email      string    `json:"email" db:"email"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Principal identifies the account an entitlement decision is made for.
// ExternalID is what the plan provider knows; AccountID is the local key.
type Principal struct {
	AccountID  int64
	ExternalID string
}

// Site is one generated portfolio.
type Site struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Slug      string    `json:"slug" db:"slug"`
	Title     string    `json:"title" db:"title"`
	Content   string    `json:"content,omitempty" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SiteSummary is the list view of a Site, without the HTML body.
type SiteSummary struct {
	ID        int64     `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UsageCounter is the stored AI-usage count for one account within the
// current period.
type UsageCounter struct {
	ID          int64     `json:"id" db:"id"`
	UserID      int64     `json:"user_id" db:"user_id"`
	ExternalID  string    `json:"external_id" db:"external_id"`
	Count       int       `json:"count" db:"count"`
	PeriodStart time.Time `json:"period_start" db:"period_start"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// AccountInfo is what the identity provider reports about a principal.
type AccountInfo struct {
	ExternalID    string
	Email         string
	EmailVerified bool
}

// PlanStatus is the user-facing tier label.
type PlanStatus string

const (
	PlanStatusPro  PlanStatus = "pro"
	PlanStatusFree PlanStatus = "free"
)
