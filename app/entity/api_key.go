package entity

import (
	"database/sql"
	"time"
)

// APIKey is the persisted form of an issued credential. The raw secret is
// never stored; KeyLookup is the non-secret fragment used as the index.
type APIKey struct {
	ID            uint64
	UserID        uint64
	Name          string
	KeyLookup     string
	KeyHash       string
	LastChars     string
	IsActive      bool
	RateLimitPlan sql.NullString
	CreatedAt     time.Time
	ExpiresAt     sql.NullTime
	RevokedAt     sql.NullTime
}

// Usable reports whether the key may authenticate at now. A revoked key is
// never usable, and neither is one past its expiry regardless of IsActive.
func (k *APIKey) Usable(now time.Time) bool {
	if !k.IsActive || k.RevokedAt.Valid {
		return false
	}
	if k.ExpiresAt.Valid && !now.Before(k.ExpiresAt.Time) {
		return false
	}
	return true
}
