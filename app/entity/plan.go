package entity

import (
	"errors"
	"time"
)

var ErrNonPositiveCeiling = errors.New("tier ceilings must be positive")

type Tier struct {
	PlanID    uint64
	PlanName  string
	PerMinute int64
	PerHour   int64
	PerDay    int64
}

// Validate enforces positivity only; minute <= hour <= day is convention.
func (t Tier) Validate() error {
	if t.PerMinute <= 0 || t.PerHour <= 0 || t.PerDay <= 0 {
		return ErrNonPositiveCeiling
	}
	return nil
}

// Entitlement is the tier a principal currently holds through a subscription.
type Entitlement struct {
	SubscriptionID uint64
	UserID         uint64
	Tier           Tier
	PeriodStart    time.Time
	PeriodEnd      time.Time
}

func (e *Entitlement) ActiveAt(now time.Time) bool {
	return !now.Before(e.PeriodStart) && now.Before(e.PeriodEnd)
}
