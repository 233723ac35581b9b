package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-stats-gateway/app/dto"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/entity"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/metrics"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/quota"
)

type Outcome int

const (
	OutcomeAllow Outcome = iota
	OutcomeQuotaExceeded
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllow:
		return "allow"
	case OutcomeQuotaExceeded:
		return "quota_exceeded"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// WindowUsage is the state of one window after a decision. Count and
// Remaining are zero when the store could not be reached.
type WindowUsage struct {
	Window    string
	Limit     int64
	Count     int64
	Remaining int64
	ResetAt   time.Time
}

type Decision struct {
	Outcome  Outcome
	Degraded bool

	// Set when Outcome is OutcomeQuotaExceeded.
	Window     string
	Limit      int64
	Count      int64
	RetryAfter int64

	Usage []WindowUsage
}

func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllow
}

type QuotaCounter interface {
	IncrementAndGet(ctx context.Context, key quota.Key, ttl time.Duration) (int64, error)
	Peek(ctx context.Context, key quota.Key) (int64, error)
}

type RateLimiter interface {
	CheckAndAdmit(ctx context.Context, identity *dto.Identity, now time.Time) Decision
	Status(ctx context.Context, identity *dto.Identity, now time.Time) ([]WindowUsage, error)
}

type rateLimiter struct {
	store    QuotaCounter
	failOpen bool
}

func NewRateLimiter(store QuotaCounter, failOpen bool) RateLimiter {
	return &rateLimiter{store: store, failOpen: failOpen}
}

func ceilingFor(tier entity.Tier, w quota.Window) int64 {
	switch w.Name {
	case quota.Minute.Name:
		return tier.PerMinute
	case quota.Hour.Name:
		return tier.PerHour
	default:
		return tier.PerDay
	}
}

// CheckAndAdmit increments every window before comparing any of them, so a
// denied request still consumes one unit in each window. When more than one
// window is exceeded the shortest is reported.
func (l *rateLimiter) CheckAndAdmit(ctx context.Context, identity *dto.Identity, now time.Time) Decision {
	usage := make([]WindowUsage, 0, len(quota.Windows))

	for _, w := range quota.Windows {
		limit := ceilingFor(identity.Tier, w)
		count, err := l.store.IncrementAndGet(ctx, quota.NewKey(identity.PrincipalID, w, now), w.Length)
		if err != nil {
			if ctx.Err() != nil {
				return l.abandoned(identity, err)
			}
			return l.unavailable(identity, now, err)
		}

		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		usage = append(usage, WindowUsage{
			Window:    w.Name,
			Limit:     limit,
			Count:     count,
			Remaining: remaining,
			ResetAt:   w.ResetAt(now),
		})
	}

	for i, w := range quota.Windows {
		u := usage[i]
		if u.Count > u.Limit {
			metrics.RateLimitDecisionsTotal.WithLabelValues(OutcomeQuotaExceeded.String(), w.Name).Inc()
			return Decision{
				Outcome:    OutcomeQuotaExceeded,
				Window:     w.Name,
				Limit:      u.Limit,
				Count:      u.Count,
				RetryAfter: w.RetryAfter(now),
				Usage:      usage,
			}
		}
	}

	metrics.RateLimitDecisionsTotal.WithLabelValues(OutcomeAllow.String(), "").Inc()
	return Decision{Outcome: OutcomeAllow, Usage: usage}
}

// unavailable applies the configured failure policy. No further increments
// are issued once the store has failed.
func (l *rateLimiter) unavailable(identity *dto.Identity, now time.Time, err error) Decision {
	logrus.WithError(err).WithFields(logrus.Fields{
		"user_id":   identity.PrincipalID,
		"fail_open": l.failOpen,
	}).Error("Quota store unavailable")

	if !l.failOpen {
		metrics.RateLimitDecisionsTotal.WithLabelValues(OutcomeUnavailable.String(), "").Inc()
		return Decision{Outcome: OutcomeUnavailable}
	}

	usage := make([]WindowUsage, 0, len(quota.Windows))
	for _, w := range quota.Windows {
		usage = append(usage, WindowUsage{
			Window:  w.Name,
			Limit:   ceilingFor(identity.Tier, w),
			ResetAt: w.ResetAt(now),
		})
	}
	metrics.RateLimitDecisionsTotal.WithLabelValues(OutcomeAllow.String(), "degraded").Inc()
	return Decision{Outcome: OutcomeAllow, Degraded: true, Usage: usage}
}

// abandoned answers a caller that went away mid-admission. The store is not
// at fault, so neither failure policy applies.
func (l *rateLimiter) abandoned(identity *dto.Identity, err error) Decision {
	logrus.WithError(err).WithField("user_id", identity.PrincipalID).Debug("Admission abandoned by caller")
	return Decision{Outcome: OutcomeUnavailable}
}

// Status reads the current counters without consuming quota.
func (l *rateLimiter) Status(ctx context.Context, identity *dto.Identity, now time.Time) ([]WindowUsage, error) {
	usage := make([]WindowUsage, 0, len(quota.Windows))
	for _, w := range quota.Windows {
		limit := ceilingFor(identity.Tier, w)
		count, err := l.store.Peek(ctx, quota.NewKey(identity.PrincipalID, w, now))
		if err != nil {
			return nil, err
		}
		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		usage = append(usage, WindowUsage{
			Window:    w.Name,
			Limit:     limit,
			Count:     count,
			Remaining: remaining,
			ResetAt:   w.ResetAt(now),
		})
	}
	return usage, nil
}
