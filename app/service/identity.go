package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-stats-gateway/app/dto"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/entity"
)

var (
	ErrInvalidFormat     = errors.New("credential is malformed")
	ErrInvalidCredential = errors.New("credential is not recognised")
	ErrRevokedOrExpired  = errors.New("credential is revoked or expired")
	ErrNoEntitlement     = errors.New("principal has no usable entitlement")
)

// IsAuthError reports whether err is one of the resolution failures that map
// to an unauthenticated response. Anything else is an infrastructure error.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrInvalidFormat) ||
		errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrRevokedOrExpired) ||
		errors.Is(err, ErrNoEntitlement)
}

// AuthFailureReason is the internal label for a resolution failure. It is
// used in logs, metrics and usage records, never in responses.
func AuthFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidFormat):
		return "invalid_format"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, ErrRevokedOrExpired):
		return "revoked_or_expired"
	case errors.Is(err, ErrNoEntitlement):
		return "no_entitlement"
	default:
		return "internal"
	}
}

type APIKeyLookupRepository interface {
	FindByLookup(ctx context.Context, lookup string) (*entity.APIKey, error)
}

type EntitlementRepository interface {
	FindActiveEntitlement(ctx context.Context, userID uint64, now time.Time) (*entity.Entitlement, error)
	FindActivePlanByName(ctx context.Context, name string) (*entity.Tier, error)
}

// CredentialVerifier is implemented by *credential.Codec.
type CredentialVerifier interface {
	Parse(candidate string) (string, bool)
	Verify(candidate, storedHash string) bool
}

type IdentityResolver interface {
	Resolve(ctx context.Context, candidate string) (*dto.Identity, error)
}

type identityResolver struct {
	keys         APIKeyLookupRepository
	entitlements EntitlementRepository
	verifier     CredentialVerifier
	queryTimeout time.Duration
	now          func() time.Time
}

func NewIdentityResolver(keys APIKeyLookupRepository, entitlements EntitlementRepository, verifier CredentialVerifier, queryTimeout time.Duration) IdentityResolver {
	return &identityResolver{
		keys:         keys,
		entitlements: entitlements,
		verifier:     verifier,
		queryTimeout: queryTimeout,
		now:          time.Now,
	}
}

func (r *identityResolver) Resolve(ctx context.Context, candidate string) (*dto.Identity, error) {
	candidate = strings.TrimSpace(candidate)
	lookup, ok := r.verifier.Parse(candidate)
	if !ok {
		return nil, ErrInvalidFormat
	}

	key, err := r.findKey(ctx, lookup)
	if err != nil {
		return nil, err
	}
	if key == nil || !r.verifier.Verify(candidate, key.KeyHash) {
		return nil, ErrInvalidCredential
	}

	now := r.now()
	if !key.Usable(now) {
		return nil, ErrRevokedOrExpired
	}

	tier, periodEnd, err := r.resolveTier(ctx, key, now)
	if err != nil {
		return nil, err
	}

	validUntil := periodEnd
	if key.ExpiresAt.Valid && (validUntil.IsZero() || key.ExpiresAt.Time.Before(validUntil)) {
		validUntil = key.ExpiresAt.Time
	}

	return &dto.Identity{
		PrincipalID:  key.UserID,
		CredentialID: key.ID,
		Tier:         *tier,
		ValidUntil:   validUntil,
	}, nil
}

func (r *identityResolver) findKey(ctx context.Context, lookup string) (*entity.APIKey, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.keys.FindByLookup(ctx, lookup)
}

// resolveTier requires an active subscription. A per-key plan override, when
// it names an active plan, replaces the subscription's ceilings. The
// subscription's period end is returned alongside the tier.
func (r *identityResolver) resolveTier(ctx context.Context, key *entity.APIKey, now time.Time) (*entity.Tier, time.Time, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	ent, err := r.entitlements.FindActiveEntitlement(ctx, key.UserID, now)
	if err != nil {
		return nil, time.Time{}, err
	}
	if ent == nil || !ent.ActiveAt(now) {
		return nil, time.Time{}, ErrNoEntitlement
	}

	tier := ent.Tier
	if key.RateLimitPlan.Valid && key.RateLimitPlan.String != "" && key.RateLimitPlan.String != tier.PlanName {
		override, err := r.entitlements.FindActivePlanByName(ctx, key.RateLimitPlan.String)
		if err != nil {
			return nil, time.Time{}, err
		}
		if override != nil {
			tier = *override
		} else {
			logrus.WithFields(logrus.Fields{
				"api_key_id": key.ID,
				"plan":       key.RateLimitPlan.String,
			}).Warn("API key plan override is unknown or inactive, using subscription plan")
		}
	}

	if err := tier.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id": key.UserID,
			"plan":    tier.PlanName,
		}).Error("Plan has non-positive rate limit ceilings")
		return nil, time.Time{}, ErrNoEntitlement
	}

	return &tier, ent.PeriodEnd, nil
}

func (r *identityResolver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.queryTimeout)
}
