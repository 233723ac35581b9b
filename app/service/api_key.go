package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-stats-gateway/app/credential"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/dto"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/entity"
)

const (
	mysqlDuplicateEntry = 1062
	issueAttempts       = 3
	minRotationGrace    = 5 * time.Minute
)

var (
	ErrAPIKeyNotFound       = errors.New("api key not found")
	ErrAPIKeyAlreadyRevoked = errors.New("api key already revoked")
	ErrUnknownPlan          = errors.New("unknown or inactive plan")
	ErrInvalidExpiry        = errors.New("expiry must be in the future")
	ErrInvalidRotationGrace = errors.New("rotation grace period is too short")
	ErrInvalidationFailed   = errors.New("api key revoked but cache invalidation failed")
)

type APIKeyRepository interface {
	Create(ctx context.Context, key *entity.APIKey) error
	FindByID(ctx context.Context, id uint64) (*entity.APIKey, error)
	ListByUser(ctx context.Context, userID uint64) ([]*entity.APIKey, error)
	Revoke(ctx context.Context, id uint64, now time.Time) (bool, error)
	SetExpiry(ctx context.Context, id uint64, expiresAt time.Time) error
}

type PlanRepository interface {
	FindActivePlanByName(ctx context.Context, name string) (*entity.Tier, error)
}

// KeyIssuer is implemented by *credential.Codec.
type KeyIssuer interface {
	Issue() (string, credential.IssuedFields, error)
}

// Invalidator evicts a revoked credential from every serving instance.
type Invalidator interface {
	Invalidate(ctx context.Context, lookup string) error
}

type IssueAPIKeyInput struct {
	UserID    uint64
	Name      string
	Plan      string
	ExpiresIn time.Duration
}

type APIKeyService interface {
	Issue(ctx context.Context, in IssueAPIKeyInput) (*dto.IssueAPIKeyResult, error)
	Revoke(ctx context.Context, id uint64) error
	Rotate(ctx context.Context, id uint64, grace time.Duration) (*dto.IssueAPIKeyResult, error)
	List(ctx context.Context, userID uint64) ([]*entity.APIKey, error)
}

type apiKeyService struct {
	keys        APIKeyRepository
	plans       PlanRepository
	issuer      KeyIssuer
	invalidator Invalidator
	now         func() time.Time
}

// NewAPIKeyService builds the issuance service. invalidator may be nil when
// no identity cache is deployed.
func NewAPIKeyService(keys APIKeyRepository, plans PlanRepository, issuer KeyIssuer, invalidator Invalidator) APIKeyService {
	return &apiKeyService{
		keys:        keys,
		plans:       plans,
		issuer:      issuer,
		invalidator: invalidator,
		now:         time.Now,
	}
}

func (s *apiKeyService) Issue(ctx context.Context, in IssueAPIKeyInput) (*dto.IssueAPIKeyResult, error) {
	if in.UserID == 0 {
		return nil, errors.New("user id is required")
	}
	if in.ExpiresIn < 0 {
		return nil, ErrInvalidExpiry
	}

	plan := strings.TrimSpace(in.Plan)
	if plan != "" {
		tier, err := s.plans.FindActivePlanByName(ctx, plan)
		if err != nil {
			return nil, err
		}
		if tier == nil {
			return nil, ErrUnknownPlan
		}
	}

	now := s.now()
	key := &entity.APIKey{
		UserID:    in.UserID,
		Name:      strings.TrimSpace(in.Name),
		IsActive:  true,
		CreatedAt: now,
	}
	if plan != "" {
		key.RateLimitPlan = sql.NullString{String: plan, Valid: true}
	}
	if in.ExpiresIn > 0 {
		key.ExpiresAt = sql.NullTime{Time: now.Add(in.ExpiresIn), Valid: true}
	}

	secret, err := s.create(ctx, key)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"api_key_id": key.ID,
		"user_id":    key.UserID,
		"last_chars": key.LastChars,
	}).Info("API key issued")

	return &dto.IssueAPIKeyResult{Key: key, Secret: secret}, nil
}

// create retries on a lookup collision against the unique index.
func (s *apiKeyService) create(ctx context.Context, key *entity.APIKey) (string, error) {
	var lastErr error
	for attempt := 0; attempt < issueAttempts; attempt++ {
		secret, fields, err := s.issuer.Issue()
		if err != nil {
			return "", err
		}
		key.KeyLookup = fields.LookupID
		key.KeyHash = fields.KeyHash
		key.LastChars = fields.LastChars

		err = s.keys.Create(ctx, key)
		if err == nil {
			return secret, nil
		}
		if !isDuplicateEntry(err) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("failed to allocate a unique key lookup: %w", lastErr)
}

func (s *apiKeyService) Revoke(ctx context.Context, id uint64) error {
	key, err := s.keys.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if key == nil {
		return ErrAPIKeyNotFound
	}

	revoked, err := s.keys.Revoke(ctx, id, s.now())
	if err != nil {
		return err
	}
	if !revoked {
		return ErrAPIKeyAlreadyRevoked
	}

	logrus.WithFields(logrus.Fields{
		"api_key_id": key.ID,
		"user_id":    key.UserID,
	}).Info("API key revoked")

	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx, key.KeyLookup); err != nil {
			logrus.WithError(err).WithField("api_key_id", key.ID).Error("Failed to publish API key invalidation")
			return fmt.Errorf("%w: %v", ErrInvalidationFailed, err)
		}
	}
	return nil
}

// Rotate issues a replacement with the same name, owner and plan, and lets
// the old key keep working for grace.
func (s *apiKeyService) Rotate(ctx context.Context, id uint64, grace time.Duration) (*dto.IssueAPIKeyResult, error) {
	if grace < minRotationGrace {
		return nil, ErrInvalidRotationGrace
	}

	old, err := s.keys.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if old == nil {
		return nil, ErrAPIKeyNotFound
	}
	now := s.now()
	if !old.Usable(now) {
		return nil, ErrAPIKeyAlreadyRevoked
	}

	replacement := &entity.APIKey{
		UserID:        old.UserID,
		Name:          old.Name,
		IsActive:      true,
		RateLimitPlan: old.RateLimitPlan,
		CreatedAt:     now,
		ExpiresAt:     old.ExpiresAt,
	}
	secret, err := s.create(ctx, replacement)
	if err != nil {
		return nil, err
	}

	expireOldAt := now.Add(grace)
	if !old.ExpiresAt.Valid || old.ExpiresAt.Time.After(expireOldAt) {
		if err := s.keys.SetExpiry(ctx, old.ID, expireOldAt); err != nil {
			return nil, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"api_key_id":     replacement.ID,
		"replaced_id":    old.ID,
		"user_id":        old.UserID,
		"old_expires_at": expireOldAt,
	}).Info("API key rotated")

	return &dto.IssueAPIKeyResult{Key: replacement, Secret: secret}, nil
}

func (s *apiKeyService) List(ctx context.Context, userID uint64) ([]*entity.APIKey, error) {
	return s.keys.ListByUser(ctx, userID)
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
