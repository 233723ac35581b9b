package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/vibast-solutions/ms-go-stats-gateway/app/entity"
)

type SubscriptionRepository struct {
	db DBTX
}

func NewSubscriptionRepository(db DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// FindActiveEntitlement returns the active subscription whose period contains
// now, preferring the one that ends last. It returns nil when there is none.
func (r *SubscriptionRepository) FindActiveEntitlement(ctx context.Context, userID uint64, now time.Time) (*entity.Entitlement, error) {
	query := `
		SELECT s.id, s.user_id, p.id, p.plan_name, p.rate_limit_per_minute, p.rate_limit_per_hour, p.rate_limit_per_day,
		       s.current_period_start, s.current_period_end
		FROM user_subscriptions s
		JOIN subscription_plans p ON p.id = s.plan_id
		WHERE s.user_id = ? AND s.status = 'active' AND s.current_period_start <= ? AND s.current_period_end > ? AND p.is_active = 1
		ORDER BY s.current_period_end DESC
		LIMIT 1
	`
	ent := &entity.Entitlement{}
	err := r.db.QueryRowContext(ctx, query, userID, now, now).Scan(
		&ent.SubscriptionID,
		&ent.UserID,
		&ent.Tier.PlanID,
		&ent.Tier.PlanName,
		&ent.Tier.PerMinute,
		&ent.Tier.PerHour,
		&ent.Tier.PerDay,
		&ent.PeriodStart,
		&ent.PeriodEnd,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return ent, nil
}

// FindActivePlanByName resolves a tier override. It returns nil when the plan
// is unknown or inactive.
func (r *SubscriptionRepository) FindActivePlanByName(ctx context.Context, name string) (*entity.Tier, error) {
	query := `
		SELECT id, plan_name, rate_limit_per_minute, rate_limit_per_hour, rate_limit_per_day
		FROM subscription_plans
		WHERE plan_name = ? AND is_active = 1
	`
	tier := &entity.Tier{}
	err := r.db.QueryRowContext(ctx, query, name).Scan(
		&tier.PlanID,
		&tier.PlanName,
		&tier.PerMinute,
		&tier.PerHour,
		&tier.PerDay,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return tier, nil
}
