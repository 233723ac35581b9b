package dto

import (
	"time"

	"github.com/vibast-solutions/ms-go-stats-gateway/app/entity"
)

// Identity is the outcome of a successful credential resolution.
type Identity struct {
	PrincipalID  uint64
	CredentialID uint64
	Tier         entity.Tier
	// ValidUntil is the earlier of the key's expiry and the subscription's
	// period end. Zero means unbounded.
	ValidUntil time.Time
}

func (i *Identity) PlanName() string {
	return i.Tier.PlanName
}

type IssueAPIKeyResult struct {
	Key    *entity.APIKey
	Secret string
}
