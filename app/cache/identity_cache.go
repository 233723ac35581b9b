// Package cache keeps recently resolved identities in memory so that a hot
// credential does not pay for a store round-trip and an Argon2id verification
// on every request.
package cache

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vibast-solutions/ms-go-stats-gateway/app/dto"
	"github.com/vibast-solutions/ms-go-stats-gateway/app/metrics"
)

// flightTimeout bounds a shared resolution once detached from its callers.
const flightTimeout = 10 * time.Second

type Resolver interface {
	Resolve(ctx context.Context, candidate string) (*dto.Identity, error)
}

// Parser extracts the lookup fragment from a candidate credential.
type Parser interface {
	Parse(candidate string) (string, bool)
}

type cachedIdentity struct {
	identity  dto.Identity
	digest    [sha256.Size]byte
	expiresAt time.Time
}

// IdentityCache wraps a Resolver. Entries are keyed by lookup fragment and
// only served when the presented credential hashes to the stored digest.
type IdentityCache struct {
	next   Resolver
	parser Parser
	ttl    time.Duration
	now    func() time.Time

	mu         sync.RWMutex
	entries    map[string]*cachedIdentity
	generation uint64

	group         singleflight.Group
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

func NewIdentityCache(next Resolver, parser Parser, ttl time.Duration) *IdentityCache {
	c := &IdentityCache{
		next:        next,
		parser:      parser,
		ttl:         ttl,
		now:         time.Now,
		entries:     make(map[string]*cachedIdentity),
		stopCleanup: make(chan struct{}),
	}

	interval := ttl
	if interval < time.Second {
		interval = time.Second
	}
	c.cleanupTicker = time.NewTicker(interval)
	go c.cleanupExpired()

	return c
}

func (c *IdentityCache) Resolve(ctx context.Context, candidate string) (*dto.Identity, error) {
	candidate = strings.TrimSpace(candidate)
	lookup, ok := c.parser.Parse(candidate)
	if !ok {
		return c.next.Resolve(ctx, candidate)
	}

	digest := sha256.Sum256([]byte(candidate))
	if identity, ok := c.get(lookup, digest); ok {
		metrics.IdentityCacheLookupsTotal.WithLabelValues("hit").Inc()
		return identity, nil
	}
	metrics.IdentityCacheLookupsTotal.WithLabelValues("miss").Inc()

	// Concurrent misses share one resolution only when they present the same
	// credential.
	flightKey := lookup + ":" + hex.EncodeToString(digest[:])
	ch := c.group.DoChan(flightKey, func() (interface{}, error) {
		c.mu.RLock()
		generation := c.generation
		c.mu.RUnlock()

		// The flight outlives any single waiter.
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()

		identity, err := c.next.Resolve(flightCtx, candidate)
		if err != nil {
			return nil, err
		}
		c.put(lookup, digest, identity, generation)
		return identity, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}

	identity := *res.Val.(*dto.Identity)
	return &identity, nil
}

func (c *IdentityCache) get(lookup string, digest [sha256.Size]byte) (*dto.Identity, bool) {
	c.mu.RLock()
	entry, exists := c.entries[lookup]
	c.mu.RUnlock()

	if !exists || !c.now().Before(entry.expiresAt) {
		return nil, false
	}
	if subtle.ConstantTimeCompare(entry.digest[:], digest[:]) != 1 {
		return nil, false
	}

	identity := entry.identity
	return &identity, true
}

// put caps the entry at the identity's own validity. It skips the write when
// an invalidation happened after the resolution started, so a revoked
// credential is never re-cached by a stale lookup.
func (c *IdentityCache) put(lookup string, digest [sha256.Size]byte, identity *dto.Identity, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != generation {
		return
	}
	expiresAt := c.now().Add(c.ttl)
	if !identity.ValidUntil.IsZero() && identity.ValidUntil.Before(expiresAt) {
		expiresAt = identity.ValidUntil
	}
	c.entries[lookup] = &cachedIdentity{
		identity:  *identity,
		digest:    digest,
		expiresAt: expiresAt,
	}
}

// Invalidate evicts the entry for lookup on this instance only.
func (c *IdentityCache) Invalidate(lookup string) {
	c.mu.Lock()
	c.generation++
	_, existed := c.entries[lookup]
	delete(c.entries, lookup)
	c.mu.Unlock()

	if existed {
		metrics.IdentityCacheInvalidationsTotal.Inc()
	}
}

func (c *IdentityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *IdentityCache) Stop() {
	c.stopOnce.Do(func() {
		c.cleanupTicker.Stop()
		close(c.stopCleanup)
	})
}

func (c *IdentityCache) cleanupExpired() {
	for {
		select {
		case <-c.cleanupTicker.C:
			now := c.now()
			c.mu.Lock()
			for lookup, entry := range c.entries {
				if !now.Before(entry.expiresAt) {
					delete(c.entries, lookup)
				}
			}
			c.mu.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}
