package permission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"merchantops/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type cacheKey struct {
	tenantID uuid.UUID
	actorID  uuid.UUID
}

// cacheEntry stores the permission set of one membership with TTL
type cacheEntry struct {
	member    bool
	codes     map[string]struct{}
	expiresAt time.Time
}

// RoleGate resolves capabilities through tenant membership -> role -> permissions,
// caching each membership's permission set for ttl.
type RoleGate struct {
	roles repository.RoleRepository
	ttl   time.Duration
	cache sync.Map // cacheKey -> cacheEntry
	now   func() time.Time
}

func NewRoleGate(roles repository.RoleRepository, ttl time.Duration) *RoleGate {
	return &RoleGate{roles: roles, ttl: ttl, now: time.Now}
}

func (g *RoleGate) HasPermission(ctx context.Context, actorID, tenantID uuid.UUID, capability string) (bool, error) {
	entry, err := g.load(ctx, actorID, tenantID)
	if err != nil {
		return false, err
	}
	_, ok := entry.codes[capability]
	return ok, nil
}

func (g *RoleGate) IsMember(ctx context.Context, actorID, tenantID uuid.UUID) (bool, error) {
	entry, err := g.load(ctx, actorID, tenantID)
	if err != nil {
		return false, err
	}
	return entry.member, nil
}

// Invalidate drops the cached entry for one membership, or everything when tenantID is nil.
func (g *RoleGate) Invalidate(tenantID, actorID uuid.UUID) {
	if tenantID == uuid.Nil {
		g.cache.Range(func(key, _ interface{}) bool {
			g.cache.Delete(key)
			return true
		})
		return
	}
	g.cache.Delete(cacheKey{tenantID: tenantID, actorID: actorID})
}

func (g *RoleGate) load(ctx context.Context, actorID, tenantID uuid.UUID) (cacheEntry, error) {
	key := cacheKey{tenantID: tenantID, actorID: actorID}
	if v, ok := g.cache.Load(key); ok {
		cached := v.(cacheEntry)
		if g.now().Before(cached.expiresAt) {
			return cached, nil
		}
	}

	entry := cacheEntry{codes: map[string]struct{}{}, expiresAt: g.now().Add(g.ttl)}
	codes, err := g.roles.GetPermissionCodes(ctx, tenantID, actorID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		// not a member: empty set, cached like any other answer
	case err != nil:
		return cacheEntry{}, fmt.Errorf("load permissions: %w", err)
	default:
		entry.member = true
		for _, c := range codes {
			entry.codes[c] = struct{}{}
		}
	}

	g.cache.Store(key, entry)
	return entry, nil
}
