// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package authz answers "may this user do that" from the role catalog.

The catalog (roles, their parent links, permissions and user role grants) is
owned by operators and read-only to the application. Roles form a forest: a
role inherits every permission of its ancestors, so admin, whose parent is
moderator, can do whatever a moderator and a member can.

A user's roles are the role on the account row plus any extra grants in
identity.userrole.
*/
package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/taibuivan/agora/pkg/tree"
)

// Role is one catalog row. ParentID is empty for roots.
type Role struct {
	ID       string
	ParentID string
}

// Grant attaches a permission to a role.
type Grant struct {
	RoleID       string
	PermissionID string
}

// Store reads the catalog.
type Store interface {
	Roles(ctx context.Context) ([]Role, error)
	Grants(ctx context.Context) ([]Grant, error)
	// UserRoles returns the extra roles granted to userID.
	UserRoles(ctx context.Context, userID string) ([]string, error)
}

// snapshot is an immutable view of the catalog.
type snapshot struct {
	forest   *tree.Forest[map[string]struct{}]
	loadedAt time.Time
}

// DefaultTTL is how long a loaded catalog and per-user grants are trusted.
const DefaultTTL = 5 * time.Minute

// Catalog caches the role forest and per-user grants.
type Catalog struct {
	store     Store
	ttl       time.Duration
	userRoles *gocache.Cache
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	current *snapshot
}

// NewCatalog creates a catalog that reloads the role forest after ttl.
func NewCatalog(store Store, ttl time.Duration, logger *slog.Logger) *Catalog {
	return &Catalog{
		store:     store,
		ttl:       ttl,
		userRoles: gocache.New(ttl, 2*ttl),
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (catalog *Catalog) WithClock(now func() time.Time) *Catalog {
	catalog.now = now
	return catalog
}

// Load reads the catalog and replaces the cached forest.
//
// A parent link that would close a loop is rejected and the previous snapshot is kept.
func (catalog *Catalog) Load(ctx context.Context) error {
	roles, err := catalog.store.Roles(ctx)
	if err != nil {
		return fmt.Errorf("authz_load_roles_failed: %w", err)
	}
	grants, err := catalog.store.Grants(ctx)
	if err != nil {
		return fmt.Errorf("authz_load_grants_failed: %w", err)
	}

	forest := tree.New[map[string]struct{}]()
	for _, role := range roles {
		forest.Add(role.ID, map[string]struct{}{})
	}
	for _, role := range roles {
		if err := forest.SetParent(role.ID, role.ParentID); err != nil {
			return fmt.Errorf("authz_load_hierarchy_failed: %w", err)
		}
	}
	for _, grant := range grants {
		permissions, ok := forest.Get(grant.RoleID)
		if !ok {
			continue
		}
		permissions[grant.PermissionID] = struct{}{}
	}

	catalog.mu.Lock()
	catalog.current = &snapshot{forest: forest, loadedAt: catalog.now()}
	catalog.mu.Unlock()

	catalog.userRoles.Flush()
	catalog.logger.Info("authz_catalog_loaded", slog.Int("roles", len(roles)), slog.Int("grants", len(grants)))
	return nil
}

func (catalog *Catalog) snapshot(ctx context.Context) (*snapshot, error) {
	catalog.mu.RLock()
	current := catalog.current
	catalog.mu.RUnlock()

	if current != nil && catalog.now().Sub(current.loadedAt) < catalog.ttl {
		return current, nil
	}

	if err := catalog.Load(ctx); err != nil {
		if current != nil {
			catalog.logger.Warn("authz_catalog_reload_failed", slog.Any("error", err))
			return current, nil
		}
		return nil, err
	}

	catalog.mu.RLock()
	defer catalog.mu.RUnlock()
	return catalog.current, nil
}

// RolesOf returns primary followed by the extra roles granted to userID.
func (catalog *Catalog) RolesOf(ctx context.Context, userID, primary string) ([]string, error) {
	var extra []string
	if cached, ok := catalog.userRoles.Get(userID); ok {
		extra = cached.([]string)
	} else {
		loaded, err := catalog.store.UserRoles(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("authz_user_roles_failed: %w", err)
		}
		catalog.userRoles.SetDefault(userID, loaded)
		extra = loaded
	}

	roles := make([]string, 0, len(extra)+1)
	if primary != "" {
		roles = append(roles, primary)
	}
	for _, role := range extra {
		if role != primary {
			roles = append(roles, role)
		}
	}
	return roles, nil
}

// Permissions returns every permission role holds, inherited ones included.
func (catalog *Catalog) Permissions(ctx context.Context, role string) ([]string, error) {
	current, err := catalog.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	seen := map[string]struct{}{}
	var out []string
	for _, ancestor := range current.forest.Ancestors(role) {
		permissions, _ := current.forest.Get(ancestor)
		for permission := range permissions {
			if _, ok := seen[permission]; !ok {
				seen[permission] = struct{}{}
				out = append(out, permission)
			}
		}
	}
	return out, nil
}

// HasPermission reports whether any role of the user carries permission.
func (catalog *Catalog) HasPermission(ctx context.Context, userID, primary, permission string) (bool, error) {
	current, err := catalog.snapshot(ctx)
	if err != nil {
		return false, err
	}

	roles, err := catalog.RolesOf(ctx, userID, primary)
	if err != nil {
		return false, err
	}

	for _, role := range roles {
		for _, ancestor := range current.forest.Ancestors(role) {
			permissions, _ := current.forest.Get(ancestor)
			if _, ok := permissions[permission]; ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// IsCycle reports whether err was caused by a looping role hierarchy.
func IsCycle(err error) bool {
	return errors.Is(err, tree.ErrCycle)
}
