package auth

import (
	"context"
	"strings"
)

// Resolver computes a user's effective permission set and answers
// wildcard-aware authorization checks.
type Resolver struct {
	users UserStore
	perms PermissionStore
}

// NewResolver constructs a resolver over the identity store.
func NewResolver(store Store) *Resolver {
	return &Resolver{users: store.Users(), perms: store.Permissions()}
}

// EffectivePermissions returns the deduplicated union of every permission
// reachable through the user's roles.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string) ([]Permission, error) {
	if _, err := r.users.Find(ctx, userID); err != nil {
		return nil, err
	}
	list, err := r.perms.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(list))
	out := make([]Permission, 0, len(list))
	for _, p := range list {
		key := p.Action + "\x00" + p.Resource
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

// HasPermission reports whether any held permission matches the query.
func (r *Resolver) HasPermission(ctx context.Context, userID, action, resource string) (bool, error) {
	held, err := r.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range held {
		if Matches(p.Action, p.Resource, action, resource) {
			return true, nil
		}
	}
	return false, nil
}

// HasAnyPermission checks a list of "action:resource" pairs and succeeds on
// the first match.
func (r *Resolver) HasAnyPermission(ctx context.Context, userID string, pairs []string) (bool, error) {
	for _, pair := range pairs {
		action, resource, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		allowed, err := r.HasPermission(ctx, userID, action, resource)
		if err != nil {
			return false, err
		}
		if allowed {
			return true, nil
		}
	}
	return false, nil
}

// Matches evaluates a held permission against a query. The rules are
// ordered; the first hit wins:
//
//  1. exact action and resource
//  2. universal wildcard (*, *)
//  3. resource-scoped wildcard (*, resource)
//  4. action-scoped wildcard (action, *)
//  5. stored action containing "*" treated as a prefix marker, against an
//     exact or wildcard resource
//
// Rule 5 reproduces the substring-prefix behavior of the original matcher
// verbatim. Its semantics are questionable and it must not be extended.
func Matches(permAction, permResource, action, resource string) bool {
	if permAction == action && permResource == resource {
		return true
	}
	if permAction == "*" && permResource == "*" {
		return true
	}
	if permAction == "*" && permResource == resource {
		return true
	}
	if permAction == action && permResource == "*" {
		return true
	}
	if strings.Contains(permAction, "*") {
		stem := strings.ReplaceAll(permAction, "*", "")
		n := len(permAction) - 1
		if len(action) < n {
			n = len(action)
		}
		if stem == action[:n] && (permResource == resource || permResource == "*") {
			return true
		}
	}
	return false
}
