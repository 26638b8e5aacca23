// Package auth provides token issuance and verification, password hashing
// and the authentication middleware.
package auth

import (
	"context"

	"github.com/samplecove/samplecove/pkg/capabilities"
	"github.com/samplecove/samplecove/pkg/model"
	"github.com/samplecove/samplecove/pkg/storage"
)

// Identity is an authenticated user together with its group memberships and
// the effective capability set, resolved once per request.
type Identity struct {
	User   *model.User
	Groups []*model.Group

	caps map[capabilities.Capability]bool
}

// NewIdentity builds an Identity from a user and its groups, computing the
// capability union.
func NewIdentity(user *model.User, groups []*model.Group) *Identity {
	caps := make(map[capabilities.Capability]bool)
	for _, g := range groups {
		for _, c := range g.Capabilities {
			caps[c] = true
		}
	}
	return &Identity{User: user, Groups: groups, caps: caps}
}

// HasRights reports whether any of the identity's groups carries the
// capability.
func (i *Identity) HasRights(cap capabilities.Capability) bool {
	return i.caps[cap]
}

// Capabilities returns the effective capability set in registry order.
func (i *Identity) Capabilities() []capabilities.Capability {
	var out []capabilities.Capability
	for _, c := range capabilities.All() {
		if i.caps[c] {
			out = append(out, c)
		}
	}
	return out
}

// PrivateGroup returns the identity's single-member private group, or nil
// when missing.
func (i *Identity) PrivateGroup() *model.Group {
	for _, g := range i.Groups {
		if g.Private && g.Name == i.User.Login {
			return g
		}
	}
	return nil
}

// ResolveIdentity loads the user's groups and builds the Identity.
func ResolveIdentity(ctx context.Context, store storage.GroupStore, user *model.User) (*Identity, error) {
	groups, err := store.UserGroups(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return NewIdentity(user, groups), nil
}

// IdentityContextKey is the key used to store Identity in the request
// context. An empty struct key prevents collisions with other packages.
type IdentityContextKey struct{}

// WithIdentity stores an Identity in the context. If identity is nil, the
// original context is returned unchanged.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, IdentityContextKey{}, identity)
}

// IdentityFromContext retrieves an Identity from the context. Returns the
// identity and true if present, nil and false otherwise.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(IdentityContextKey{}).(*Identity)
	return identity, ok
}
