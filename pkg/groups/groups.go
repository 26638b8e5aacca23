// Package groups implements group administration: creation, capability
// assignment and membership.
package groups

import (
	"context"
	"errors"

	"github.com/samplecove/samplecove/pkg/auth"
	"github.com/samplecove/samplecove/pkg/capabilities"
	svcerr "github.com/samplecove/samplecove/pkg/errors"
	"github.com/samplecove/samplecove/pkg/model"
	"github.com/samplecove/samplecove/pkg/storage"
)

// Manager implements group administration on top of the store. Every
// operation is gated on manage_users; the public group and per-user
// private groups are immutable.
type Manager struct {
	store storage.Store
}

// NewManager builds a Manager.
func NewManager(store storage.Store) *Manager {
	return &Manager{store: store}
}

func requireAdmin(actor *auth.Identity) error {
	if !actor.HasRights(capabilities.ManageUsers) {
		return svcerr.NewForbiddenError("manage_users capability required", nil)
	}
	return nil
}

// Create registers a new group with the given capability set.
func (m *Manager) Create(
	ctx context.Context, actor *auth.Identity, name string, caps []capabilities.Capability,
) (*model.Group, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	for _, c := range caps {
		if !capabilities.Valid(c) {
			return nil, svcerr.NewSchemaInvalidError("unknown capability "+string(c), nil)
		}
	}

	group := &model.Group{Name: name, Capabilities: caps}
	if err := m.store.CreateGroup(ctx, group); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, svcerr.NewConflictError("group name already taken", nil)
		}
		return nil, svcerr.NewInternalError("creating group", err)
	}
	return group, nil
}

// Get returns a group with its member logins.
func (m *Manager) Get(ctx context.Context, actor *auth.Identity, name string) (*model.Group, []string, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, nil, err
	}
	group, err := m.getGroup(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	members, err := m.store.GroupMembers(ctx, name)
	if err != nil {
		return nil, nil, svcerr.NewInternalError("listing members", err)
	}
	return group, members, nil
}

// List returns all groups.
func (m *Manager) List(ctx context.Context, actor *auth.Identity) ([]*model.Group, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	groupList, err := m.store.ListGroups(ctx)
	if err != nil {
		return nil, svcerr.NewInternalError("listing groups", err)
	}
	return groupList, nil
}

// SetCapabilities replaces a group's capability set.
func (m *Manager) SetCapabilities(
	ctx context.Context, actor *auth.Identity, name string, caps []capabilities.Capability,
) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	for _, c := range caps {
		if !capabilities.Valid(c) {
			return svcerr.NewSchemaInvalidError("unknown capability "+string(c), nil)
		}
	}

	group, err := m.getGroup(ctx, name)
	if err != nil {
		return err
	}
	if group.Immutable() {
		return svcerr.NewForbiddenError("group is immutable", nil)
	}

	if err := m.store.UpdateGroupCapabilities(ctx, name, caps); err != nil {
		return svcerr.NewInternalError("updating capabilities", err)
	}
	return nil
}

// AddMember adds a user to a group.
func (m *Manager) AddMember(ctx context.Context, actor *auth.Identity, name, login string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	group, err := m.getGroup(ctx, name)
	if err != nil {
		return err
	}
	if group.Immutable() {
		return svcerr.NewForbiddenError("group membership is immutable", nil)
	}

	if err := m.store.AddMember(ctx, login, name); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return svcerr.NewNotFoundError("user not found", nil)
		}
		return svcerr.NewInternalError("adding member", err)
	}
	return nil
}

// RemoveMember removes a user from a group.
func (m *Manager) RemoveMember(ctx context.Context, actor *auth.Identity, name, login string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	group, err := m.getGroup(ctx, name)
	if err != nil {
		return err
	}
	if group.Immutable() {
		return svcerr.NewForbiddenError("group membership is immutable", nil)
	}

	if err := m.store.RemoveMember(ctx, login, name); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return svcerr.NewNotFoundError("membership not found", nil)
		}
		return svcerr.NewInternalError("removing member", err)
	}
	return nil
}

func (m *Manager) getGroup(ctx context.Context, name string) (*model.Group, error) {
	group, err := m.store.GetGroupByName(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, svcerr.NewNotFoundError("group not found", nil)
		}
		return nil, svcerr.NewInternalError("loading group", err)
	}
	return group, nil
}
