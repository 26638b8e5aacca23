package objects

import (
	"context"
	"errors"

	"github.com/samplecove/samplecove/pkg/auth"
	"github.com/samplecove/samplecove/pkg/capabilities"
	svcerr "github.com/samplecove/samplecove/pkg/errors"
	"github.com/samplecove/samplecove/pkg/model"
	"github.com/samplecove/samplecove/pkg/storage"
)

// DefineAttribute declares an attribute key. Administration only.
func (m *Manager) DefineAttribute(ctx context.Context, actor *auth.Identity, def *model.AttributeDefinition) error {
	if !actor.HasRights(capabilities.ManageUsers) {
		return svcerr.NewForbiddenError("manage_users capability required", nil)
	}
	if def.Key == "" {
		return svcerr.NewSchemaInvalidError("attribute key must not be empty", nil)
	}
	if err := m.store.DefineAttribute(ctx, def); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return svcerr.NewConflictError("attribute key already defined", nil)
		}
		return svcerr.NewInternalError("defining attribute", err)
	}
	return nil
}

// AttributeDefinition returns a declared attribute key. Hidden definitions
// are visible only to reading_all_attributes holders.
func (m *Manager) AttributeDefinition(ctx context.Context, actor *auth.Identity, key string) (*model.AttributeDefinition, error) {
	def, err := m.store.GetAttributeDefinition(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, svcerr.NewNotFoundError("attribute key not defined", nil)
		}
		return nil, svcerr.NewInternalError("loading attribute definition", err)
	}
	if def.Hidden && !actor.HasRights(capabilities.ReadingAllAttributes) {
		return nil, svcerr.NewNotFoundError("attribute key not defined", nil)
	}
	return def, nil
}

// SetAttributePermission grants a group read/set rights on an attribute
// key. Administration only.
func (m *Manager) SetAttributePermission(
	ctx context.Context, actor *auth.Identity, key, groupName string, canRead, canSet bool,
) error {
	if !actor.HasRights(capabilities.ManageUsers) {
		return svcerr.NewForbiddenError("manage_users capability required", nil)
	}
	if _, err := m.store.GetAttributeDefinition(ctx, key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return svcerr.NewNotFoundError("attribute key not defined", nil)
		}
		return svcerr.NewInternalError("loading attribute definition", err)
	}
	group, err := m.store.GetGroupByName(ctx, groupName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return svcerr.NewNotFoundError("group not found", nil)
		}
		return svcerr.NewInternalError("loading group", err)
	}

	err = m.store.SetAttributePermission(ctx, &model.AttributePermission{
		Key:     key,
		GroupID: group.ID,
		CanRead: canRead,
		CanSet:  canSet,
	})
	if err != nil {
		return svcerr.NewInternalError("setting attribute permission", err)
	}
	return nil
}
