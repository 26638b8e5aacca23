// Package storage provides domain-specific storage interfaces for samplecove.
package storage

import (
	"context"

	"github.com/samplecove/samplecove/pkg/capabilities"
	"github.com/samplecove/samplecove/pkg/model"
)

// UserStore defines the interface for managing user persistence.
type UserStore interface {
	// CreateUser stores a new user together with its private group and the
	// public-group membership, atomically. Returns ErrAlreadyExists when the
	// login clashes with an existing user login or group name.
	CreateUser(ctx context.Context, user *model.User) error
	// GetUserByLogin retrieves a user by login.
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	// ListUsers returns users, optionally filtered by pending state.
	ListUsers(ctx context.Context, pending *bool) ([]*model.User, error)
	// UpdateUser persists mutable user fields (email, info, feed quality,
	// flags, timestamps, password hash and version counters).
	UpdateUser(ctx context.Context, user *model.User) error
	// DeleteUser removes a user and its private group (rejection path).
	DeleteUser(ctx context.Context, login string) error
}

// GroupStore defines the interface for managing groups and membership.
type GroupStore interface {
	// CreateGroup stores a new group. Returns ErrAlreadyExists when the name
	// clashes with an existing group name or user login.
	CreateGroup(ctx context.Context, group *model.Group) error
	// GetGroupByName retrieves a group by name.
	GetGroupByName(ctx context.Context, name string) (*model.Group, error)
	// ListGroups returns all groups.
	ListGroups(ctx context.Context) ([]*model.Group, error)
	// UpdateGroupCapabilities replaces the capability set of a group.
	UpdateGroupCapabilities(ctx context.Context, name string, caps []capabilities.Capability) error
	// AddMember adds a user to a group.
	AddMember(ctx context.Context, login, groupName string) error
	// RemoveMember removes a user from a group.
	RemoveMember(ctx context.Context, login, groupName string) error
	// GroupMembers returns the logins of a group's members.
	GroupMembers(ctx context.Context, groupName string) ([]string, error)
	// UserGroups returns every group the user belongs to.
	UserGroups(ctx context.Context, userID int64) ([]*model.Group, error)
	// UserGroupsWithCapability returns the user's groups carrying the capability.
	UserGroupsWithCapability(ctx context.Context, userID int64, cap capabilities.Capability) ([]*model.Group, error)
	// GroupsWithCapability returns every group carrying the capability.
	GroupsWithCapability(ctx context.Context, cap capabilities.Capability) ([]*model.Group, error)
}

// APIKeyStore defines the interface for managing API keys.
type APIKeyStore interface {
	// CreateAPIKey stores a new API key.
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	// GetAPIKey retrieves an API key by id.
	GetAPIKey(ctx context.Context, id string) (*model.APIKey, error)
	// ListAPIKeys returns all API keys issued to a user.
	ListAPIKeys(ctx context.Context, userID int64) ([]*model.APIKey, error)
	// DeleteAPIKey revokes an API key. Outstanding tokens bound to the key
	// fail verification once the row is gone.
	DeleteAPIKey(ctx context.Context, id string) error
}

// PutOptions configures object insertion.
type PutOptions struct {
	// ParentDHash links the new object under an existing parent; the parent's
	// ACL rows are replayed down the child subtree.
	ParentDHash string
	// GrantGroupIDs receive ADDED rows propagated from the object.
	GrantGroupIDs []int64
	// UploaderID is recorded as grant provenance (related_user).
	UploaderID int64
}

// ObjectStore defines the interface for the object graph, its auxiliary
// entities and the permission engine.
type ObjectStore interface {
	// PutObject inserts an object idempotently (get_or_create on dhash),
	// optionally linking a parent and propagating initial grants, in one
	// transaction. Reports whether this call created the object.
	PutObject(ctx context.Context, obj *model.Object, opts PutOptions) (bool, error)
	// GetObject retrieves an object by dhash without access checks.
	GetObject(ctx context.Context, dhash string) (*model.Object, error)
	// GetView retrieves an object joined with its parents and children
	// filtered through the visibility predicate.
	GetView(ctx context.Context, dhash string, visible Predicate) (*model.ObjectView, error)
	// ListObjects returns objects of the given type (empty for all) matching
	// the predicate, most recent first.
	ListObjects(ctx context.Context, typ model.ObjectType, pred Predicate, limit int) ([]*model.Object, error)
	// AddParent inserts a parent/child edge and replays every ACL row of the
	// parent down the child subtree. Reports whether the edge was new.
	AddParent(ctx context.Context, childDHash, parentDHash string) (bool, error)

	// Share grants a group access to the object subtree with recursive
	// propagation. Reports whether the root row was created by this call.
	Share(ctx context.Context, dhash string, groupID int64, reason model.AccessType, relatedUserID int64) (bool, error)
	// ListShares returns the ACL rows of an object.
	ListShares(ctx context.Context, dhash string) ([]*model.ObjectPermission, error)
	// ExplicitAccess reports whether an ACL row exists for any group the
	// user is a member of.
	ExplicitAccess(ctx context.Context, userID, objectID int64) (bool, error)
	// Visible returns the predicate restricting objects to those accessible
	// by the user through group membership.
	Visible(userID int64) Predicate
	// VisibleAll returns the always-true predicate used for
	// access_all_objects holders.
	VisibleAll() Predicate
	// UploadedBy returns the predicate matching objects whose initial grant
	// provenance names the user as uploader of the object itself.
	UploadedBy(userID int64) Predicate

	// AddComment attaches a comment to an object.
	AddComment(ctx context.Context, comment *model.Comment) error
	// ListComments returns an object's comments with author logins.
	ListComments(ctx context.Context, objectID int64) ([]*model.Comment, error)
	// DeleteComment removes a comment from an object. Returns ErrNotFound
	// when no such comment is attached.
	DeleteComment(ctx context.Context, objectID, commentID int64) error

	// AddTag tags an object, creating the dictionary entry when needed.
	// Reports whether the object gained the tag.
	AddTag(ctx context.Context, objectID int64, tag string) (bool, error)
	// RemoveTag untags an object. Reports whether the tag was present.
	RemoveTag(ctx context.Context, objectID int64, tag string) (bool, error)
	// ListTags returns an object's tags.
	ListTags(ctx context.Context, objectID int64) ([]string, error)

	// DefineAttribute declares an attribute key.
	DefineAttribute(ctx context.Context, def *model.AttributeDefinition) error
	// GetAttributeDefinition retrieves an attribute definition.
	GetAttributeDefinition(ctx context.Context, key string) (*model.AttributeDefinition, error)
	// SetAttributePermission grants a group read/set rights on a key.
	SetAttributePermission(ctx context.Context, perm *model.AttributePermission) error
	// CanSetAttribute reports whether the user may set the key through a
	// group holding can_set.
	CanSetAttribute(ctx context.Context, userID int64, key string) (bool, error)
	// AddAttribute attaches a key/value pair to an object idempotently.
	// Reports whether the pair was new.
	AddAttribute(ctx context.Context, objectID int64, key, value string) (bool, error)
	// ListAttributes returns an object's attributes. Unless bypassACL, only
	// keys readable by one of the user's groups are returned; hidden
	// definitions are elided unless showHidden.
	ListAttributes(ctx context.Context, objectID, userID int64, bypassACL, showHidden bool) ([]*model.Attribute, error)
	// RemoveAttribute detaches all values of a key from an object.
	RemoveAttribute(ctx context.Context, objectID int64, key string) error
}

// Store aggregates every store interface backed by a single database.
type Store interface {
	UserStore
	GroupStore
	APIKeyStore
	ObjectStore

	// Close releases the underlying database.
	Close() error
}
