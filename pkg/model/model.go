// Package model defines the domain entities of the sample repository.
//
// Internal integer ids never appear in external interfaces; objects are
// addressed by their caller-supplied content digest (dhash) and users and
// groups by name.
package model

import (
	"time"

	"github.com/samplecove/samplecove/pkg/capabilities"
)

// ObjectType discriminates the polymorphic object hierarchy.
type ObjectType string

// Known object types.
const (
	TypeFile         ObjectType = "file"
	TypeStaticConfig ObjectType = "static_config"
	TypeBlob         ObjectType = "blob"
)

// ValidObjectType reports whether t names a concrete object type.
func ValidObjectType(t ObjectType) bool {
	switch t {
	case TypeFile, TypeStaticConfig, TypeBlob:
		return true
	}
	return false
}

// AccessType records the provenance of an ACL row's first grant.
type AccessType string

// ACL provenance reasons.
const (
	AccessAdded    AccessType = "added"
	AccessShared   AccessType = "shared"
	AccessQueried  AccessType = "queried"
	AccessMigrated AccessType = "migrated"
)

// PublicGroupName is the name of the singleton group containing every
// active user.
const PublicGroupName = "public"

// User is a registered account. Pending users cannot authenticate.
type User struct {
	ID           int64
	Login        string
	Email        string
	PasswordHash string

	// PasswordVer invalidates outstanding set-password and session tokens
	// when rotated; IdentityVer invalidates session tokens only.
	PasswordVer string
	IdentityVer string
	// VersionUID backs legacy tokens; transition-only, never refreshed.
	VersionUID string

	AdditionalInfo string
	Disabled       bool
	Pending        bool

	RequestedOn   time.Time
	RegisteredOn  time.Time
	RegisteredBy  int64
	LoggedOn      time.Time
	SetPasswordOn time.Time

	// FeedQuality load-balances the processing pipeline downstream.
	FeedQuality string
}

// Group carries capabilities and object grants for its members.
// The public group and per-user private groups are immutable.
type Group struct {
	ID           int64
	Name         string
	Capabilities []capabilities.Capability
	Private      bool
}

// Immutable reports whether the group can be edited through the ordinary
// management surface.
func (g *Group) Immutable() bool {
	return g.Private || g.Name == PublicGroupName
}

// Object is a typed artifact identified externally by its dhash.
type Object struct {
	ID         int64
	Type       ObjectType
	DHash      string
	UploadTime time.Time

	// Subtype attributes; only the set matching Type is populated.
	FileName string
	FileSize int64
	SHA256   string

	ConfigFamily string
	ConfigType   string
	Config       string // JSON document for static_config

	BlobName string
	BlobType string
	Content  string // text content for blob
}

// ObjectView is an object joined with the slice of the graph the requestor
// is allowed to see: parents invisible to the requestor are elided.
type ObjectView struct {
	Object
	Parents  []Object
	Children []Object
	Tags     []string
}

// ObjectPermission is an ACL row: members of Group may access Object.
// At most one row exists per (object, group) pair; once inserted it is
// immutable and its reason fields record the provenance of the first grant.
type ObjectPermission struct {
	ObjectID        int64
	GroupID         int64
	AccessTime      time.Time
	ReasonType      AccessType
	RelatedObjectID int64
	RelatedUserID   int64
}

// Comment is a free-text note attached to an object.
type Comment struct {
	ID        int64
	Comment   string
	Timestamp time.Time
	ObjectID  int64
	UserID    int64
	Author    string // login of the commenting user, filled on read
}

// Tag is an entry in the shared tag dictionary; objects reference tags
// through a many-to-many relation.
type Tag struct {
	ID  int64
	Tag string
}

// AttributeDefinition declares an attribute key before values may be set.
type AttributeDefinition struct {
	Key         string
	Label       string
	Description string
	URLTemplate string
	Hidden      bool
}

// AttributePermission grants a group read or set rights on an attribute key.
type AttributePermission struct {
	Key     string
	GroupID int64
	CanRead bool
	CanSet  bool
}

// Attribute is a key/value pair attached to an object.
type Attribute struct {
	ID       int64
	ObjectID int64
	Key      string
	Value    string
}

// APIKey authorizes long-lived non-interactive access; validity is tied to
// the row's existence, so deleting the row revokes outstanding tokens.
type APIKey struct {
	ID       string // UUID
	UserID   int64
	IssuedOn time.Time
	IssuedBy int64
}
