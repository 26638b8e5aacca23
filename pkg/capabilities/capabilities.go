// Package capabilities enumerates the fixed set of capability tags understood
// by the authorization layer. Capabilities are held by groups; a user's
// effective capability set is the union over their groups.
package capabilities

// Capability is a tag granting authorization for a class of operations.
type Capability string

const (
	// ManageUsers allows managing users, groups and pending registrations.
	ManageUsers Capability = "manage_users"

	// ShareQueriedObjects auto-shares successfully queried objects with the
	// holder's qualifying groups.
	ShareQueriedObjects Capability = "share_queried_objects"

	// AccessAllObjects grants unconditional visibility of every object.
	AccessAllObjects Capability = "access_all_objects"

	// AddingParents allows asserting parent/child relations between objects.
	AddingParents Capability = "adding_parents"

	// AddingTags allows tagging objects.
	AddingTags Capability = "adding_tags"

	// RemovingTags allows removing tags from objects.
	RemovingTags Capability = "removing_tags"

	// AddingComments allows commenting on objects.
	AddingComments Capability = "adding_comments"

	// RemovingComments allows deleting comments.
	RemovingComments Capability = "removing_comments"

	// AddingAllAttributes bypasses the per-attribute set ACL.
	AddingAllAttributes Capability = "adding_all_attributes"

	// ReadingAllAttributes bypasses the per-attribute read ACL.
	ReadingAllAttributes Capability = "reading_all_attributes"

	// RemovingAttributes allows removing attributes from objects.
	RemovingAttributes Capability = "removing_attributes"

	// AddingConfigs allows uploading static configurations.
	AddingConfigs Capability = "adding_configs"

	// AddingBlobs allows uploading text blobs.
	AddingBlobs Capability = "adding_blobs"

	// UnlimitedRequests exempts the holder from request rate limits.
	UnlimitedRequests Capability = "unlimited_requests"
)

// All returns every capability tag in the registry.
func All() []Capability {
	return []Capability{
		ManageUsers,
		ShareQueriedObjects,
		AccessAllObjects,
		AddingParents,
		AddingTags,
		RemovingTags,
		AddingComments,
		RemovingComments,
		AddingAllAttributes,
		ReadingAllAttributes,
		RemovingAttributes,
		AddingConfigs,
		AddingBlobs,
		UnlimitedRequests,
	}
}

// Valid reports whether cap is a registered capability tag.
func Valid(c Capability) bool {
	for _, known := range All() {
		if c == known {
			return true
		}
	}
	return false
}
