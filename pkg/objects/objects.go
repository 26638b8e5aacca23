// Package objects implements object upload, retrieval through the access
// façade, and the comment, tag and attribute operations.
package objects

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/samplecove/samplecove/pkg/auth"
	"github.com/samplecove/samplecove/pkg/blob"
	"github.com/samplecove/samplecove/pkg/capabilities"
	svcerr "github.com/samplecove/samplecove/pkg/errors"
	"github.com/samplecove/samplecove/pkg/model"
	"github.com/samplecove/samplecove/pkg/storage"
)

// Manager mediates every object operation behind visibility checks.
type Manager struct {
	store storage.Store
	blobs blob.Store
}

// NewManager builds a Manager.
func NewManager(store storage.Store, blobs blob.Store) *Manager {
	return &Manager{store: store, blobs: blobs}
}

// visible returns the requestor's visibility predicate.
func (m *Manager) visible(identity *auth.Identity) storage.Predicate {
	if identity.HasRights(capabilities.AccessAllObjects) {
		return m.store.VisibleAll()
	}
	return m.store.Visible(identity.User.ID)
}

// Access resolves a dhash for the requestor. Objects the requestor cannot
// see answer not_found, the same as absent ones, so dhash probing learns
// nothing. Requestors holding share_queried_objects get their qualifying
// groups auto-granted instead of a refusal.
func (m *Manager) Access(ctx context.Context, identity *auth.Identity, dhash string) (*model.ObjectView, error) {
	obj, err := m.store.GetObject(ctx, dhash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, svcerr.NewNotFoundError("object not found", nil)
		}
		return nil, svcerr.NewInternalError("loading object", err)
	}

	allowed := identity.HasRights(capabilities.AccessAllObjects)
	if !allowed {
		allowed, err = m.store.ExplicitAccess(ctx, identity.User.ID, obj.ID)
		if err != nil {
			return nil, svcerr.NewInternalError("checking access", err)
		}
	}

	if !allowed && identity.HasRights(capabilities.ShareQueriedObjects) {
		groups, err := m.store.UserGroupsWithCapability(
			ctx, identity.User.ID, capabilities.ShareQueriedObjects)
		if err != nil {
			return nil, svcerr.NewInternalError("resolving sharing groups", err)
		}
		for _, g := range groups {
			if _, err := m.store.Share(ctx, dhash, g.ID, model.AccessQueried, identity.User.ID); err != nil {
				return nil, svcerr.NewInternalError("sharing queried object", err)
			}
		}
		allowed = len(groups) > 0
	}

	if !allowed {
		return nil, svcerr.NewNotFoundError("object not found", nil)
	}

	view, err := m.store.GetView(ctx, dhash, m.visible(identity))
	if err != nil {
		return nil, svcerr.NewInternalError("building object view", err)
	}
	return view, nil
}

// UploadRequest describes an object to ingest. For files Content supplies
// the raw bytes; for configs and blobs the payload travels in the Object
// fields and the digest covers it.
type UploadRequest struct {
	Object      *model.Object
	Content     io.Reader
	ParentDHash string
	// ShareWith "public" additionally grants the public group.
	ShareWith string
}

// Upload ingests an object: digest computation, type-specific capability
// gate, optional parent link (adding_parents, and the parent must be
// visible to the uploader) and the initial grants for the uploader's
// private group, every access_all_objects group and optionally public.
func (m *Manager) Upload(ctx context.Context, identity *auth.Identity, req UploadRequest) (*model.Object, bool, error) {
	obj := req.Object

	switch obj.Type {
	case model.TypeFile:
		if req.Content == nil {
			return nil, false, svcerr.NewSchemaInvalidError("file upload needs content", nil)
		}
	case model.TypeStaticConfig:
		if !identity.HasRights(capabilities.AddingConfigs) {
			return nil, false, svcerr.NewForbiddenError("adding_configs capability required", nil)
		}
	case model.TypeBlob:
		if !identity.HasRights(capabilities.AddingBlobs) {
			return nil, false, svcerr.NewForbiddenError("adding_blobs capability required", nil)
		}
	default:
		return nil, false, svcerr.NewSchemaInvalidError(
			fmt.Sprintf("unknown object type %q", obj.Type), nil)
	}

	if obj.Type == model.TypeFile {
		digest, size, err := m.ingestFile(req.Content)
		if err != nil {
			return nil, false, err
		}
		obj.SHA256 = digest
		obj.DHash = digest
		obj.FileSize = size
	} else {
		obj.DHash = digestOf(payloadOf(obj))
	}

	if req.ParentDHash != "" {
		// Linking at upload time is the same privilege as AddRelation.
		if !identity.HasRights(capabilities.AddingParents) {
			return nil, false, svcerr.NewForbiddenError("adding_parents capability required", nil)
		}
		// The parent must already be visible to the uploader; Access also
		// covers the share_queried_objects auto-grant path.
		if _, err := m.Access(ctx, identity, req.ParentDHash); err != nil {
			return nil, false, err
		}
	}

	grants, err := m.initialGrants(ctx, identity, req.ShareWith)
	if err != nil {
		return nil, false, err
	}

	created, err := m.store.PutObject(ctx, obj, storage.PutOptions{
		ParentDHash:   req.ParentDHash,
		GrantGroupIDs: grants,
		UploaderID:    identity.User.ID,
	})
	if err != nil {
		return nil, false, svcerr.NewInternalError("storing object", err)
	}
	return obj, created, nil
}

// ingestFile streams the content into blob storage, returning its digest
// and size.
func (m *Manager) ingestFile(content io.Reader) (string, int64, error) {
	h := sha256.New()
	buf, err := io.ReadAll(io.TeeReader(content, h))
	if err != nil {
		return "", 0, svcerr.NewInternalError("reading upload", err)
	}
	digest := hex.EncodeToString(h.Sum(nil))
	if err := m.blobs.Put(digest, bytes.NewReader(buf)); err != nil {
		return "", 0, svcerr.NewInternalError("storing file content", err)
	}
	return digest, int64(len(buf)), nil
}

func payloadOf(obj *model.Object) string {
	if obj.Type == model.TypeStaticConfig {
		return obj.ConfigFamily + "\x00" + obj.Config
	}
	return obj.BlobName + "\x00" + obj.Content
}

func digestOf(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// initialGrants collects the group ids receiving ADDED rows on upload.
func (m *Manager) initialGrants(ctx context.Context, identity *auth.Identity, shareWith string) ([]int64, error) {
	var grants []int64

	if private := identity.PrivateGroup(); private != nil {
		grants = append(grants, private.ID)
	}

	allAccess, err := m.store.GroupsWithCapability(ctx, capabilities.AccessAllObjects)
	if err != nil {
		return nil, svcerr.NewInternalError("resolving access-all groups", err)
	}
	for _, g := range allAccess {
		grants = append(grants, g.ID)
	}

	if shareWith == model.PublicGroupName {
		public, err := m.store.GetGroupByName(ctx, model.PublicGroupName)
		if err != nil {
			return nil, svcerr.NewInternalError("resolving public group", err)
		}
		grants = append(grants, public.ID)
	}
	return grants, nil
}

// FileContent opens the stored content of a visible file object.
func (m *Manager) FileContent(ctx context.Context, identity *auth.Identity, dhash string) (io.ReadCloser, error) {
	view, err := m.Access(ctx, identity, dhash)
	if err != nil {
		return nil, err
	}
	if view.Type != model.TypeFile {
		return nil, svcerr.NewNotFoundError("object not found", nil)
	}
	rc, err := m.blobs.Get(view.SHA256)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, svcerr.NewNotFoundError("file content not found", nil)
		}
		return nil, svcerr.NewInternalError("opening file content", err)
	}
	return rc, nil
}

// List returns visible objects of the given type matching pred, newest
// first. The predicate is AND-composed with the requestor's visibility.
func (m *Manager) List(
	ctx context.Context, identity *auth.Identity,
	typ model.ObjectType, pred storage.Predicate, limit int,
) ([]*model.Object, error) {
	objs, err := m.store.ListObjects(ctx, typ, storage.And(pred, m.visible(identity)), limit)
	if err != nil {
		return nil, svcerr.NewInternalError("listing objects", err)
	}
	return objs, nil
}

// AddRelation links child under parent. Both ends must be visible and the
// requestor needs adding_parents; the parent's ACL rows replay down the
// child subtree.
func (m *Manager) AddRelation(ctx context.Context, identity *auth.Identity, parentDHash, childDHash string) error {
	if !identity.HasRights(capabilities.AddingParents) {
		return svcerr.NewForbiddenError("adding_parents capability required", nil)
	}
	if _, err := m.Access(ctx, identity, parentDHash); err != nil {
		return err
	}
	if _, err := m.Access(ctx, identity, childDHash); err != nil {
		return err
	}
	if _, err := m.store.AddParent(ctx, childDHash, parentDHash); err != nil {
		return svcerr.NewInternalError("adding relation", err)
	}
	return nil
}

// ShareWith grants a named group access to a visible object subtree.
func (m *Manager) ShareWith(ctx context.Context, identity *auth.Identity, dhash, groupName string) error {
	if _, err := m.Access(ctx, identity, dhash); err != nil {
		return err
	}
	group, err := m.store.GetGroupByName(ctx, groupName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return svcerr.NewNotFoundError("group not found", nil)
		}
		return svcerr.NewInternalError("loading group", err)
	}
	if _, err := m.store.Share(ctx, dhash, group.ID, model.AccessShared, identity.User.ID); err != nil {
		return svcerr.NewInternalError("sharing object", err)
	}
	return nil
}

// Shares lists the ACL rows of a visible object.
func (m *Manager) Shares(ctx context.Context, identity *auth.Identity, dhash string) ([]*model.ObjectPermission, error) {
	if _, err := m.Access(ctx, identity, dhash); err != nil {
		return nil, err
	}
	perms, err := m.store.ListShares(ctx, dhash)
	if err != nil {
		return nil, svcerr.NewInternalError("listing shares", err)
	}
	return perms, nil
}

// AddComment attaches a comment to a visible object.
func (m *Manager) AddComment(ctx context.Context, identity *auth.Identity, dhash, text string) (*model.Comment, error) {
	if !identity.HasRights(capabilities.AddingComments) {
		return nil, svcerr.NewForbiddenError("adding_comments capability required", nil)
	}
	if text == "" {
		return nil, svcerr.NewSchemaInvalidError("comment must not be empty", nil)
	}
	view, err := m.Access(ctx, identity, dhash)
	if err != nil {
		return nil, err
	}

	comment := &model.Comment{
		Comment:  text,
		ObjectID: view.ID,
		UserID:   identity.User.ID,
		Author:   identity.User.Login,
	}
	if err := m.store.AddComment(ctx, comment); err != nil {
		return nil, svcerr.NewInternalError("adding comment", err)
	}
	return comment, nil
}

// Comments lists a visible object's comments.
func (m *Manager) Comments(ctx context.Context, identity *auth.Identity, dhash string) ([]*model.Comment, error) {
	view, err := m.Access(ctx, identity, dhash)
	if err != nil {
		return nil, err
	}
	comments, err := m.store.ListComments(ctx, view.ID)
	if err != nil {
		return nil, svcerr.NewInternalError("listing comments", err)
	}
	return comments, nil
}

// DeleteComment removes a comment from a visible object.
func (m *Manager) DeleteComment(ctx context.Context, identity *auth.Identity, dhash string, commentID int64) error {
	if !identity.HasRights(capabilities.RemovingComments) {
		return svcerr.NewForbiddenError("removing_comments capability required", nil)
	}
	view, err := m.Access(ctx, identity, dhash)
	if err != nil {
		return err
	}
	if err := m.store.DeleteComment(ctx, view.ID, commentID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return svcerr.NewNotFoundError("comment not found", nil)
		}
		return svcerr.NewInternalError("deleting comment", err)
	}
	return nil
}

// AddTag tags a visible object.
func (m *Manager) AddTag(ctx context.Context, identity *auth.Identity, dhash, tag string) error {
	if !identity.HasRights(capabilities.AddingTags) {
		return svcerr.NewForbiddenError("adding_tags capability required", nil)
	}
	if tag == "" {
		return svcerr.NewSchemaInvalidError("tag must not be empty", nil)
	}
	view, err := m.Access(ctx, identity, dhash)
	if err != nil {
		return err
	}
	if _, err := m.store.AddTag(ctx, view.ID, tag); err != nil {
		return svcerr.NewInternalError("adding tag", err)
	}
	return nil
}

// RemoveTag untags a visible object.
func (m *Manager) RemoveTag(ctx context.Context, identity *auth.Identity, dhash, tag string) error {
	if !identity.HasRights(capabilities.RemovingTags) {
		return svcerr.NewForbiddenError("removing_tags capability required", nil)
	}
	view, err := m.Access(ctx, identity, dhash)
	if err != nil {
		return err
	}
	if _, err := m.store.RemoveTag(ctx, view.ID, tag); err != nil {
		return svcerr.NewInternalError("removing tag", err)
	}
	return nil
}

// Tags lists a visible object's tags.
func (m *Manager) Tags(ctx context.Context, identity *auth.Identity, dhash string) ([]string, error) {
	view, err := m.Access(ctx, identity, dhash)
	if err != nil {
		return nil, err
	}
	tags, err := m.store.ListTags(ctx, view.ID)
	if err != nil {
		return nil, svcerr.NewInternalError("listing tags", err)
	}
	return tags, nil
}

// AddAttribute attaches a key/value pair to a visible object. The key must
// be defined; the requestor needs per-key set rights unless they hold
// adding_all_attributes.
func (m *Manager) AddAttribute(ctx context.Context, identity *auth.Identity, dhash, key, value string) error {
	view, err := m.Access(ctx, identity, dhash)
	if err != nil {
		return err
	}

	if !identity.HasRights(capabilities.AddingAllAttributes) {
		ok, err := m.store.CanSetAttribute(ctx, identity.User.ID, key)
		if err != nil {
			return svcerr.NewInternalError("checking attribute rights", err)
		}
		if !ok {
			return svcerr.NewForbiddenError("no set rights for attribute key", nil)
		}
	}

	if _, err := m.store.AddAttribute(ctx, view.ID, key, value); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return svcerr.NewNotFoundError("attribute key not defined", nil)
		}
		return svcerr.NewInternalError("adding attribute", err)
	}
	return nil
}

// Attributes lists a visible object's attributes. Keys outside the
// requestor's per-group read rights are elided unless the requestor holds
// reading_all_attributes; hidden keys additionally need showHidden.
func (m *Manager) Attributes(
	ctx context.Context, identity *auth.Identity, dhash string, showHidden bool,
) ([]*model.Attribute, error) {
	view, err := m.Access(ctx, identity, dhash)
	if err != nil {
		return nil, err
	}

	bypassACL := identity.HasRights(capabilities.ReadingAllAttributes)
	if showHidden && !bypassACL {
		return nil, svcerr.NewForbiddenError("reading_all_attributes capability required", nil)
	}

	attrs, err := m.store.ListAttributes(ctx, view.ID, identity.User.ID, bypassACL, showHidden)
	if err != nil {
		return nil, svcerr.NewInternalError("listing attributes", err)
	}
	return attrs, nil
}

// RemoveAttribute detaches all values of a key from a visible object.
func (m *Manager) RemoveAttribute(ctx context.Context, identity *auth.Identity, dhash, key string) error {
	if !identity.HasRights(capabilities.RemovingAttributes) {
		return svcerr.NewForbiddenError("removing_attributes capability required", nil)
	}
	view, err := m.Access(ctx, identity, dhash)
	if err != nil {
		return err
	}
	if err := m.store.RemoveAttribute(ctx, view.ID, key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return svcerr.NewNotFoundError("attribute not found", nil)
		}
		return svcerr.NewInternalError("removing attribute", err)
	}
	return nil
}
