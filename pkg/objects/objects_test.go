package objects

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samplecove/samplecove/pkg/auth"
	"github.com/samplecove/samplecove/pkg/blob"
	"github.com/samplecove/samplecove/pkg/capabilities"
	svcerr "github.com/samplecove/samplecove/pkg/errors"
	"github.com/samplecove/samplecove/pkg/model"
	"github.com/samplecove/samplecove/pkg/storage/sqlite"
)

type fixture struct {
	store   *sqlite.Store
	manager *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	s, err := sqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	require.NoError(t, s.CreateGroup(ctx, &model.Group{Name: model.PublicGroupName}))

	blobs, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	return &fixture{store: s, manager: NewManager(s, blobs)}
}

// newIdentity creates a user whose private group carries caps.
func (f *fixture) newIdentity(t *testing.T, login string, caps ...capabilities.Capability) *auth.Identity {
	t.Helper()
	ctx := context.Background()

	user := &model.User{Login: login, Email: login + "@example.com", FeedQuality: "high"}
	require.NoError(t, f.store.CreateUser(ctx, user))
	if len(caps) > 0 {
		require.NoError(t, f.store.UpdateGroupCapabilities(ctx, login, caps))
	}

	identity, err := auth.ResolveIdentity(ctx, f.store, user)
	require.NoError(t, err)
	return identity
}

func (f *fixture) uploadFile(t *testing.T, identity *auth.Identity, name, content string) *model.Object {
	t.Helper()
	obj, _, err := f.manager.Upload(context.Background(), identity, UploadRequest{
		Object:  &model.Object{Type: model.TypeFile, FileName: name},
		Content: strings.NewReader(content),
	})
	require.NoError(t, err)
	return obj
}

func TestUploadFile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newIdentity(t, "alice")
	content := "MZ\x90\x00sample body"
	wantDigest := sha256.Sum256([]byte(content))

	obj, created, err := f.manager.Upload(ctx, alice, UploadRequest{
		Object:  &model.Object{Type: model.TypeFile, FileName: "dropper.exe"},
		Content: strings.NewReader(content),
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, hex.EncodeToString(wantDigest[:]), obj.DHash)
	assert.Equal(t, obj.DHash, obj.SHA256)
	assert.Equal(t, int64(len(content)), obj.FileSize)

	// The uploader sees their own object and can fetch the content back.
	view, err := f.manager.Access(ctx, alice, obj.DHash)
	require.NoError(t, err)
	assert.Equal(t, "dropper.exe", view.FileName)

	rc, err := f.manager.FileContent(ctx, alice, obj.DHash)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))

	// Re-upload resolves the existing object.
	_, created, err = f.manager.Upload(ctx, alice, UploadRequest{
		Object:  &model.Object{Type: model.TypeFile, FileName: "same-bytes.exe"},
		Content: bytes.NewReader([]byte(content)),
	})
	require.NoError(t, err)
	assert.False(t, created)
}

func TestUploadCapabilityGates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	plain := f.newIdentity(t, "plain")
	analyst := f.newIdentity(t, "analyst",
		capabilities.AddingConfigs, capabilities.AddingBlobs)

	config := &model.Object{
		Type: model.TypeStaticConfig, ConfigFamily: "emotet", ConfigType: "static",
		Config: `{"c2":["10.0.0.1"]}`,
	}
	_, _, err := f.manager.Upload(ctx, plain, UploadRequest{Object: config})
	assert.True(t, svcerr.IsForbidden(err))
	_, created, err := f.manager.Upload(ctx, analyst, UploadRequest{Object: config})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, config.DHash)

	blobObj := &model.Object{
		Type: model.TypeBlob, BlobName: "peers.txt", BlobType: "dyn_cfg", Content: "peer list",
	}
	_, _, err = f.manager.Upload(ctx, plain, UploadRequest{Object: blobObj})
	assert.True(t, svcerr.IsForbidden(err))
	_, _, err = f.manager.Upload(ctx, analyst, UploadRequest{Object: blobObj})
	require.NoError(t, err)

	// Files need content, and the type must be known.
	_, _, err = f.manager.Upload(ctx, plain, UploadRequest{
		Object: &model.Object{Type: model.TypeFile},
	})
	assert.True(t, svcerr.IsSchemaInvalid(err))
	_, _, err = f.manager.Upload(ctx, plain, UploadRequest{
		Object: &model.Object{Type: "apk"}, Content: strings.NewReader("x"),
	})
	assert.True(t, svcerr.IsSchemaInvalid(err))
}

func TestAccessDeniedLooksLikeMissing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newIdentity(t, "alice")
	bob := f.newIdentity(t, "bob")
	obj := f.uploadFile(t, alice, "secret.exe", "secret bytes")

	_, missingErr := f.manager.Access(ctx, bob, "0000000000000000")
	_, deniedErr := f.manager.Access(ctx, bob, obj.DHash)

	require.True(t, svcerr.IsNotFound(missingErr))
	require.True(t, svcerr.IsNotFound(deniedErr))
	// A denied dhash answers exactly like an absent one.
	assert.Equal(t, missingErr.Error(), deniedErr.Error())
}

func TestUploadShareWithPublic(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newIdentity(t, "alice")
	bob := f.newIdentity(t, "bob")

	obj, _, err := f.manager.Upload(ctx, alice, UploadRequest{
		Object:    &model.Object{Type: model.TypeFile, FileName: "shared.exe"},
		Content:   strings.NewReader("shared bytes"),
		ShareWith: "public",
	})
	require.NoError(t, err)

	_, err = f.manager.Access(ctx, bob, obj.DHash)
	assert.NoError(t, err)
}

func TestAccessAllObjects(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newIdentity(t, "alice")
	feed := f.newIdentity(t, "feed", capabilities.AccessAllObjects)

	obj := f.uploadFile(t, alice, "private.exe", "private bytes")

	_, err := f.manager.Access(ctx, feed, obj.DHash)
	assert.NoError(t, err)
}

func TestQueriedAutoGrant(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newIdentity(t, "alice")
	hunter := f.newIdentity(t, "hunter", capabilities.ShareQueriedObjects)
	obj := f.uploadFile(t, alice, "hunted.exe", "hunted bytes")

	view, err := f.manager.Access(ctx, hunter, obj.DHash)
	require.NoError(t, err)
	assert.Equal(t, obj.DHash, view.DHash)

	// The query left a QUERIED grant for the qualifying group, so the next
	// access succeeds through the ordinary membership check.
	perms, err := f.manager.Shares(ctx, hunter, obj.DHash)
	require.NoError(t, err)
	var queried *model.ObjectPermission
	for _, p := range perms {
		if p.ReasonType == model.AccessQueried {
			queried = p
		}
	}
	require.NotNil(t, queried)
	assert.Equal(t, hunter.User.ID, queried.RelatedUserID)

	hunterGroup := hunter.PrivateGroup()
	require.NotNil(t, hunterGroup)
	assert.Equal(t, hunterGroup.ID, queried.GroupID)
}

func TestUploadWithParent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newIdentity(t, "alice", capabilities.AddingParents)
	bob := f.newIdentity(t, "bob")
	carol := f.newIdentity(t, "carol", capabilities.AddingParents)

	parent := f.uploadFile(t, alice, "dropper.exe", "dropper bytes")

	// Linking at upload time takes adding_parents, like AddRelation does.
	_, _, err := f.manager.Upload(ctx, bob, UploadRequest{
		Object:      &model.Object{Type: model.TypeFile, FileName: "payload.exe"},
		Content:     strings.NewReader("payload bytes"),
		ParentDHash: parent.DHash,
	})
	assert.True(t, svcerr.IsForbidden(err))

	// Even with the capability, nobody hangs a child under an object they
	// cannot see.
	_, _, err = f.manager.Upload(ctx, carol, UploadRequest{
		Object:      &model.Object{Type: model.TypeFile, FileName: "payload.exe"},
		Content:     strings.NewReader("payload bytes"),
		ParentDHash: parent.DHash,
	})
	assert.True(t, svcerr.IsNotFound(err))

	child, _, err := f.manager.Upload(ctx, alice, UploadRequest{
		Object:      &model.Object{Type: model.TypeFile, FileName: "payload.exe"},
		Content:     strings.NewReader("payload bytes"),
		ParentDHash: parent.DHash,
	})
	require.NoError(t, err)

	view, err := f.manager.Access(ctx, alice, parent.DHash)
	require.NoError(t, err)
	require.Len(t, view.Children, 1)
	assert.Equal(t, child.DHash, view.Children[0].DHash)
}

func TestAddRelation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newIdentity(t, "alice", capabilities.AddingParents)
	bob := f.newIdentity(t, "bob")

	parent := f.uploadFile(t, alice, "parent.exe", "parent bytes")
	child := f.uploadFile(t, alice, "child.exe", "child bytes")

	err := f.manager.AddRelation(ctx, bob, parent.DHash, child.DHash)
	assert.True(t, svcerr.IsForbidden(err))

	require.NoError(t, f.manager.AddRelation(ctx, alice, parent.DHash, child.DHash))

	view, err := f.manager.Access(ctx, alice, child.DHash)
	require.NoError(t, err)
	require.Len(t, view.Parents, 1)
	assert.Equal(t, parent.DHash, view.Parents[0].DHash)
}

func TestShareWithGroup(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newIdentity(t, "alice")
	bob := f.newIdentity(t, "bob")
	obj := f.uploadFile(t, alice, "handoff.exe", "handoff bytes")

	err := f.manager.ShareWith(ctx, alice, obj.DHash, "nosuchgroup")
	assert.True(t, svcerr.IsNotFound(err))

	// Sharing with Bob's private group hands him the object.
	require.NoError(t, f.manager.ShareWith(ctx, alice, obj.DHash, "bob"))
	_, err = f.manager.Access(ctx, bob, obj.DHash)
	assert.NoError(t, err)
}

func TestCommentGates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newIdentity(t, "alice",
		capabilities.AddingComments, capabilities.RemovingComments)
	plain := f.newIdentity(t, "plain")
	obj := f.uploadFile(t, alice, "commented.exe", "commented bytes")

	_, err := f.manager.AddComment(ctx, plain, obj.DHash, "nope")
	assert.True(t, svcerr.IsForbidden(err))
	_, err = f.manager.AddComment(ctx, alice, obj.DHash, "")
	assert.True(t, svcerr.IsSchemaInvalid(err))

	comment, err := f.manager.AddComment(ctx, alice, obj.DHash, "unpacked variant")
	require.NoError(t, err)
	assert.Equal(t, "alice", comment.Author)

	comments, err := f.manager.Comments(ctx, alice, obj.DHash)
	require.NoError(t, err)
	require.Len(t, comments, 1)

	require.NoError(t, f.manager.DeleteComment(ctx, alice, obj.DHash, comment.ID))
	err = f.manager.DeleteComment(ctx, alice, obj.DHash, comment.ID)
	assert.True(t, svcerr.IsNotFound(err))
}

func TestTagGates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	alice := f.newIdentity(t, "alice",
		capabilities.AddingTags, capabilities.RemovingTags)
	plain := f.newIdentity(t, "plain")
	obj := f.uploadFile(t, alice, "tagged.exe", "tagged bytes")

	err := f.manager.AddTag(ctx, plain, obj.DHash, "emotet")
	assert.True(t, svcerr.IsForbidden(err))

	require.NoError(t, f.manager.AddTag(ctx, alice, obj.DHash, "emotet"))
	tags, err := f.manager.Tags(ctx, alice, obj.DHash)
	require.NoError(t, err)
	assert.Equal(t, []string{"emotet"}, tags)

	require.NoError(t, f.manager.RemoveTag(ctx, alice, obj.DHash, "emotet"))
	tags, err = f.manager.Tags(ctx, alice, obj.DHash)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestAttributeFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	admin := f.newIdentity(t, "admin", capabilities.ManageUsers)
	alice := f.newIdentity(t, "alice")
	curator := f.newIdentity(t, "curator",
		capabilities.AddingAllAttributes, capabilities.ReadingAllAttributes,
		capabilities.RemovingAttributes)
	obj := f.uploadFile(t, alice, "attributed.exe", "attributed bytes")
	require.NoError(t, f.manager.ShareWith(ctx, alice, obj.DHash, "curator"))

	// Definitions come first, and defining takes manage_users.
	err := f.manager.DefineAttribute(ctx, alice, &model.AttributeDefinition{Key: "family"})
	assert.True(t, svcerr.IsForbidden(err))
	require.NoError(t, f.manager.DefineAttribute(ctx, admin, &model.AttributeDefinition{Key: "family"}))
	require.NoError(t, f.manager.DefineAttribute(ctx, admin, &model.AttributeDefinition{Key: "yara", Hidden: true}))

	err = f.manager.AddAttribute(ctx, curator, obj.DHash, "undefined-key", "x")
	assert.True(t, svcerr.IsNotFound(err))

	// Alice has no per-key set grant and no bypass.
	err = f.manager.AddAttribute(ctx, alice, obj.DHash, "family", "emotet")
	assert.True(t, svcerr.IsForbidden(err))

	require.NoError(t, f.manager.AddAttribute(ctx, curator, obj.DHash, "family", "emotet"))
	require.NoError(t, f.manager.AddAttribute(ctx, curator, obj.DHash, "yara", "win_emotet_auto"))

	// A per-key grant opens the set path for ordinary users.
	require.NoError(t, f.manager.SetAttributePermission(ctx, admin, "family", "alice", true, true))
	require.NoError(t, f.manager.AddAttribute(ctx, alice, obj.DHash, "family", "epoch5"))

	// Alice reads only her granted, non-hidden keys.
	attrs, err := f.manager.Attributes(ctx, alice, obj.DHash, false)
	require.NoError(t, err)
	require.NotEmpty(t, attrs)
	for _, a := range attrs {
		assert.Equal(t, "family", a.Key)
	}
	_, err = f.manager.Attributes(ctx, alice, obj.DHash, true)
	assert.True(t, svcerr.IsForbidden(err))

	// The curator bypasses the ACL and may see hidden keys.
	attrs, err = f.manager.Attributes(ctx, curator, obj.DHash, true)
	require.NoError(t, err)
	keys := make(map[string]bool)
	for _, a := range attrs {
		keys[a.Key] = true
	}
	assert.True(t, keys["family"])
	assert.True(t, keys["yara"])

	require.NoError(t, f.manager.RemoveAttribute(ctx, curator, obj.DHash, "yara"))
	err = f.manager.RemoveAttribute(ctx, alice, obj.DHash, "family")
	assert.True(t, svcerr.IsForbidden(err))
}
