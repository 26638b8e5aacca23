package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samplecove/samplecove/pkg/capabilities"
	"github.com/samplecove/samplecove/pkg/model"
	"github.com/samplecove/samplecove/pkg/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	require.NoError(t, s.CreateGroup(context.Background(),
		&model.Group{Name: model.PublicGroupName}))
	return s
}

func mkUser(t *testing.T, s *Store, login string) *model.User {
	t.Helper()
	u := &model.User{Login: login, Email: login + "@example.com", FeedQuality: "high"}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func privateGroup(t *testing.T, s *Store, login string) *model.Group {
	t.Helper()
	g, err := s.GetGroupByName(context.Background(), login)
	require.NoError(t, err)
	require.True(t, g.Private)
	return g
}

func mkObject(t *testing.T, s *Store, dhash, parent string, grants ...int64) *model.Object {
	t.Helper()
	obj := &model.Object{Type: model.TypeFile, DHash: dhash, SHA256: dhash}
	_, err := s.PutObject(context.Background(), obj, storage.PutOptions{
		ParentDHash:   parent,
		GrantGroupIDs: grants,
	})
	require.NoError(t, err)
	return obj
}

func canSee(t *testing.T, s *Store, userID int64, dhash string) bool {
	t.Helper()
	obj, err := s.GetObject(context.Background(), dhash)
	require.NoError(t, err)
	ok, err := s.ExplicitAccess(context.Background(), userID, obj.ID)
	require.NoError(t, err)
	return ok
}

func TestCreateUserBuildsPrivateGroup(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	alice := mkUser(t, s, "alice")

	private := privateGroup(t, s, "alice")
	members, err := s.GroupMembers(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, members)

	groups, err := s.UserGroups(ctx, alice.ID)
	require.NoError(t, err)
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	assert.ElementsMatch(t, []string{"alice", model.PublicGroupName}, names)
	assert.True(t, private.Private)
}

func TestCreateUserNameClashAcrossNamespaces(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	mkUser(t, s, "alice")

	err := s.CreateUser(ctx, &model.User{Login: "alice"})
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	// A group may not take a user's login either, nor the other way round.
	err = s.CreateGroup(ctx, &model.Group{Name: "alice"})
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	require.NoError(t, s.CreateGroup(ctx, &model.Group{Name: "analysts"}))
	err = s.CreateUser(ctx, &model.User{Login: "analysts"})
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func TestDeleteUserRemovesPrivateGroup(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	mkUser(t, s, "mallory")
	require.NoError(t, s.DeleteUser(ctx, "mallory"))

	_, err := s.GetUserByLogin(ctx, "mallory")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetGroupByName(ctx, "mallory")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestShareIsIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	alice := mkUser(t, s, "alice")
	private := privateGroup(t, s, "alice")
	mkObject(t, s, "aaaa", "")

	created, err := s.Share(ctx, "aaaa", private.ID, model.AccessShared, alice.ID)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.Share(ctx, "aaaa", private.ID, model.AccessShared, alice.ID)
	require.NoError(t, err)
	assert.False(t, created)

	perms, err := s.ListShares(ctx, "aaaa")
	require.NoError(t, err)
	require.Len(t, perms, 1)
	assert.Equal(t, model.AccessShared, perms[0].ReasonType)
	assert.Equal(t, alice.ID, perms[0].RelatedUserID)
}

func TestShareGrantsVisibilityToAllMembers(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	alice := mkUser(t, s, "alice")
	bob := mkUser(t, s, "bob")
	require.NoError(t, s.CreateGroup(ctx, &model.Group{Name: "analysts"}))
	require.NoError(t, s.AddMember(ctx, "alice", "analysts"))
	require.NoError(t, s.AddMember(ctx, "bob", "analysts"))
	analysts, err := s.GetGroupByName(ctx, "analysts")
	require.NoError(t, err)

	mkObject(t, s, "aaaa", "")

	created, err := s.Share(ctx, "aaaa", analysts.ID, model.AccessShared, alice.ID)
	require.NoError(t, err)
	require.True(t, created)

	assert.True(t, canSee(t, s, alice.ID, "aaaa"))
	assert.True(t, canSee(t, s, bob.ID, "aaaa"))
}

func TestInheritance(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	alice := mkUser(t, s, "alice")
	bob := mkUser(t, s, "bob")
	alicePG := privateGroup(t, s, "alice")
	bobPG := privateGroup(t, s, "bob")

	// A has children B and C; B has child D.
	mkObject(t, s, "A", "")
	mkObject(t, s, "B", "A")
	mkObject(t, s, "C", "A")
	mkObject(t, s, "D", "B")

	// Alice uploads A: her grant propagates down the whole subtree.
	mkObject(t, s, "A", "", alicePG.ID)
	// Bob uploads B: his grant covers B and D only.
	mkObject(t, s, "B", "", bobPG.ID)

	for _, dhash := range []string{"A", "B", "C", "D"} {
		assert.True(t, canSee(t, s, alice.ID, dhash), "alice should see %s", dhash)
	}
	assert.False(t, canSee(t, s, bob.ID, "A"))
	assert.True(t, canSee(t, s, bob.ID, "B"))
	assert.False(t, canSee(t, s, bob.ID, "C"))
	assert.True(t, canSee(t, s, bob.ID, "D"))
}

func TestCrossLinking(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	alice := mkUser(t, s, "alice")
	bob := mkUser(t, s, "bob")
	alicePG := privateGroup(t, s, "alice")
	bobPG := privateGroup(t, s, "bob")

	// Alice's chain AA -> AB -> AC.
	mkObject(t, s, "AA", "", alicePG.ID)
	mkObject(t, s, "AB", "AA", alicePG.ID)
	mkObject(t, s, "AC", "AB", alicePG.ID)

	// Bob's tree BA -> {BB, BC}.
	mkObject(t, s, "BA", "", bobPG.ID)
	mkObject(t, s, "BB", "BA", bobPG.ID)
	mkObject(t, s, "BC", "BA", bobPG.ID)

	// Bob uploads AC himself, then links it under his BA.
	mkObject(t, s, "AC", "", bobPG.ID)
	added, err := s.AddParent(ctx, "AC", "BA")
	require.NoError(t, err)
	assert.True(t, added)

	for _, dhash := range []string{"AA", "AB", "AC"} {
		assert.True(t, canSee(t, s, alice.ID, dhash), "alice should see %s", dhash)
	}
	for _, dhash := range []string{"BA", "BB", "BC"} {
		assert.False(t, canSee(t, s, alice.ID, dhash), "alice should not see %s", dhash)
	}
	for _, dhash := range []string{"AC", "BA", "BB", "BC"} {
		assert.True(t, canSee(t, s, bob.ID, dhash), "bob should see %s", dhash)
	}
	for _, dhash := range []string{"AA", "AB"} {
		assert.False(t, canSee(t, s, bob.ID, dhash), "bob should not see %s", dhash)
	}
}

func TestCyclePropagationTerminates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	bob := mkUser(t, s, "bob")
	bobPG := privateGroup(t, s, "bob")

	// A -> {AA -> AAA, AB -> ABA}; then ABA gains child A, closing the cycle.
	mkObject(t, s, "A", "")
	mkObject(t, s, "AA", "A")
	mkObject(t, s, "AAA", "AA")
	mkObject(t, s, "AB", "A")
	mkObject(t, s, "ABA", "AB")

	mkObject(t, s, "ABA", "", bobPG.ID)
	added, err := s.AddParent(ctx, "A", "ABA")
	require.NoError(t, err)
	assert.True(t, added)

	for _, dhash := range []string{"A", "AA", "AAA", "AB", "ABA"} {
		assert.True(t, canSee(t, s, bob.ID, dhash), "bob should see %s", dhash)
	}
}

func TestMultiParentViewFiltersInvisibleParents(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	mkUser(t, s, "alice")
	bob := mkUser(t, s, "bob")
	alicePG := privateGroup(t, s, "alice")
	bobPG := privateGroup(t, s, "bob")

	mkObject(t, s, "A", "", alicePG.ID)
	mkObject(t, s, "B", "", alicePG.ID)
	mkObject(t, s, "C", "", bobPG.ID)
	mkObject(t, s, "X", "A")
	mkObject(t, s, "Y", "X")
	mkObject(t, s, "Z", "X")
	_, err := s.AddParent(ctx, "X", "B")
	require.NoError(t, err)
	_, err = s.AddParent(ctx, "X", "C")
	require.NoError(t, err)

	// Alice reviews everything (access-all); her view keeps all parents.
	aliceView, err := s.GetView(ctx, "X", s.VisibleAll())
	require.NoError(t, err)
	assert.Len(t, aliceView.Parents, 3)

	// Bob only sees the parent he controls.
	bobView, err := s.GetView(ctx, "X", s.Visible(bob.ID))
	require.NoError(t, err)
	require.Len(t, bobView.Parents, 1)
	assert.Equal(t, "C", bobView.Parents[0].DHash)

	// Children are inherited through propagation, so both see Y and Z.
	assert.Len(t, bobView.Children, 2)
	assert.True(t, canSee(t, s, bob.ID, "Y"))
	assert.True(t, canSee(t, s, bob.ID, "Z"))
}

func TestPutObjectGetOrCreate(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	obj := &model.Object{Type: model.TypeFile, DHash: "ffff", FileName: "a.exe", FileSize: 10}
	created, err := s.PutObject(ctx, obj, storage.PutOptions{})
	require.NoError(t, err)
	assert.True(t, created)
	firstID := obj.ID
	assert.NotZero(t, firstID)
	assert.False(t, obj.UploadTime.IsZero())

	// The second upload resolves the existing row; metadata stays as stored.
	dup := &model.Object{Type: model.TypeFile, DHash: "ffff", FileName: "b.exe"}
	created, err = s.PutObject(ctx, dup, storage.PutOptions{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, firstID, dup.ID)
	assert.Equal(t, "a.exe", dup.FileName)
}

func TestUserGroupsWithCapability(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	alice := mkUser(t, s, "alice")
	require.NoError(t, s.CreateGroup(ctx, &model.Group{
		Name:         "hunters",
		Capabilities: []capabilities.Capability{capabilities.ShareQueriedObjects},
	}))
	require.NoError(t, s.AddMember(ctx, "alice", "hunters"))

	groups, err := s.UserGroupsWithCapability(ctx, alice.ID, capabilities.ShareQueriedObjects)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "hunters", groups[0].Name)

	groups, err = s.UserGroupsWithCapability(ctx, alice.ID, capabilities.ManageUsers)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestUploadedByPredicate(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	alice := mkUser(t, s, "alice")
	alicePG := privateGroup(t, s, "alice")

	obj := &model.Object{Type: model.TypeFile, DHash: "dddd"}
	_, err := s.PutObject(ctx, obj, storage.PutOptions{
		GrantGroupIDs: []int64{alicePG.ID},
		UploaderID:    alice.ID,
	})
	require.NoError(t, err)

	objs, err := s.ListObjects(ctx, "", s.UploadedBy(alice.ID), 10)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "dddd", objs[0].DHash)

	objs, err = s.ListObjects(ctx, "", s.UploadedBy(alice.ID+1000), 10)
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestTagsGetOrCreateDictionary(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	a := mkObject(t, s, "aaaa", "")
	b := mkObject(t, s, "bbbb", "")

	added, err := s.AddTag(ctx, a.ID, "emotet")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddTag(ctx, a.ID, "emotet")
	require.NoError(t, err)
	assert.False(t, added)

	// The dictionary entry is shared between objects.
	added, err = s.AddTag(ctx, b.ID, "emotet")
	require.NoError(t, err)
	assert.True(t, added)

	removed, err := s.RemoveTag(ctx, a.ID, "emotet")
	require.NoError(t, err)
	assert.True(t, removed)

	tags, err := s.ListTags(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"emotet"}, tags)
}

func TestCommentsCarryAuthor(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	alice := mkUser(t, s, "alice")
	obj := mkObject(t, s, "aaaa", "")

	comment := &model.Comment{Comment: "dropper for emotet", ObjectID: obj.ID, UserID: alice.ID}
	require.NoError(t, s.AddComment(ctx, comment))
	assert.NotZero(t, comment.ID)
	assert.False(t, comment.Timestamp.IsZero())

	comments, err := s.ListComments(ctx, obj.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "alice", comments[0].Author)

	require.NoError(t, s.DeleteComment(ctx, obj.ID, comment.ID))
	assert.ErrorIs(t, s.DeleteComment(ctx, obj.ID, comment.ID), storage.ErrNotFound)
}

func TestAttributePermissions(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	alice := mkUser(t, s, "alice")
	bob := mkUser(t, s, "bob")
	alicePG := privateGroup(t, s, "alice")
	obj := mkObject(t, s, "aaaa", "")

	// Values need a definition first.
	_, err := s.AddAttribute(ctx, obj.ID, "family", "emotet")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.DefineAttribute(ctx, &model.AttributeDefinition{Key: "family"}))
	require.NoError(t, s.DefineAttribute(ctx, &model.AttributeDefinition{Key: "yara", Hidden: true}))

	added, err := s.AddAttribute(ctx, obj.ID, "family", "emotet")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = s.AddAttribute(ctx, obj.ID, "family", "emotet")
	require.NoError(t, err)
	assert.False(t, added)
	_, err = s.AddAttribute(ctx, obj.ID, "yara", "win_emotet_auto")
	require.NoError(t, err)

	require.NoError(t, s.SetAttributePermission(ctx, &model.AttributePermission{
		Key: "family", GroupID: alicePG.ID, CanRead: true, CanSet: true,
	}))

	canSet, err := s.CanSetAttribute(ctx, alice.ID, "family")
	require.NoError(t, err)
	assert.True(t, canSet)
	canSet, err = s.CanSetAttribute(ctx, bob.ID, "family")
	require.NoError(t, err)
	assert.False(t, canSet)

	// Alice reads through her grant; the hidden key stays elided.
	attrs, err := s.ListAttributes(ctx, obj.ID, alice.ID, false, false)
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, "family", attrs[0].Key)

	// Bob has no read grant at all.
	attrs, err = s.ListAttributes(ctx, obj.ID, bob.ID, false, false)
	require.NoError(t, err)
	assert.Empty(t, attrs)

	// Bypass shows everything, hidden included when asked for.
	attrs, err = s.ListAttributes(ctx, obj.ID, bob.ID, true, true)
	require.NoError(t, err)
	assert.Len(t, attrs, 2)

	require.NoError(t, s.RemoveAttribute(ctx, obj.ID, "family"))
	assert.ErrorIs(t, s.RemoveAttribute(ctx, obj.ID, "family"), storage.ErrNotFound)
}

func TestAPIKeys(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	alice := mkUser(t, s, "alice")

	key := &model.APIKey{ID: "3f6b1d0e-9f3e-4a39-9f70-1f7d6a1a7c11", UserID: alice.ID, IssuedBy: alice.ID}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	got, err := s.GetAPIKey(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.UserID)
	assert.False(t, got.IssuedOn.IsZero())

	keys, err := s.ListAPIKeys(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, s.DeleteAPIKey(ctx, key.ID))
	_, err = s.GetAPIKey(ctx, key.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
