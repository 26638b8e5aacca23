package blob

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const digest = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func TestLocalStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(digest, strings.NewReader("sample content")))

	rc, err := s.Get(digest)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "sample content", string(got))
}

func TestLocalStorePutIsIdempotent(t *testing.T) {
	t.Parallel()

	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put(digest, strings.NewReader("first")))
	// A second Put for the same digest leaves the stored content untouched.
	require.NoError(t, s.Put(digest, strings.NewReader("second")))

	rc, err := s.Get(digest)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))
}

func TestLocalStoreMissing(t *testing.T) {
	t.Parallel()

	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get("aaaabbbbccccdddd")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.Put("ab", strings.NewReader("x")))
	_, err = s.Get("ab")
	assert.Error(t, err)
}
