package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidObjectType(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidObjectType(TypeFile))
	assert.True(t, ValidObjectType(TypeStaticConfig))
	assert.True(t, ValidObjectType(TypeBlob))
	assert.False(t, ValidObjectType("apk"))
	assert.False(t, ValidObjectType(""))
}

func TestGroupImmutable(t *testing.T) {
	t.Parallel()

	assert.True(t, (&Group{Name: "alice", Private: true}).Immutable())
	assert.True(t, (&Group{Name: PublicGroupName}).Immutable())
	assert.False(t, (&Group{Name: "analysts"}).Immutable())
}
