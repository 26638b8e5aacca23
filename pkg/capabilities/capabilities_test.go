package capabilities

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValid(t *testing.T) {
	t.Parallel()

	for _, c := range All() {
		assert.True(t, Valid(c), string(c))
	}
	assert.False(t, Valid("nosuchcap"))
	assert.False(t, Valid(""))
}

func TestAllIsStable(t *testing.T) {
	t.Parallel()

	// Registry order is part of the contract: capability listings are
	// rendered in this order.
	assert.Equal(t, All(), All())
	assert.Equal(t, ManageUsers, All()[0])
}
