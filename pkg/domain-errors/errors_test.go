package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	t.Run("matches direct code", func(t *testing.T) {
		err := New(CodeCorruptHistory, "bad chain")
		assert.True(t, HasCode(err, CodeCorruptHistory))
		assert.False(t, HasCode(err, CodeInternal))
	})

	t.Run("matches through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("load: %w", New(CodeIncompatibleHistories, "no shared origin"))
		assert.True(t, HasCode(err, CodeIncompatibleHistories))
	})

	t.Run("matches inner coded error", func(t *testing.T) {
		inner := New(CodeNotFound, "missing")
		err := Wrap(inner, CodeInternal, "lookup failed")
		assert.True(t, HasCode(err, CodeInternal))
		assert.True(t, HasCode(err, CodeNotFound))
		assert.Equal(t, CodeInternal, CodeOf(err))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		err := errors.New("boom")
		assert.False(t, HasCode(err, CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(err))
	})
}

func TestWrap(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.NoError(t, Wrap(nil, CodeInternal, "noop"))
	})

	t.Run("keeps the cause reachable", func(t *testing.T) {
		cause := errors.New("disk full")
		err := Wrap(cause, CodeUnavailable, "persist container")
		require.Error(t, err)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "persist container")
		assert.Contains(t, err.Error(), "disk full")
	})
}
