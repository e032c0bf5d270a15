package privatedata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseETag(t *testing.T) {
	for in, want := range map[string]int64{`"1"`: 1, `W/"12"`: 12, ` "7" `: 7, ETag(42): 42} {
		got, err := ParseETag(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", `"0"`, `"-1"`, `"x"`} {
		_, err := ParseETag(bad)
		assert.Error(t, err, bad)
	}
}
