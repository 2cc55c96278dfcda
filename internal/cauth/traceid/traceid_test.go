package traceid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIsUniqueAnd16Hex(t *testing.T) {
	a := New()
	b := New()
	require.Len(t, a, 16)
	require.Len(t, b, 16)
	require.NotEqual(t, a, b)
	require.Regexp(t, `^[0-9a-f]{16}$`, a)
}
