package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHash(t *testing.T) {
	t.Parallel()

	const full = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	testCases := []struct {
		size int
		want string
	}{
		{0, full},
		{16, full[:16]},
		{100, full},
	}
	for _, tc := range testCases {
		got, err := New(tc.size).Hash([]byte("hello world"))
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
	}
}
