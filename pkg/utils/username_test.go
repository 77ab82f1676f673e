package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateUsername(t *testing.T) {
	for _, valid := range []string{"alice", "bob_2024", "user-name", "ABC"} {
		require.NoError(t, ValidateUsername(valid), valid)
	}
	for _, invalid := range []string{"", "ab", "has space", "emoji🙂", "way-too-long-username-over-thirty-two-chars"} {
		require.Error(t, ValidateUsername(invalid), invalid)
	}
}

func TestNormalizeUsername(t *testing.T) {
	require.Equal(t, "alice", NormalizeUsername("  Alice "))
}
