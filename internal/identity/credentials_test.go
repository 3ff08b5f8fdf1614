package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTemporaryPassword(t *testing.T) {
	password, err := GenerateTemporaryPassword(DefaultPasswordLength)
	require.NoError(t, err)
	assert.Len(t, password, DefaultPasswordLength)
	for _, r := range password {
		assert.True(t, strings.ContainsRune(passwordAlphabet, r), "unexpected rune %q", r)
	}
}

func TestGenerateTemporaryPasswordDefaultsLength(t *testing.T) {
	password, err := GenerateTemporaryPassword(0)
	require.NoError(t, err)
	assert.Len(t, password, DefaultPasswordLength)

	password, err = GenerateTemporaryPassword(-3)
	require.NoError(t, err)
	assert.Len(t, password, DefaultPasswordLength)
}

func TestGenerateTemporaryPasswordExcludesAmbiguousGlyphs(t *testing.T) {
	for _, forbidden := range "0O1lI" {
		assert.NotContains(t, passwordAlphabet, string(forbidden))
	}
}

func TestGenerateTemporaryPasswordIsNotConstant(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 8; i++ {
		password, err := GenerateTemporaryPassword(12)
		require.NoError(t, err)
		seen[password] = true
	}
	assert.Greater(t, len(seen), 1)
}
