package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testParams keeps argon2 cheap in tests.
var testParams = Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func TestPasswordHasher_HashAndVerify(t *testing.T) {
	h := NewPasswordHasher(testParams)

	encoded, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$"))

	ok, err := h.Verify("correct horse", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("battery staple", encoded)
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, encoded, again, "salt must differ per hash")
}

func TestPasswordHasher_LegacySHA256(t *testing.T) {
	h := NewPasswordHasher(testParams)
	legacy := "5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8"

	ok, err := h.Verify("password", legacy)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("password", strings.ToUpper(legacy))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("Password", legacy)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, h.NeedsRehash(legacy), "legacy hashes must be flagged for upgrade")

	// New hashes are never in the legacy format.
	encoded, err := h.Hash("password")
	require.NoError(t, err)
	assert.NotEqual(t, legacy, encoded)
	assert.False(t, isLegacySHA256(encoded))
}

func TestPasswordHasher_UnsupportedFormats(t *testing.T) {
	h := NewPasswordHasher(testParams)

	tests := []string{
		"",
		"plaintext",
		"$2a$10$abcdefghijklmnopqrstuv",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$!!!$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$",
	}
	for _, encoded := range tests {
		ok, err := h.Verify("password", encoded)
		assert.False(t, ok, encoded)
		assert.ErrorIs(t, err, ErrUnsupportedHash, encoded)
	}
}

func TestPasswordHasher_NeedsRehash(t *testing.T) {
	cheap := NewPasswordHasher(testParams)
	encoded, err := cheap.Hash("pw")
	require.NoError(t, err)

	assert.False(t, cheap.NeedsRehash(encoded))

	stronger := testParams
	stronger.Iterations = 2
	assert.True(t, NewPasswordHasher(stronger).NeedsRehash(encoded))
}
