package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashAndVerify(t *testing.T) {
	s := NewStore(bcrypt.MinCost, 6)

	hashed, err := s.Hash("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hashed)

	assert.True(t, s.Verify("correct horse", hashed))
	assert.False(t, s.Verify("wrong horse", hashed))
}

func TestHashRejectsShortPasswords(t *testing.T) {
	s := NewStore(bcrypt.MinCost, 8)

	_, err := s.Hash("short")
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestHashesAreSalted(t *testing.T) {
	s := NewStore(bcrypt.MinCost, 6)

	first, err := s.Hash("same password")
	require.NoError(t, err)
	second, err := s.Hash("same password")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, s.Verify("same password", first))
	assert.True(t, s.Verify("same password", second))
}
