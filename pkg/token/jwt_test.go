package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_TokenTypes(t *testing.T) {
	m := NewJWTManager("secret", 1, 1)

	access, err := m.GenerateToken(7, "alice", "USER")
	require.NoError(t, err)
	refresh, err := m.GenerateRefreshToken(7, "alice", "USER")
	require.NoError(t, err)
	assert.NotEqual(t, access, refresh)

	claims, err := m.VerifyAccessToken(access)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, TypeAccess, claims.TokenType)

	claims, err = m.VerifyRefreshToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, TypeRefresh, claims.TokenType)

	_, err = m.VerifyAccessToken(refresh)
	assert.ErrorIs(t, err, ErrWrongTokenType)
	_, err = m.VerifyRefreshToken(access)
	assert.ErrorIs(t, err, ErrWrongTokenType)
}

func TestJWTManager_RejectsForeignSignature(t *testing.T) {
	issued, err := NewJWTManager("one", 1, 1).GenerateToken(1, "a", "USER")
	require.NoError(t, err)

	_, err = NewJWTManager("two", 1, 1).VerifyAccessToken(issued)
	assert.Error(t, err)
	_, err = NewJWTManager("two", 1, 1).VerifyAccessToken("garbage")
	assert.Error(t, err)
}

func TestJWTManager_Expired(t *testing.T) {
	m := NewJWTManager("secret", 0, 0)
	issued, err := m.GenerateToken(1, "a", "USER")
	require.NoError(t, err)
	_, err = m.VerifyAccessToken(issued)
	assert.Error(t, err)
}
