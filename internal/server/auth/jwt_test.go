package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseToken(t *testing.T) {
	secret := []byte("test-secret")

	token, err := GenerateToken("user-1", secret, time.Minute)
	require.NoError(t, err)

	userID, err := GetUserIDFromToken(token, secret)
	require.NoError(t, err)
	require.Equal(t, "user-1", userID)
}

func TestGetUserIDFromToken_WrongSecret(t *testing.T) {
	token, err := GenerateToken("user-1", []byte("right"), time.Minute)
	require.NoError(t, err)

	_, err = GetUserIDFromToken(token, []byte("wrong"))
	require.Error(t, err)
}

func TestGetUserIDFromToken_Expired(t *testing.T) {
	token, err := GenerateToken("user-1", []byte("s"), -time.Minute)
	require.NoError(t, err)

	_, err = GetUserIDFromToken(token, []byte("s"))
	require.Error(t, err)
}

func TestGetUserIDFromToken_Garbage(t *testing.T) {
	_, err := GetUserIDFromToken("not-a-token", []byte("s"))
	require.Error(t, err)
}
