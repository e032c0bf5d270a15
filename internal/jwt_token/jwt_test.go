package jwttoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "wwwallet/pkg/domain-errors"
)

var jwtService = NewJWTService(
	"test-signing-key",
	"test-issuer",
	"test-audience",
)

const (
	walletID  = "wallet-1"
	deviceID  = "device-a"
	expiresIn = time.Hour
)

func Test_GenerateAccessToken(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(walletID, deviceID, expiresIn)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	claims, err := jwtService.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, walletID, claims.WalletID)
	assert.Equal(t, deviceID, claims.DeviceID)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, time.Now().Add(expiresIn), claims.ExpiresAt.Time, time.Minute)
}

func Test_GenerateAccessToken_RequiresWallet(t *testing.T) {
	_, err := jwtService.GenerateAccessToken("", deviceID, expiresIn)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func Test_ValidateToken_InvalidToken(t *testing.T) {
	_, err := jwtService.ValidateToken("invalid-token-string")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_ValidateToken_ExpiredToken(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(walletID, deviceID, -time.Hour)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token has expired")
}

func Test_ValidateToken_WrongKeyOrAudience(t *testing.T) {
	t.Run("different signing key", func(t *testing.T) {
		other := NewJWTService("other-key", "test-issuer", "test-audience")
		token, err := other.GenerateAccessToken(walletID, deviceID, expiresIn)
		require.NoError(t, err)
		_, err = jwtService.ValidateToken(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("different audience", func(t *testing.T) {
		other := NewJWTService("test-signing-key", "test-issuer", "elsewhere")
		token, err := other.GenerateAccessToken(walletID, deviceID, expiresIn)
		require.NoError(t, err)
		_, err = jwtService.ValidateToken(token)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func Test_Adapter(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(walletID, deviceID, expiresIn)
	require.NoError(t, err)

	claims, err := NewJWTServiceAdapter(jwtService).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, walletID, claims.WalletID)
	assert.Equal(t, deviceID, claims.DeviceID)
	assert.NotEmpty(t, claims.JTI)
}
