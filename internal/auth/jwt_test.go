package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lazone/api/internal/utils"
)

func TestGenerateAndValidateJWT(t *testing.T) {
	id := utils.NewSixID()
	token, err := GenerateJWT(id, "awa@example.com", true, "secret", time.Hour)
	require.NoError(t, err)

	claims, err := ValidateJWT(token, "secret")
	require.NoError(t, err)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, "awa@example.com", claims.Email)

	parsed, err := claims.AccountID()
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ValidateJWT(token, "other-secret")
	assert.Error(t, err)
}

func TestValidateJWT_Expired(t *testing.T) {
	token, err := GenerateJWT(utils.NewSixID(), "", false, "secret", -time.Minute)
	require.NoError(t, err)
	_, err = ValidateJWT(token, "secret")
	assert.Error(t, err)
}

func TestValidateJWT_RejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: utils.NewSixID().String()})
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ValidateJWT(raw, "secret")
	assert.Error(t, err)
}

func TestClaims_AccountID(t *testing.T) {
	id := utils.NewSixID()
	c := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: id.String()}}
	got, err := c.AccountID()
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = (&Claims{}).AccountID()
	assert.Error(t, err)

	_, err = (&Claims{UserID: "not-an-id!"}).AccountID()
	assert.Error(t, err)
}
