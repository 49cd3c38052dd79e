package usecase_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/domain"
	"github.com/x-xyz/bidding/stores/auth/usecase"
)

func TestSignAndParseToken(t *testing.T) {
	c := ctx.Background()
	u := usecase.New("jwt-secret", nil)
	tkn, err := u.SignToken(c, "homeowner-1", domain.RoleUser, time.Hour)
	assert.NoError(t, err)
	assert.NotEmpty(t, tkn)

	claims, err := u.ParseToken(c, tkn)
	assert.NoError(t, err)
	assert.Equal(t, "homeowner-1", claims.UserId)
	assert.Equal(t, domain.RoleUser, claims.Role)
}

func TestParseRejectsForeignAndExpiredTokens(t *testing.T) {
	c := ctx.Background()
	other, err := usecase.New("other-secret", nil).SignToken(c, "u", domain.RoleUser, time.Hour)
	assert.NoError(t, err)

	u := usecase.New("jwt-secret", nil)
	_, err = u.ParseToken(c, other)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	expired, err := u.SignToken(c, "u", domain.RoleUser, -time.Minute)
	assert.NoError(t, err)
	_, err = u.ParseToken(c, expired)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = u.ParseToken(c, "garbage")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}
