package usecase

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt"
	"golang.org/x/xerrors"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/domain"
)

type impl struct {
	jwtSecret []byte
	clock     clock.Clock
}

func New(jwtSecret string, clk clock.Clock) domain.AuthUsecase {
	if clk == nil {
		clk = clock.New()
	}
	return &impl{
		jwtSecret: []byte(jwtSecret),
		clock:     clk,
	}
}

func (im *impl) SignToken(c ctx.Ctx, userId string, role domain.Role, ttl time.Duration) (string, error) {
	if userId == "" {
		return "", xerrors.Errorf("userId is required: %w", domain.ErrBadParamInput)
	}
	now := im.clock.Now()
	claims := domain.JwtCustomClaims{
		UserId: userId,
		Role:   role,
		StandardClaims: jwt.StandardClaims{
			Subject:   userId,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	if ss, err := token.SignedString(im.jwtSecret); err != nil {
		c.WithField("err", err).Error("token.SignedString failed")
		return "", err
	} else {
		return ss, nil
	}
}

func (im *impl) ParseToken(c ctx.Ctx, str string) (*domain.JwtCustomClaims, error) {
	claims := &domain.JwtCustomClaims{}
	token, err := jwt.ParseWithClaims(str, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, xerrors.Errorf("unexpected signing method %v: %w", token.Header["alg"], domain.ErrUnauthorized)
		}
		return im.jwtSecret, nil
	})
	if err != nil {
		return nil, xerrors.Errorf("%s: %w", err.Error(), domain.ErrUnauthorized)
	}
	if !token.Valid || claims.UserId == "" {
		return nil, xerrors.Errorf("invalid token: %w", domain.ErrUnauthorized)
	}
	return claims, nil
}
