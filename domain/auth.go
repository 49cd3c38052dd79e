package domain

import (
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/x-xyz/bidding/base/ctx"
)

type Role string

const (
	// RoleUser is a homeowner or contractor acting on their own resources
	RoleUser Role = "user"
	// RoleService is a trusted collaborator, e.g. the payment processor
	RoleService Role = "service"
)

type JwtCustomClaims struct {
	UserId string `json:"uid"`
	Role   Role   `json:"role"`
	jwt.StandardClaims
}

// AuthUsecase verifies bearer tokens issued by the identity provider
type AuthUsecase interface {
	SignToken(c ctx.Ctx, userId string, role Role, ttl time.Duration) (string, error)
	ParseToken(c ctx.Ctx, token string) (*JwtCustomClaims, error)
}
