// Package auth issues and verifies the tokens that guard the admin surfaces:
// the admin websocket channel and the maintenance trigger endpoint.
package auth

import (
	"context"
	"time"
)

// RoleAdmin is the role claim required by the admin surfaces.
const RoleAdmin = "admin"

// JWTService defines operations for managing admin tokens.
type JWTService interface {
	// GenerateAdminToken creates a signed token for subject carrying the
	// admin role, valid for ttl.
	GenerateAdminToken(ctx context.Context, subject string, ttl time.Duration) (string, error)

	// ValidateAdminToken verifies the signature, the validity window and the
	// admin role of tokenString. It returns ErrNotAdmin for a valid token
	// with another role.
	ValidateAdminToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims is the verified content of a token.
type Claims struct {
	Role      string    `json:"role,omitempty"`
	Subject   string    `json:"sub,omitempty"`
	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}
