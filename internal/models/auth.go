package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims are the access-token claims issued by the campus SSO gateway.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}
