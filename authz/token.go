package authz

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingHeader = errors.New("authorization header is required")
	ErrHeaderFormat  = errors.New("invalid authorization header format")
	ErrNoSecret      = errors.New("token secret is not configured")
	ErrNoOrg         = errors.New("token carries no org_id")
)

// TenantClaims identifies the caller and the organization every rule operation is scoped to
type TenantClaims struct {
	OrgID string `json:"org_id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenService validates HS256 tenant tokens
type TokenService struct {
	Secret []byte
}

func NewTokenService(secret string) *TokenService {
	return &TokenService{Secret: []byte(secret)}
}

// Validate parses tokenString and returns its claims. Expiry is enforced by the parser.
func (s *TokenService) Validate(tokenString string) (*TenantClaims, error) {
	if len(s.Secret) == 0 {
		return nil, ErrNoSecret
	}

	token, err := jwt.ParseWithClaims(tokenString, &TenantClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*TenantClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.OrgID == "" {
		return nil, ErrNoOrg
	}
	return claims, nil
}

// ExtractTokenFromHeader returns the bearer token from an Authorization header
func ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingHeader
	}

	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrHeaderFormat
	}
	return parts[1], nil
}
