package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrMissingToken     = errors.New("missing authentication token")
	ErrInvalidClaims    = errors.New("invalid token claims")
)

// ScopeOwner grants access to the local control surface
const ScopeOwner = "owner"

// Claims represents the JWT claims carried by owner tokens
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// OwnerTokens issues and validates HS256 tokens for the node owner. The
// subject is the node DID so a token minted for one node is useless on another.
type OwnerTokens struct {
	secretKey []byte
	issuer    string
	subject   string
	now       func() time.Time
}

// NewOwnerTokens creates a token issuer/validator bound to one node
func NewOwnerTokens(secret, issuer, subject string) (*OwnerTokens, error) {
	if secret == "" {
		return nil, errors.New("secret key required for HS256")
	}
	return &OwnerTokens{
		secretKey: []byte(secret),
		issuer:    issuer,
		subject:   subject,
		now:       time.Now,
	}, nil
}

// Issue returns a signed token valid for ttl
func (o *OwnerTokens) Issue(ttl time.Duration) (string, error) {
	now := o.now()
	claims := &Claims{
		Scope: ScopeOwner,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    o.issuer,
			Subject:   o.subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(o.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate checks a bearer token and returns its claims
func (o *OwnerTokens) Validate(tokenString string) (*Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	tokenString = strings.TrimSpace(tokenString)

	if tokenString == "" {
		return nil, ErrMissingToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method)
		}
		return o.secretKey, nil
	}, jwt.WithTimeFunc(o.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		if errors.Is(err, jwt.ErrSignatureInvalid) {
			return nil, ErrInvalidSignature
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}

	if o.issuer != "" && claims.Issuer != o.issuer {
		return nil, fmt.Errorf("%w: invalid issuer", ErrInvalidClaims)
	}
	if claims.Subject != o.subject {
		return nil, fmt.Errorf("%w: token issued for another node", ErrInvalidClaims)
	}
	if claims.Scope != ScopeOwner {
		return nil, fmt.Errorf("%w: missing owner scope", ErrInvalidClaims)
	}

	return claims, nil
}
