package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultAudience = "authenticated"
	defaultLeeway   = 30 * time.Second
)

type JWTConfig struct {
	// Secret is the shared HS256 key of the identity provider.
	Secret   []byte
	Audience string
	Leeway   time.Duration
	Clock    clockwork.Clock
}

// JWTVerifier validates HS256 access tokens.
type JWTVerifier struct {
	secret   []byte
	audience string
	leeway   time.Duration
	clock    clockwork.Clock
}

type providerClaims struct {
	Email string `json:"email"`
	Role  string `json:"role,omitempty"`
}

func NewJWTVerifier(cfg JWTConfig) (*JWTVerifier, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultAudience
	}
	if cfg.Leeway == 0 {
		cfg.Leeway = defaultLeeway
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &JWTVerifier{
		secret:   cfg.Secret,
		audience: cfg.Audience,
		leeway:   cfg.Leeway,
		clock:    cfg.Clock,
	}, nil
}

func (v *JWTVerifier) Verify(_ context.Context, raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, ErrMissingToken
	}
	token, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims jwt.Claims
	var extra providerClaims
	if err := token.Claims(v.secret, &claims, &extra); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Expiry == nil {
		return Identity{}, fmt.Errorf("%w: missing exp", ErrInvalidToken)
	}
	expected := jwt.Expected{
		AnyAudience: jwt.Audience{v.audience},
		Time:        v.clock.Now(),
	}
	if err := claims.ValidateWithLeeway(expected, v.leeway); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: invalid user id in token", ErrInvalidToken)
	}

	return Identity{
		UserID:   userID,
		Email:    extra.Email,
		Audience: v.audience,
	}, nil
}
