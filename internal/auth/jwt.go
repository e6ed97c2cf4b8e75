package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Priya8975/error-ingest/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("role not allowed")
)

// Claims are the token claims issued by the identity collaborator.
type Claims struct {
	TenantID        string   `json:"tenant_id,omitempty"`
	Role            string   `json:"role,omitempty"`
	AuthorizedUsers []string `json:"authorized_users,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates HS256 bearer tokens.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Verifier{secret: []byte(secret), issuer: issuer}, nil
}

// Verify parses a token (with or without the "Bearer " prefix) and returns
// the actor it names.
func (v *Verifier) Verify(token string) (*domain.Actor, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return nil, ErrUnauthenticated
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}

	return &domain.Actor{
		UserID:          claims.Subject,
		TenantID:        claims.TenantID,
		Role:            claims.Role,
		AuthorizedUsers: claims.AuthorizedUsers,
	}, nil
}

// Issue signs a token for the actor. Used by tooling and tests.
func (v *Verifier) Issue(actor domain.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID:        actor.TenantID,
		Role:            actor.Role,
		AuthorizedUsers: actor.AuthorizedUsers,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

type actorKey struct{}

// WithActor stores the authenticated actor in the context.
func WithActor(ctx context.Context, actor *domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the authenticated actor, or nil.
func ActorFrom(ctx context.Context) *domain.Actor {
	actor, _ := ctx.Value(actorKey{}).(*domain.Actor)
	return actor
}
