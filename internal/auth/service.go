package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/askexpert/backend/internal/models"
)

var (
	// ErrInvalidToken is returned for any bearer credential that does not verify.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidRole is returned when a token carries a role users cannot hold.
	ErrInvalidRole = errors.New("invalid role")
)

// Service validates the bearer credentials issued by the identity provider.
type Service interface {
	IssueToken(actor models.Actor, ttl time.Duration) (string, error)
	ValidateToken(ctx context.Context, token string) (models.Actor, error)
}

type service struct {
	secret []byte
	now    func() time.Time
}

// NewService returns an HS256 token service keyed by secret.
func NewService(secret string) *service {
	return &service{secret: []byte(secret), now: time.Now}
}

// Ensure service implements Service at compile time.
var _ Service = (*service)(nil)

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

func (s *service) IssueToken(actor models.Actor, ttl time.Duration) (string, error) {
	if actor.Role != models.RoleAsker && actor.Role != models.RoleExpert {
		return "", ErrInvalidRole
	}
	now := s.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Role: string(actor.Role),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

func (s *service) ValidateToken(ctx context.Context, token string) (models.Actor, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return models.Actor{}, ErrInvalidToken
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return models.Actor{}, ErrInvalidToken
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return models.Actor{}, ErrInvalidToken
	}
	role := models.Role(c.Role)
	// scheduler credentials never come through a user token
	if role != models.RoleAsker && role != models.RoleExpert {
		return models.Actor{}, ErrInvalidRole
	}
	return models.Actor{ID: id, Role: role}, nil
}
