package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jwalitptl/opd-api/internal/model"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carry the caller identity every core operation needs.
type Claims struct {
	UserID int64      `json:"user_id"`
	Role   model.Role `json:"role"`
	jwt.RegisteredClaims
}

type JWTService interface {
	GenerateToken(actor model.Actor, ttl time.Duration) (string, error)
	ValidateToken(token string) (*model.Actor, error)
}

type jwtService struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTService(secret, issuer string) (JWTService, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &jwtService{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

func (s *jwtService) GenerateToken(actor model.Actor, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: actor.UserID,
		Role:   actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(actor.UserID, 10),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *jwtService) ValidateToken(token string) (*model.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID <= 0 || !claims.Role.Valid() {
		return nil, fmt.Errorf("%w: missing user_id or role", ErrInvalidToken)
	}
	return &model.Actor{UserID: claims.UserID, Role: claims.Role}, nil
}
