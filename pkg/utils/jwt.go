package utils

import (
	"errors"
	"time"

	"github.com/dermashare/backend/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "dermashare"

var (
	signingSecret = []byte("change-me-in-production")
	tokenTTL      = 24 * time.Hour
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the directory identity carried in a session token. Role travels
// with the token so route guards do not need a directory lookup.
type Claims struct {
	UserID uuid.UUID       `json:"uid"`
	Email  string          `json:"email"`
	Role   models.UserRole `json:"role"`
	jwt.RegisteredClaims
}

func ConfigureJWT(secret string, expirationHours int) {
	if secret != "" {
		signingSecret = []byte(secret)
	}
	if expirationHours > 0 {
		tokenTTL = time.Duration(expirationHours) * time.Hour
	}
}

// GenerateToken issues an HS256 session token for the user.
func GenerateToken(user *models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingSecret)
}

// ValidateToken verifies a session token, accepting only HS256 signatures
// minted by this service.
func ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return signingSecret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
