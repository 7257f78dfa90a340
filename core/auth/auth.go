// Package auth issues and verifies session tokens and checks passwords.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/utils/apperr"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Claims is the session payload carried in the token.
type Claims struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. ttl is the token lifetime.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for the given identity.
func (i *Issuer) Issue(id, username, role string) (string, error) {
	now := i.now()
	claims := Claims{
		ID:       id,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Verify parses a token and returns its claims, or an UnauthorizedError.
func (i *Issuer) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, &apperr.UnauthorizedError{Reason: "missing token"}
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &apperr.UnauthorizedError{Reason: "token expired"}
		}
		return nil, &apperr.UnauthorizedError{Reason: "invalid token"}
	}
	if !parsed.Valid {
		return nil, &apperr.UnauthorizedError{Reason: "invalid token"}
	}

	return claims, nil
}

// RequireRole returns a ForbiddenError unless claims carry role.
func RequireRole(claims *Claims, role string) error {
	if claims == nil {
		return &apperr.UnauthorizedError{Reason: "missing claims"}
	}
	if claims.Role != role {
		return &apperr.ForbiddenError{Role: claims.Role, Required: role}
	}
	return nil
}

// HashPassword bcrypt-hashes a password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// =============================================================================
// Login
// =============================================================================

// UserStore is the account lookup used by login.
type UserStore interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
}

// Authenticator checks credentials and issues session tokens.
type Authenticator struct {
	users  UserStore
	issuer *Issuer
}

// NewAuthenticator creates an authenticator.
func NewAuthenticator(users UserStore, issuer *Issuer) *Authenticator {
	return &Authenticator{users: users, issuer: issuer}
}

// Login returns the user and a signed token. Unknown users and wrong
// passwords both yield the same UnauthorizedError.
func (a *Authenticator) Login(ctx context.Context, username, password string) (*models.User, string, error) {
	invalid := &apperr.UnauthorizedError{Reason: "invalid credentials"}

	user, err := a.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, "", invalid
		}
		return nil, "", err
	}

	if !CheckPassword(user.PasswordHash, password) {
		return nil, "", invalid
	}

	token, err := a.issuer.Issue(user.ID, user.Username, user.Role)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}
