// Package auth issues and verifies the bearer tokens of the API and
// provides the middleware that resolves a request to its owning user.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"

	"github.com/patric-chuzhbe/wandernotes/internal/logger"
	"github.com/patric-chuzhbe/wandernotes/internal/models"
)

// ErrInvalidToken is returned for absent, malformed, expired or
// wrongly signed tokens.
var ErrInvalidToken = errors.New("invalid or expired access token")

// Auth handles JWT token issuing and verification.
type Auth struct {
	// signingSecretKey is the key used to sign JWTs.
	signingSecretKey []byte

	// tokenTTL is the validity window of an issued token.
	tokenTTL time.Duration

	now func() time.Time
}

// Claims represents the JWT claims used by the system.
// It embeds standard JWT claims and adds a user-specific identifier.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
}

// ContextKey is a custom type for storing values in context to avoid collisions.
type ContextKey string

// UserIDKey is the context key used to store and retrieve the authenticated user's ID.
const UserIDKey ContextKey = "userID"

// New creates a new Auth with the given signing secret and token validity window.
func New(signingSecretKey []byte, tokenTTL time.Duration) *Auth {
	return &Auth{
		signingSecretKey: signingSecretKey,
		tokenTTL:         tokenTTL,
		now:              time.Now,
	}
}

// BuildJWTString issues a signed token for the user.
func (a *Auth) BuildJWTString(userID string) (string, error) {
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
		},
		UserID: userID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(a.signingSecretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// GetUserIDFromToken verifies the token and returns the user ID it was issued for.
func (a *Auth) GetUserIDFromToken(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrInvalidToken
	}

	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	token, err := parser.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return a.signingSecretKey, nil
		},
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" || claims.ExpiresAt == nil {
		return "", ErrInvalidToken
	}

	return claims.UserID, nil
}

// AuthenticateUser is an HTTP middleware that rejects requests without a
// valid bearer token with 401 and stores the user ID in the request context.
func (a *Auth) AuthenticateUser(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		userID, err := a.GetUserIDFromToken(getBearerToken(request))
		if err != nil {
			logger.Log.Debugw("request rejected by the authentication gate", "uri", request.RequestURI, "err", err)
			writeUnauthenticated(response)
			return
		}

		ctx := context.WithValue(request.Context(), UserIDKey, userID)
		h.ServeHTTP(response, request.WithContext(ctx))
	}

	return http.HandlerFunc(middleware)
}

// UserIDFromContext returns the ID stored by AuthenticateUser.
func UserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}

func getBearerToken(request *http.Request) string {
	header := request.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}

	return strings.TrimSpace(token)
}

func writeUnauthenticated(response http.ResponseWriter) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(http.StatusUnauthorized)
	err := json.NewEncoder(response).Encode(models.ErrorResponse{
		Error:   true,
		Message: "Unauthorized",
	})
	if err != nil {
		logger.Log.Debugw("unable to write the unauthorized response", "err", err)
	}
}
