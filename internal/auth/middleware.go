// Package auth verifies bearer tokens and carries the owner identity through
// request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

type contextKey string

// OwnerKey is the context key used to store the authenticated owner.
const OwnerKey contextKey = "owner"

// ErrInactive is returned for a valid token whose owner is disabled.
var ErrInactive = errors.New("account is inactive")

// Verifier validates HS256 tokens signed with a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier for tokens signed with secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// claims is the token payload. The subject is the owner.
type claims struct {
	Active *bool `json:"active,omitempty"`
	jwt.RegisteredClaims
}

// ValidateToken checks the signature and expiry and returns the owner.
func (v *Verifier) ValidateToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("token is empty")
	}

	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %w", err)
	}

	owner := strings.TrimSpace(c.Subject)
	if owner == "" {
		return "", fmt.Errorf("token has no subject")
	}
	if c.Active != nil && !*c.Active {
		return owner, ErrInactive
	}
	return owner, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is case-insensitive (RFC 7235).
func BearerToken(r *http.Request) string {
	fields := strings.Fields(r.Header.Get("Authorization"))
	if len(fields) < 2 || !strings.EqualFold(fields[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(strings.Join(fields[1:], " "))
}

// RequireAuth rejects requests without a valid bearer token with 401, and
// tokens of inactive owners with 403. The owner is stored in the request
// context for downstream handlers.
func (v *Verifier) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			logrus.Debug("Auth: missing or malformed Authorization header")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		owner, err := v.ValidateToken(token)
		if errors.Is(err, ErrInactive) {
			logrus.WithField("owner", owner).Info("Auth: rejected inactive account")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		if err != nil {
			logrus.WithError(err).Info("Auth: token validation failed")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
	})
}

// WithOwner returns a copy of ctx carrying owner.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, OwnerKey, owner)
}

// OwnerFromContext returns the owner stored by RequireAuth.
func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(OwnerKey).(string)
	return owner, ok && owner != ""
}

func writeError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "{\"error\":%q}\n", reason)
}
