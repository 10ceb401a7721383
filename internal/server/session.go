package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	sessionIssuer   = "shinehq"
	sessionAudience = "shinehq-dashboard"

	// DefaultSessionTTL bounds how long a dashboard session token stays valid.
	DefaultSessionTTL = 24 * time.Hour
)

type sessionClaims struct {
	jwt.RegisteredClaims
}

// IssueSessionToken mints a signed dashboard session token for a tenant.
// The admin support surface uses it to sign in as a tenant; the dashboard's
// own login flow shares the secret and mints the same shape. Billing
// endpoints only verify.
func IssueSessionToken(secret []byte, tenantID string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("session secret not configured")
	}
	if strings.TrimSpace(tenantID) == "" {
		return "", errors.New("tenant id required")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Audience:  jwt.ClaimStrings{sessionAudience},
			Subject:   tenantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// parseSessionToken verifies a session token and returns the tenant ID.
func parseSessionToken(secret []byte, tokenString string, now time.Time) (string, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(
		tokenString,
		&claims,
		func(t *jwt.Token) (any, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
			}
			return secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithAudience(sessionAudience),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return "", fmt.Errorf("parse session token: %w", err)
	}
	tenantID := strings.TrimSpace(claims.Subject)
	if tenantID == "" {
		return "", errors.New("session token has no subject")
	}
	return tenantID, nil
}

// bearerToken extracts the session token from the Authorization header or
// the session cookie.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	if cookie, err := r.Cookie("shinehq_session"); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

// tenantHandler is a session-authenticated handler: the tenant ID is the
// verified subject of the caller's session token.
type tenantHandler func(w http.ResponseWriter, r *http.Request, tenantID string)

// requireSession wraps a handler with session token verification.
func requireSession(secret []byte, next tenantHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing session token")
			return
		}
		tenantID, err := parseSessionToken(secret, token, time.Now().UTC())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid session token")
			return
		}
		next(w, r, tenantID)
	}
}

// adminKeyMiddleware requires a valid admin API key via X-Admin-Key or a
// bearer token.
func adminKeyMiddleware(adminKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-Admin-Key"))
		if key == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			}
		}
		if key == "" || key != adminKey {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
