package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated caller extracted from the bearer token,
// or the anonymous id presented on the anonymous surface.
type Identity struct {
	UserID    string
	Channel   string
	Token     string
	Anonymous bool
}

// BearerJWT validates an HS256-signed bearer token and stores the caller
// identity in the request context. The token must carry sub (user id)
// and may carry channel.
func BearerJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "missing bearer token")
				return
			}
			raw := auth[len(prefix):]

			claims := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid bearer token")
				return
			}

			sub, err := claims.GetSubject()
			if err != nil || sub == "" {
				httpError(w, http.StatusUnauthorized, "authentication_error", "token has no subject")
				return
			}
			channel, _ := claims["channel"].(string)
			if channel == "" {
				channel = "web"
			}

			ident := Identity{UserID: sub, Channel: channel, Token: raw}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, ident)))
		})
	}
}

// AnonymousID reads the anonymous session id header. Server-minted ids
// carry the "anon:" prefix; anything else is rejected so anonymous
// callers cannot address authenticated sessions.
func AnonymousID(r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get("X-Anonymous-Id"))
	if id == "" {
		return "", false
	}
	if !strings.HasPrefix(id, "anon:") {
		return "", false
	}
	return id, true
}

func identityFrom(r *http.Request) (Identity, bool) {
	ident, ok := r.Context().Value(identityKey).(Identity)
	return ident, ok
}
