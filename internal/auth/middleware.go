package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"
)

type claimsKey struct{}

var errNoBearer = errors.New("missing or malformed Authorization header")

// IsAdmin guards the registry maintenance endpoints.
func IsAdmin(next http.Handler) http.Handler {
	return RequireRole(RoleAdmin)(next)
}

// RequireRole answers 401 for a missing or invalid bearer token and 403 when
// the token carries another role. Accepted claims are stored on the request
// context.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := bearerClaims(r.Header.Get("Authorization"))
			if err != nil {
				log.Debug("auth: rejected token", "path", r.URL.Path, "error", err)
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			if got, _ := claims["role"].(string); got != role {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

// Subject returns the "sub" claim of the token that authorized r.
func Subject(r *http.Request) string {
	claims, _ := r.Context().Value(claimsKey{}).(jwt.MapClaims)
	sub, _ := claims["sub"].(string)
	return sub
}

func bearerClaims(header string) (jwt.MapClaims, error) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, errNoBearer
	}
	return ValidateJWT(token)
}
