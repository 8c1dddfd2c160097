package gateway

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// RequireAdmin gates a handler behind a bearer token checked against a
// bcrypt hash. An empty hash means the surface was never provisioned and
// stays closed.
func RequireAdmin(log *zap.Logger, tokenHash string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokenHash == "" {
			http.Error(w, "admin surface disabled", http.StatusForbidden)
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(token)) != nil {
			log.Warn("admin auth rejected", zap.String("remote", r.RemoteAddr))
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
