package restapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/kartnagrale/relaychat/internal/chattypes"
)

type contextKey string

const userIDKey contextKey = "userID"

// requireAuth is adapted from the teacher's middleware/auth.go: it
// validates an Authorization: Bearer <token> header against the same
// HS256-signed, "sub" claim token shape identity.LocalServer issues, and
// stores the resolved user id in the request context. Mutating room
// endpoints run behind it; read endpoints stay open the way the
// teacher's public product/auction GETs do.
func requireAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			tokenStr := strings.TrimPrefix(header, "Bearer ")

			token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid or expired token", http.StatusUnauthorized)
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				http.Error(w, "invalid token claims", http.StatusUnauthorized)
				return
			}
			sub, _ := claims["sub"].(string)
			id, err := strconv.ParseUint(sub, 10, 32)
			if err != nil {
				http.Error(w, "invalid token subject", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, chattypes.UserID(id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// userIDFromContext extracts the id requireAuth stored in the context.
func userIDFromContext(ctx context.Context) (chattypes.UserID, bool) {
	id, ok := ctx.Value(userIDKey).(chattypes.UserID)
	return id, ok
}
