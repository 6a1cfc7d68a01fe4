package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lensworks/aperture/internal/ctxkeys"
	"github.com/lensworks/aperture/internal/model"
)

// Auth extracts the requester identity from a bearer token. Session issuance
// lives in the identity service; here we only verify the signature and carry
// the claims. A missing or invalid token degrades to the anonymous requester
// rather than rejecting the request, because public assets need no identity.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	secret := []byte(jwtSecret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			req, err := parseRequester(token, secret)
			if err != nil {
				// Invalid token, continue as anonymous
				next.ServeHTTP(w, r)
				return
			}

			ctx := ctxkeys.WithRequester(r.Context(), req)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	// Cookie fallback for browser clients
	if cookie, err := r.Cookie("auth_token"); err == nil {
		return cookie.Value
	}
	return ""
}

func parseRequester(token string, secret []byte) (model.Requester, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !parsed.Valid {
		return model.Anonymous, err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return model.Anonymous, fmt.Errorf("unexpected claims type")
	}

	userID, _ := claims["user_id"].(string)
	if userID == "" {
		return model.Anonymous, fmt.Errorf("missing user_id claim")
	}
	admin, _ := claims["admin"].(bool)

	return model.Requester{UserID: userID, Admin: admin}, nil
}

// RequireAuth rejects anonymous requesters with a 401.
func RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ctxkeys.Requester(r.Context()).IsAnonymous() {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	}
}
