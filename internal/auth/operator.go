package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/leeforge/framework/http/responder"
	"go.uber.org/zap"
)

// RequireOperator admits requests carrying an HS256 bearer token signed with
// secret. Tokens must carry an expiry.
func RequireOperator(secret []byte, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				responder.Unauthorized(w, r, "Missing bearer token")
				return
			}
			token, err := parser.Parse(raw, keyFunc)
			if err != nil || !token.Valid {
				logger.Warn("operator token rejected", zap.String("path", r.URL.Path), zap.Error(err))
				responder.Unauthorized(w, r, "Invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
