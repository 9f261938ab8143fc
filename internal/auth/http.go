// ABOUTME: HTTP middleware for JWT authentication on chat endpoints
// ABOUTME: Accepts a Bearer header or ?token= query parameter and resolves the user

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/2389/giftbox-chat/internal/directory"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// requestToken returns the request's token. EventSource clients cannot set
// headers, so the token query parameter is accepted when no header is sent.
func requestToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, ""
		}
	}
	return extractBearerToken(header)
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// HTTPAuthMiddleware creates an HTTP middleware that validates the JWT and
// resolves the user through the directory. Unknown users are rejected.
func HTTPAuthMiddleware(users directory.Users, verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := requestToken(r)
			if errMsg != "" {
				writeAuthError(w, http.StatusUnauthorized, errMsg)
				return
			}

			userID, err := verifier.Verify(token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, ErrExpiredToken) {
					msg = "token expired"
				}
				writeAuthError(w, http.StatusUnauthorized, msg)
				return
			}

			user, err := users.GetUser(r.Context(), userID)
			if err != nil {
				if errors.Is(err, directory.ErrNotFound) {
					writeAuthError(w, http.StatusUnauthorized, "user not found")
					return
				}
				logger.Error("user lookup failed", "user_id", userID, "error", err)
				writeAuthError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			authCtx := &AuthContext{UserID: user.ID, Name: user.Name, Email: user.Email}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}
