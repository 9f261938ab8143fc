// Package auth authenticates chat requests.
//
// # JWT Tokens
//
// Users authenticate with HS256 JWTs signed with the configured jwt_secret
// (at least MinSecretLength bytes). The user ID is read from the "sub"
// claim, falling back to "id" for tokens minted by the marketplace API.
//
//	verifier, err := auth.NewJWTVerifier([]byte(secret))
//	token, err := verifier.Generate(userID, 24*time.Hour)
//
// # HTTP Middleware
//
// HTTPAuthMiddleware accepts the token from:
//
//   - Authorization: Bearer <token>
//   - ?token=<token> when no Authorization header is present (EventSource
//     clients cannot set headers)
//
// The user must exist in the user directory. On success an AuthContext is
// attached to the request context:
//
//	authCtx := auth.FromContext(r.Context())
package auth
