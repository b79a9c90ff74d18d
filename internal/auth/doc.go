// Package auth provides authentication and authorization for the mealdesk
// chat gateway.
//
// # Tokens
//
// Customers and agents authenticate with HS256 JWTs signed with the
// configured jwt_secret. A token carries:
//
//   - sub: the principal ID. A customer's ID is also their room ID.
//   - role: "customer" or "agent"
//   - iat / exp: issue and expiry times
//
// Tokens are minted by the gateway's "token" command:
//
//	verifier, err := auth.NewJWTVerifier(secret)
//	token, err := verifier.Generate("cust-42", store.RoleCustomer, 24*time.Hour)
//
// # HTTP Middleware
//
// HTTPAuthMiddleware accepts the token as "Authorization: Bearer <jwt>" or,
// for websocket upgrades, as the "token" query parameter. The verified
// identity is stored in the request context:
//
//	authCtx := auth.FromContext(r.Context())
//
// RequireRoomAccess then limits customers to their own room while agents
// may open any room.
package auth
