// Package auth guards the admin endpoints of corp-gateway.
//
// Admins authenticate with HS256 JWTs signed with auth.jwt_secret. Tokens
// carry the admin's name in "sub" and the "admin" role claim; they are minted
// with `corp-gateway token --name NAME`.
//
// Wallet owners never use tokens: they prove control by signing a challenge,
// which the identity package verifies.
//
// # HTTP
//
//	r.With(auth.RequireAdmin(verifier)).Delete("/api/wallets/{wallet}", h)
//
// Handlers read the caller with FromContext.
package auth
