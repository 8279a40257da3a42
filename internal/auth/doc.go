// Package auth issues and verifies the bearer tokens of the operations API.
//
// Tokens are HS256 JWTs signed with the api.auth.jwt_secret setting. Each
// carries a role: viewers may read, operators may also trigger reloads.
// With no secret configured the API runs open, for trusted local networks.
package auth
