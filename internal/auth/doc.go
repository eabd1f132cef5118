// Package auth holds the credential-facing collaborators of the identity
// core:
//   - Identity records and the IdentityStore that persists them
//   - Argon2id credential hashing behind the CredentialVerifier interface
//   - Opaque 256-bit tokens, stored only as SHA-256 digests
//   - Short-lived HS256 access tokens bound to a server-side session
//
// Tenancy, roles and sessions live in their own packages; auth knows
// nothing about organizations beyond carrying an organization id in claims.
package auth
