// Package identity issues and verifies picshare session tokens.
//
// It provides:
//   - KeyManager    : creates/loads the RSA key that signs session tokens
//   - SessionIssuer : issues and verifies RS256 session JWTs
//   - RequireAccount: Gin middleware that resolves the Bearer token to an account
//   - JWKSHandler   : publishes the verification key as a JSON Web Key Set
package identity
