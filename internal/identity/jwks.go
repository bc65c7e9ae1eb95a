package identity

import (
	"crypto/rsa"
	"encoding/base64"
	"math/big"
	"net/http"

	"github.com/gin-gonic/gin"
)

// JWKSet is a JSON Web Key Set (RFC 7517).
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// JWK is a JSON Web Key for an RSA public key.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSHandler serves the session verification key at /.well-known/jwks.json.
func JWKSHandler(sessions *SessionIssuer) gin.HandlerFunc {
	jwk := rsaPublicKeyToJWK(sessions.PublicKey(), sessions.kid)
	return func(c *gin.Context) {
		c.Header("Cache-Control", "public, max-age=3600")
		c.JSON(http.StatusOK, JWKSet{Keys: []JWK{jwk}})
	}
}

// rsaPublicKeyToJWK encodes pub as a signing JWK. Modulus and exponent are
// unsigned big-endian with no leading zero bytes (RFC 7518 section 6.3.1).
func rsaPublicKeyToJWK(pub *rsa.PublicKey, kid string) JWK {
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: kid,
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}
