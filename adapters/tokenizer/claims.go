package tokenizer

import "github.com/golang-jwt/jwt/v5"

// AccessClaims combines standard claims with pairing-specific ones
type AccessClaims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	ChainID   uint64 `json:"cid"`
}
