package ports

import "github.com/layer-3/pairlink/core"

// Tokenizer converts between grants and access tokens
type Tokenizer interface {
	GrantToAccessToken(grant *core.Grant) (string, error)
	AccessTokenToGrant(token string) (*core.Grant, error)
}
