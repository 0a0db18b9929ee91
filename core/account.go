package core

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Token is a fungible token contract tracked on one chain
type Token struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int32  `json:"decimals"`
}

// Balance is the balance of an account on its chain. Token is empty for the
// native asset and holds the contract address otherwise.
type Balance struct {
	Account   Account         `json:"account"`
	Symbol    string          `json:"symbol"`
	Token     string          `json:"token,omitempty"`
	Decimals  int32           `json:"decimals"`
	Wei       *big.Int        `json:"wei"`
	Amount    decimal.Decimal `json:"amount"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// MarshalJSON encodes Wei as a decimal string so no client loses precision
func (b Balance) MarshalJSON() ([]byte, error) {
	type plain Balance
	wei := "0"
	if b.Wei != nil {
		wei = b.Wei.String()
	}
	return json.Marshal(struct {
		plain
		Wei string `json:"wei"`
	}{plain(b), wei})
}

// NewBalance converts a base-unit amount into a decimal amount
func NewBalance(account Account, symbol string, decimals int32, wei *big.Int, at time.Time) *Balance {
	if wei == nil {
		wei = new(big.Int)
	}
	return &Balance{
		Account:   account,
		Symbol:    symbol,
		Decimals:  decimals,
		Wei:       wei,
		Amount:    decimal.NewFromBigInt(wei, -decimals),
		FetchedAt: at,
	}
}

// NewTokenBalance is NewBalance for a token contract
func NewTokenBalance(account Account, token Token, units *big.Int, at time.Time) *Balance {
	b := NewBalance(account, token.Symbol, token.Decimals, units, at)
	b.Token = token.Address
	return b
}

// Grant is an authenticated session as carried by an access token
type Grant struct {
	ID        string
	SessionID string
	Address   string
	ChainID   uint64
	IssuedAt  time.Time
	ExpiresAt time.Time
}
