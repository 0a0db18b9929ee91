package ports

import (
	"context"

	"github.com/layer-3/pairlink/core"
)

// BalanceReader reads account balances from one chain backend
type BalanceReader interface {
	Balance(ctx context.Context, account core.Account) (*core.Balance, error)
	TokenBalance(ctx context.Context, account core.Account, token core.Token) (*core.Balance, error)
}
