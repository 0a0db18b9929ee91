package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/pairlink/core"
	"github.com/layer-3/pairlink/ports"
)

// Backend is the chain endpoint that serves accounts of one chain ID
type Backend struct {
	Name      string
	Reader    ports.BalanceReader
	Tokens    []core.Token
	Retry     RetryPolicy
	Transient func(error) bool
}

// Identity is how an account is displayed
type Identity struct {
	Address     string `json:"address"`
	DisplayName string `json:"display_name,omitempty"`
	ChainID     uint64 `json:"chain_id"`
	ChainName   string `json:"chain_name,omitempty"`
}

// Dashboard is the account overview shown after authentication. A failed
// lookup leaves its field empty and explains itself in the matching error.
type Dashboard struct {
	Identity     Identity        `json:"identity"`
	Balance      *core.Balance   `json:"balance,omitempty"`
	BalanceError string          `json:"balance_error,omitempty"`
	Tokens       []*core.Balance `json:"tokens,omitempty"`
	TokensError  string          `json:"tokens_error,omitempty"`
}

// Aggregator answers read-only account queries, whichever chain backs them
type Aggregator struct {
	logger watermill.LoggerAdapter

	mu       sync.RWMutex
	backends map[uint64]Backend
}

// NewAggregator creates an aggregator with no backends
func NewAggregator(logger watermill.LoggerAdapter) *Aggregator {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Aggregator{
		logger:   logger.With(watermill.LogFields{"component": "aggregator"}),
		backends: make(map[uint64]Backend),
	}
}

// Register sets the backend for a chain ID
func (a *Aggregator) Register(chainID uint64, backend Backend) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.backends[chainID] = backend
}

// FetchBalance reads the account balance, retrying transient upstream
// failures under the backend's policy.
func (a *Aggregator) FetchBalance(ctx context.Context, account core.Account) (*core.Balance, error) {
	backend, ok := a.backend(account.ChainID)
	if !ok {
		return nil, fmt.Errorf("chain %d: %w", account.ChainID, core.ErrUnsupportedChain)
	}

	var balance *core.Balance
	err := a.query(ctx, backend, func(ctx context.Context) error {
		var err error
		balance, err = backend.Reader.Balance(ctx, account)
		return err
	})
	if err != nil {
		return nil, err
	}

	return balance, nil
}

// FetchTokenBalances reads the account's balance of every token tracked on
// its chain. Each token is its own query under the backend's policy.
func (a *Aggregator) FetchTokenBalances(ctx context.Context, account core.Account) ([]*core.Balance, error) {
	backend, ok := a.backend(account.ChainID)
	if !ok {
		return nil, fmt.Errorf("chain %d: %w", account.ChainID, core.ErrUnsupportedChain)
	}

	balances := make([]*core.Balance, 0, len(backend.Tokens))
	for _, token := range backend.Tokens {
		var balance *core.Balance
		err := a.query(ctx, backend, func(ctx context.Context) error {
			var err error
			balance, err = backend.Reader.TokenBalance(ctx, account, token)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", token.Symbol, err)
		}
		balances = append(balances, balance)
	}

	return balances, nil
}

// query runs op under the backend's retry policy. Transient failures that
// outlast it surface as ErrUpstreamUnavailable.
func (a *Aggregator) query(ctx context.Context, backend Backend, op func(ctx context.Context) error) error {
	attempts, err := backend.Retry.Do(ctx, op, backend.Transient)
	if err == nil {
		return nil
	}

	if ctx.Err() == nil && backend.Transient != nil && backend.Transient(err) {
		a.logger.Error("Upstream unavailable", err, watermill.LogFields{
			"endpoint": backend.Name,
			"attempts": attempts,
		})
		return fmt.Errorf("%s after %d attempts: %w: %w", backend.Name, attempts, core.ErrUpstreamUnavailable, err)
	}
	return err
}

// Identity describes the account without any network call
func (a *Aggregator) Identity(account core.Account) Identity {
	id := Identity{
		Address:     account.Address,
		DisplayName: account.DisplayName,
		ChainID:     account.ChainID,
	}
	if common.IsHexAddress(account.Address) {
		id.Address = common.HexToAddress(account.Address).Hex()
	}
	if backend, ok := a.backend(account.ChainID); ok {
		id.ChainName = backend.Name
	}
	return id
}

// Dashboard combines identity, balance and token balances, degrading each
// lookup on its own when it fails
func (a *Aggregator) Dashboard(ctx context.Context, account core.Account) Dashboard {
	d := Dashboard{Identity: a.Identity(account)}

	balance, err := a.FetchBalance(ctx, account)
	if err != nil {
		a.logLookupFailure("Balance", account, err)
		d.BalanceError = core.UserMessage(err)
	} else {
		d.Balance = balance
	}

	tokens, err := a.FetchTokenBalances(ctx, account)
	if err != nil {
		a.logLookupFailure("Token balance", account, err)
		d.TokensError = core.UserMessage(err)
	} else if len(tokens) > 0 {
		d.Tokens = tokens
	}

	return d
}

func (a *Aggregator) logLookupFailure(what string, account core.Account, err error) {
	// upstream failures were logged with their attempts already
	if errors.Is(err, core.ErrUpstreamUnavailable) {
		return
	}
	a.logger.Error(what+" lookup failed", err, watermill.LogFields{"chain_id": account.ChainID})
}

func (a *Aggregator) backend(chainID uint64) (Backend, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	b, ok := a.backends[chainID]
	return b, ok
}
