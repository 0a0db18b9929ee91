package chain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/layer-3/pairlink/core"
	"github.com/layer-3/pairlink/ports"
)

const erc20ABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var erc20 = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

type balanceClient interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// EVMReader reads native and token balances from an EVM JSON-RPC endpoint
type EVMReader struct {
	client   balanceClient
	symbol   string
	decimals int32
}

var _ ports.BalanceReader = (*EVMReader)(nil)

// DialEVM connects to an EVM JSON-RPC endpoint
func DialEVM(ctx context.Context, rpcURL, symbol string, decimals int32) (*EVMReader, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}

	return &EVMReader{
		client:   client,
		symbol:   symbol,
		decimals: decimals,
	}, nil
}

// Balance returns the latest native balance of the account
func (r *EVMReader) Balance(ctx context.Context, account core.Account) (*core.Balance, error) {
	if !common.IsHexAddress(account.Address) {
		return nil, core.ErrInvalidAddress
	}

	wei, err := r.client.BalanceAt(ctx, common.HexToAddress(account.Address), nil)
	if err != nil {
		return nil, fmt.Errorf("eth_getBalance failed: %w", err)
	}

	return core.NewBalance(account, r.symbol, r.decimals, wei, time.Now().UTC()), nil
}

// TokenBalance calls balanceOf on the token contract for the account
func (r *EVMReader) TokenBalance(ctx context.Context, account core.Account, token core.Token) (*core.Balance, error) {
	if !common.IsHexAddress(account.Address) || !common.IsHexAddress(token.Address) {
		return nil, core.ErrInvalidAddress
	}

	data, err := erc20.Pack("balanceOf", common.HexToAddress(account.Address))
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf: %w", err)
	}

	contract := common.HexToAddress(token.Address)
	out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("eth_call balanceOf failed: %w", err)
	}

	values, err := erc20.Unpack("balanceOf", out)
	if err != nil {
		return nil, fmt.Errorf("%s is not a token contract: %w", contract.Hex(), err)
	}
	units, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result %T", values[0])
	}

	return core.NewTokenBalance(account, token, units, time.Now().UTC()), nil
}

// Close closes the RPC client
func (r *EVMReader) Close() {
	r.client.Close()
}

// IsTransient reports whether a failed RPC call is worth retrying
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= http.StatusInternalServerError ||
			httpErr.StatusCode == http.StatusTooManyRequests
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
