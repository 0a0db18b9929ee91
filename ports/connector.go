package ports

import (
	"context"

	"github.com/layer-3/pairlink/core"
)

// Connector opens pairing channels with a peer wallet
type Connector interface {
	// Open starts listening for the peer on topic
	Open(ctx context.Context, topic string) (PairingChannel, error)
}

// PairingChannel is one open pairing between this service and a peer wallet
type PairingChannel interface {
	// URI is the pairing payload the peer scans
	URI() string

	// Approvals delivers the account once the peer has scanned and approved
	Approvals() <-chan core.Account

	// Confirm checks a user-entered code against the code the peer issued
	Confirm(ctx context.Context, code string) error

	// Close releases the channel. It is safe to call more than once.
	Close() error
}
