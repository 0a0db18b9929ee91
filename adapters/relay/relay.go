package relay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/pairlink/core"
	"github.com/layer-3/pairlink/ports"
)

const approveTopicPrefix = "pairlink.approve."

// Config controls the pairing URIs the relay hands out
type Config struct {
	Scheme     string
	Protocol   string
	PairingTTL time.Duration
	// Janitor, when set, bounds and removes the per-topic streams that
	// carry approvals
	Janitor Janitor
}

// DefaultConfig returns a wallet-connect style URI configuration
func DefaultConfig() Config {
	return Config{
		Scheme:     "wc",
		Protocol:   "irn",
		PairingTTL: 5 * time.Minute,
	}
}

// ApprovalRequest is what the peer wallet sends after scanning the pairing URI
type ApprovalRequest struct {
	Address     string `json:"address" binding:"required"`
	ChainID     uint64 `json:"chain_id" binding:"required"`
	DisplayName string `json:"display_name"`
	Code        string `json:"code" binding:"required"`
	Signature   string `json:"signature" binding:"required"`
}

type approvalMessage struct {
	Account core.Account `json:"account"`
	Code    string       `json:"code"`
}

// Relay is a Connector that pairs over a Watermill pub/sub. Peer approvals
// published by any instance reach the channel subscribed to the topic.
type Relay struct {
	cfg        Config
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     watermill.LoggerAdapter
}

// New creates a new relay
func New(cfg Config, publisher message.Publisher, subscriber message.Subscriber, logger watermill.LoggerAdapter) *Relay {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Relay{
		cfg:        cfg,
		publisher:  publisher,
		subscriber: subscriber,
		logger:     logger.With(watermill.LogFields{"component": "relay"}),
	}
}

var _ ports.Connector = (*Relay)(nil)

// Open subscribes to approvals for topic and returns the pairing channel
func (r *Relay) Open(ctx context.Context, topic string) (ports.PairingChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The channel outlives the request that opened it
	subCtx, cancel := context.WithCancel(context.Background())
	messages, err := r.subscriber.Subscribe(subCtx, approveTopicPrefix+topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to pairing topic: %w", err)
	}

	ch := &channel{
		uri:       r.pairingURI(topic),
		stream:    approveTopicPrefix + topic,
		approvals: make(chan core.Account, 1),
		cancel:    cancel,
		janitor:   r.cfg.Janitor,
		logger:    r.logger.With(watermill.LogFields{"topic": topic}),
	}
	go ch.run(messages)

	return ch, nil
}

// Approve validates a peer approval and forwards it to the pairing channel
func (r *Relay) Approve(ctx context.Context, topic string, req ApprovalRequest) error {
	if err := core.ValidateCode(req.Code); err != nil {
		return err
	}
	if !common.IsHexAddress(req.Address) {
		return core.ErrInvalidAddress
	}

	address := common.HexToAddress(req.Address)
	if err := VerifySignature(SigningMessage(topic), req.Signature, address); err != nil {
		return err
	}

	payload, err := json.Marshal(approvalMessage{
		Account: core.Account{
			Address:     address.Hex(),
			ChainID:     req.ChainID,
			DisplayName: req.DisplayName,
		},
		Code: req.Code,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal approval: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	stream := approveTopicPrefix + topic
	if err := r.publisher.Publish(stream, msg); err != nil {
		return fmt.Errorf("failed to publish approval: %w", err)
	}

	// an approval for a pairing nobody closes must not linger
	if r.cfg.Janitor != nil {
		ttl := r.cfg.PairingTTL
		if ttl <= 0 {
			ttl = DefaultConfig().PairingTTL
		}
		if err := r.cfg.Janitor.Expire(ctx, stream, ttl); err != nil {
			r.logger.Error("Failed to bound approval stream", err, watermill.LogFields{"topic": topic})
		}
	}

	r.logger.Debug("Pairing approved by peer", watermill.LogFields{"topic": topic, "address": address.Hex()})
	return nil
}

func (r *Relay) pairingURI(topic string) string {
	q := url.Values{}
	q.Set("relay-protocol", r.cfg.Protocol)
	if r.cfg.PairingTTL > 0 {
		q.Set("expiryTimestamp", fmt.Sprint(time.Now().Add(r.cfg.PairingTTL).Unix()))
	}
	return fmt.Sprintf("%s:%s@2?%s", r.cfg.Scheme, topic, q.Encode())
}

type channel struct {
	uri       string
	stream    string
	approvals chan core.Account
	cancel    context.CancelFunc
	janitor   Janitor
	logger    watermill.LoggerAdapter

	mu        sync.Mutex
	code      string
	approved  bool
	closeOnce sync.Once
}

func (c *channel) run(messages <-chan *message.Message) {
	defer close(c.approvals)

	for msg := range messages {
		var m approvalMessage
		if err := json.Unmarshal(msg.Payload, &m); err != nil {
			c.logger.Error("Dropping malformed approval", err, nil)
			msg.Ack()
			continue
		}

		c.mu.Lock()
		if c.approved {
			c.mu.Unlock()
			c.logger.Info("Ignoring repeated approval", watermill.LogFields{"address": m.Account.Address})
			msg.Ack()
			continue
		}
		c.approved = true
		c.code = m.Code
		c.mu.Unlock()

		msg.Ack()
		c.approvals <- m.Account
	}
}

func (c *channel) URI() string {
	return c.uri
}

func (c *channel) Approvals() <-chan core.Account {
	return c.approvals
}

// Confirm compares codes case-insensitively in constant time
func (c *channel) Confirm(ctx context.Context, code string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	issued, approved := c.code, c.approved
	c.mu.Unlock()

	if !approved {
		return core.ErrInvalidState
	}

	if subtle.ConstantTimeCompare([]byte(strings.ToUpper(issued)), []byte(strings.ToUpper(code))) != 1 {
		return core.ErrVerificationFailed
	}

	return nil
}

// Close stops listening and removes the approval stream with the code in it
func (c *channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.janitor != nil {
			if ferr := c.janitor.Forget(context.Background(), c.stream); ferr != nil {
				err = fmt.Errorf("failed to remove approval stream: %w", ferr)
			}
		}
	})
	return err
}
