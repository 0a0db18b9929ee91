package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/layer-3/pairlink/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSessionEvent(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	messages, err := pubSub.Subscribe(ctx, SessionTopic)
	require.NoError(t, err)

	event := core.SessionEvent{
		Type:      core.EventScanned,
		SessionID: "sess-1",
		Topic:     "abc123",
		Address:   "0x00000000000000000000000000000000000000aa",
		At:        time.Now().UTC(),
	}
	require.NoError(t, NewWatermillPublisher(pubSub).PublishSessionEvent(ctx, event))

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, "sess-1", msg.Metadata.Get("session_id"))
		assert.Equal(t, "scanned", msg.Metadata.Get("type"))

		var got core.SessionEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		assert.Equal(t, event.Type, got.Type)
		assert.Equal(t, event.Address, got.Address)
	case <-ctx.Done():
		t.Fatal("event was not delivered")
	}
}
