package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	received := make(chan *Message, 1)
	sub, err := b.Subscribe(ctx, "pitchlab.deploy.prompt_variant", func(msg *Message) {
		received <- msg
	})
	require.NoError(t, err)
	assert.Equal(t, "pitchlab.deploy.prompt_variant", sub.Subject())

	require.NoError(t, b.Publish(ctx, "pitchlab.deploy.prompt_variant", []byte("winner")))

	select {
	case msg := <-received:
		assert.Equal(t, []byte("winner"), msg.Data)
		assert.Equal(t, "pitchlab.deploy.prompt_variant", msg.Subject)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestMemoryBus_ExactSubjectOnly(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	_, err := b.Subscribe(ctx, "a.b", func(*Message) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "a.c", []byte("x")))
	require.NoError(t, b.Publish(ctx, "a.b", []byte("y")))
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()
	ctx := context.Background()

	received := make(chan *Message, 4)
	sub, err := b.Subscribe(ctx, "s", func(msg *Message) { received <- msg })
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())

	require.NoError(t, b.Publish(ctx, "s", []byte("x")))
	b.Close()
	assert.Empty(t, received)
}

func TestMemoryBus_ClosedRejectsOperations(t *testing.T) {
	b := NewMemoryBus()
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(context.Background(), "s", nil), ErrClosed)
	_, err := b.Subscribe(context.Background(), "s", func(*Message) {})
	assert.ErrorIs(t, err, ErrClosed)

	// Closing twice is harmless.
	assert.NoError(t, b.Close())
}

func TestMemoryBus_CloseWaitsForInFlightDeliveries(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	delivered := false
	_, err := b.Subscribe(ctx, "slow", func(*Message) {
		time.Sleep(50 * time.Millisecond)
		delivered = true
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "slow", []byte("x")))
	require.NoError(t, b.Close())
	assert.True(t, delivered, "Close should drain in-flight deliveries")
}
