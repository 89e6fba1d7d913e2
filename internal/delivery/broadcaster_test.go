// ABOUTME: Tests for the in-memory fan-out broadcaster
// ABOUTME: Covers subscribe, publish, unsubscribe, context cancellation, concurrency

package delivery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/servilocal/mensajeria/internal/store"
)

func makeMessage(id, conversationID string) *store.Message {
	return &store.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       "u1",
		Content:        "hola desde " + id,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestBroadcaster_SingleSubscriberReceivesMessage(t *testing.T) {
	b := NewMemoryBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()

	ch, _ := b.Subscribe(ctx, "conv-1")

	b.Publish(ctx, "conv-1", makeMessage("msg-1", "conv-1"))

	select {
	case received := <-ch:
		assert.Equal(t, "msg-1", received.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestBroadcaster_MultipleSubscribersReceiveSameMessage(t *testing.T) {
	b := NewMemoryBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()

	ch1, _ := b.Subscribe(ctx, "conv-1")
	ch2, _ := b.Subscribe(ctx, "conv-1")
	ch3, _ := b.Subscribe(ctx, "conv-1")

	b.Publish(ctx, "conv-1", makeMessage("msg-2", "conv-1"))

	for i, ch := range []<-chan *store.Message{ch1, ch2, ch3} {
		select {
		case received := <-ch:
			assert.Equal(t, "msg-2", received.ID, "subscriber %d got wrong message", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_ConversationsAreIsolated(t *testing.T) {
	b := NewMemoryBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()

	ch1, _ := b.Subscribe(ctx, "conv-1")
	ch2, _ := b.Subscribe(ctx, "conv-2")

	b.Publish(ctx, "conv-1", makeMessage("msg-3", "conv-1"))

	select {
	case received := <-ch1:
		assert.Equal(t, "msg-3", received.ID)
	case <-time.After(time.Second):
		t.Fatal("subscriber for conv-1 timed out")
	}

	select {
	case <-ch2:
		t.Fatal("subscriber for conv-2 should not receive conv-1 messages")
	case <-time.After(100 * time.Millisecond):
		// Expected: no message
	}
}

func TestBroadcaster_PreservesPublishOrder(t *testing.T) {
	b := NewMemoryBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	ch, _ := b.Subscribe(ctx, "conv-1")

	for i := 0; i < 10; i++ {
		b.Publish(ctx, "conv-1", makeMessage(fmt.Sprintf("msg-%d", i), "conv-1"))
	}

	for i := 0; i < 10; i++ {
		select {
		case received := <-ch:
			assert.Equal(t, fmt.Sprintf("msg-%d", i), received.ID, "out of order at %d", i)
		case <-time.After(time.Second):
			t.Fatalf("timed out at message %d", i)
		}
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewMemoryBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(context.Background(), "conv-1")

	b.Unsubscribe("conv-1", subID)

	select {
	case _, open := <-ch:
		assert.False(t, open, "channel should be closed after unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic
	b.Publish(context.Background(), "conv-1", makeMessage("msg-x", "conv-1"))
}

func TestBroadcaster_ContextCancellationCleansUp(t *testing.T) {
	b := NewMemoryBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "conv-1")

	cancel()

	// The cleanup goroutine closes the channel shortly after cancellation
	select {
	case _, open := <-ch:
		assert.False(t, open, "channel should be closed after context cancellation")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancellation")
	}
}

func TestBroadcaster_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewMemoryBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	_, _ = b.Subscribe(ctx, "conv-1")

	// Overfill the subscriber buffer; publish must never block
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.Publish(ctx, "conv-1", makeMessage(fmt.Sprintf("msg-%d", i), "conv-1"))
		}
		close(done)
	}()

	select {
	case <-done:
		// Publish completed despite a full buffer
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestBroadcaster_ConcurrentSubscribePublish(t *testing.T) {
	b := NewMemoryBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			subCtx, subCancel := context.WithCancel(ctx)
			ch, _ := b.Subscribe(subCtx, "conv-1")
			subCancel()
			// Drain until the cancellation cleanup closes the channel
			for range ch {
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			b.Publish(ctx, "conv-1", makeMessage(fmt.Sprintf("msg-%d", i), "conv-1"))
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent subscribe/publish deadlocked")
	}
}

// Publishers must never hit a closed channel, no matter how viewers come and
// go: Unsubscribe closes channels under the write lock while Publish sends
// under the read lock, so the two can never interleave.
func TestBroadcaster_PublishDuringUnsubscribeChurn(t *testing.T) {
	b := NewMemoryBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	stop := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := makeMessage(fmt.Sprintf("msg-%d", i), "conv-1")
			for {
				select {
				case <-stop:
					return
				default:
					b.Publish(ctx, "conv-1", msg)
				}
			}
		}(i)
	}

	// Churn subscriptions while the publishers run. Each cancel triggers the
	// cleanup goroutine that closes the subscriber channel.
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		subCtx, subCancel := context.WithCancel(ctx)
		ch, subID := b.Subscribe(subCtx, "conv-1")
		subCancel()
		b.Unsubscribe("conv-1", subID)
		for range ch {
		}
	}

	close(stop)
	wg.Wait()
}

func TestBroadcaster_CloseClosesAllSubscribers(t *testing.T) {
	b := NewMemoryBroadcaster(nil)

	ch1, _ := b.Subscribe(context.Background(), "conv-1")
	ch2, _ := b.Subscribe(context.Background(), "conv-2")

	assert.NoError(t, b.Close())

	for i, ch := range []<-chan *store.Message{ch1, ch2} {
		select {
		case _, open := <-ch:
			assert.False(t, open, "channel %d should be closed", i)
		case <-time.After(time.Second):
			t.Fatalf("channel %d not closed", i)
		}
	}
}
