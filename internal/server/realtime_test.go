package server

import (
	"context"
	"testing"
	"time"
)

func TestRealtimeDispatcherDeliversToSubscriber(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-1")
	defer cleanup()

	dispatcher.Publish(ScoreUpdate{
		UserID:      "user-1",
		CommunityID: "community-1",
		Score:       50,
		Timestamp:   time.Unix(1700000000, 0).UTC(),
	})

	select {
	case update := <-stream:
		if update.CommunityID != "community-1" || update.Score != 50 {
			t.Fatalf("unexpected update %#v", update)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected update delivery")
	}
}

func TestRealtimeDispatcherIsolatesUsers(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "user-2")
	defer cleanup()

	dispatcher.Publish(ScoreUpdate{UserID: "user-1", Score: 50})

	select {
	case update := <-stream:
		t.Fatalf("unexpected cross-user delivery: %#v", update)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRealtimeDispatcherDropsWhenBufferFull(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, cleanup := dispatcher.Subscribe(ctx, "user-1")
	defer cleanup()

	for i := 0; i < 64; i++ {
		dispatcher.Publish(ScoreUpdate{UserID: "user-1", Score: int64(i)})
	}
	// Publishing past the buffer must not block; reaching here is the assertion.
}

func TestRealtimeDispatcherCleanupRemovesSubscriber(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()

	_, cleanup := dispatcher.Subscribe(context.Background(), "user-1")
	cleanup()

	dispatcher.mu.RLock()
	remaining := len(dispatcher.subscribers)
	dispatcher.mu.RUnlock()
	if remaining != 0 {
		t.Fatalf("expected subscriber map to be empty, %d remain", remaining)
	}
}

func TestRealtimeDispatcherEmptyUserID(t *testing.T) {
	dispatcher := NewRealtimeDispatcher()

	stream, cleanup := dispatcher.Subscribe(context.Background(), "")
	defer cleanup()

	if _, open := <-stream; open {
		t.Fatalf("expected closed stream for empty user id")
	}
}
