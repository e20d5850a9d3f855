package server

import (
	"context"
	"sync"
	"time"
)

const (
	RealtimeEventScoreChanged = "score-change"
	realtimeSourceBackend     = "gatherly-trust"
)

// ScoreUpdate notifies subscribers that a user's community score moved.
type ScoreUpdate struct {
	UserID      string
	CommunityID string
	ActionType  string
	EntryID     string
	Score       int64
	Inversed    bool
	Timestamp   time.Time
}

// RealtimeDispatcher fans score updates out to per-user subscribers. Slow
// subscribers drop messages rather than block the ledger path.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan ScoreUpdate
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a stream of score updates for the user until the
// context is cancelled or the cleanup function runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userID string) (<-chan ScoreUpdate, func()) {
	if userID == "" {
		ch := make(chan ScoreUpdate)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan ScoreUpdate, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(userID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the update to every subscriber of the affected user.
func (d *RealtimeDispatcher) Publish(update ScoreUpdate) {
	if update.UserID == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[update.UserID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- update:
		default:
		}
	}
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(userID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(userID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}
