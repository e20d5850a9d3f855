package trust

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustCommunityID(t *testing.T, value string) CommunityID {
	t.Helper()
	id, err := NewCommunityID(value)
	if err != nil {
		t.Fatalf("unexpected community id error: %v", err)
	}
	return id
}

func mustActionType(t *testing.T, value string) ActionType {
	t.Helper()
	actionType, err := NewActionType(value)
	if err != nil {
		t.Fatalf("unexpected action type error: %v", err)
	}
	return actionType
}

func mustRequest(t *testing.T, userID, communityID, actionType string) ActionRequest {
	t.Helper()
	return ActionRequest{
		UserID:      mustUserID(t, userID),
		CommunityID: mustCommunityID(t, communityID),
		ActionType:  mustActionType(t, actionType),
	}
}

type staticIDGenerator struct {
	mu    sync.Mutex
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

// tickingClock advances one second per reading so ledger entries carry a
// strictly increasing created_at chain.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickingClock(start int64) *tickingClock {
	return &tickingClock{now: time.Unix(start, 0).UTC()}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.now
	c.now = c.now.Add(time.Second)
	return current
}

// mapCatalog is a fixed action catalog for tests.
type mapCatalog map[string]int64

func (m mapCatalog) PointsFor(actionType string) (int64, bool) {
	points, found := m[actionType]
	return points, found
}

// testCatalog carries the point values the product scenarios use.
var testCatalog = mapCatalog{
	"community.created":       1000,
	"member.joined":           50,
	"claim.created":           5,
	"claim.request.completed": 25,
	"event.going":             25,
	"event.attended":          50,
	"shoutout.sent":           5,
	"shoutout.received":       10,
}
