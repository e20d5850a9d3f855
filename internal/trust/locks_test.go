package trust

import (
	"sync"
	"testing"
)

func TestPairLocksSerializeSameKey(t *testing.T) {
	locks := newPairLocks()
	const workers = 32

	counter := 0
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			release := locks.acquire("user-1\x00community-1")
			counter++
			release()
		}()
	}
	wg.Wait()

	if counter != workers {
		t.Fatalf("expected counter %d, got %d", workers, counter)
	}
}

func TestPairLocksIndependentKeysDoNotBlock(t *testing.T) {
	locks := newPairLocks()

	releaseFirst := locks.acquire("user-1\x00community-1")
	defer releaseFirst()

	acquired := make(chan struct{})
	go func() {
		release := locks.acquire("user-1\x00community-2")
		release()
		close(acquired)
	}()

	<-acquired
}

func TestPairLocksReleaseRemovesIdleEntry(t *testing.T) {
	locks := newPairLocks()

	release := locks.acquire("user-1\x00community-1")
	release()

	locks.mu.Lock()
	remaining := len(locks.locks)
	locks.mu.Unlock()

	if remaining != 0 {
		t.Fatalf("expected idle lock entry to be removed, %d remain", remaining)
	}
}

func TestPairKeyDistinguishesPairs(t *testing.T) {
	a := pairKey(UserID("user-1"), CommunityID("community-1"))
	b := pairKey(UserID("user-1"), CommunityID("community-2"))
	c := pairKey(UserID("user-2"), CommunityID("community-1"))

	if a == b || a == c || b == c {
		t.Fatalf("pair keys must be distinct: %q %q %q", a, b, c)
	}
}
