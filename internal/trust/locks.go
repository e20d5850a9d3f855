package trust

import "sync"

// pairLocks serializes ledger writes per (user, community) pair. Each pair
// gets its own mutex so unrelated pairs never contend; the registry mutex is
// held only for the map bookkeeping, never across a ledger write.
type pairLocks struct {
	mu    sync.Mutex
	locks map[string]*pairLock
}

type pairLock struct {
	mu   sync.Mutex
	refs int
}

func newPairLocks() *pairLocks {
	return &pairLocks{locks: make(map[string]*pairLock)}
}

// acquire blocks until the pair's mutex is held and returns the release
// function. Lock entries are reference counted and removed once idle so the
// registry does not grow with every pair ever written.
func (p *pairLocks) acquire(key string) func() {
	p.mu.Lock()
	lock, ok := p.locks[key]
	if !ok {
		lock = &pairLock{}
		p.locks[key] = lock
	}
	lock.refs++
	p.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()
		p.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(p.locks, key)
		}
		p.mu.Unlock()
	}
}

func pairKey(userID UserID, communityID CommunityID) string {
	return userID.String() + "\x00" + communityID.String()
}
