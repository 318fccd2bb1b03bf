package store

import (
	"sync"

	"github.com/otcswap/broker/internal/payout"
)

// MemoryPayoutStore implements payout.Store in memory. Intents are not
// written to disk, so they do not survive a process restart; there is no
// file-backed payout store.
type MemoryPayoutStore struct {
	mu      sync.RWMutex
	intents map[string]*payout.Intent
}

func NewMemoryPayoutStore() *MemoryPayoutStore {
	return &MemoryPayoutStore{intents: make(map[string]*payout.Intent)}
}

func (s *MemoryPayoutStore) Save(i *payout.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *i
	s.intents[i.ID] = &cp
	return nil
}

func (s *MemoryPayoutStore) Get(id string) (*payout.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.intents[id]
	if !ok {
		return nil, nil
	}
	cp := *i
	return &cp, nil
}

func (s *MemoryPayoutStore) ListByQueueKey(queueKey string) ([]*payout.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*payout.Intent
	for _, i := range s.intents {
		if i.QueueKey() == queueKey {
			cp := *i
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ByDeal returns every intent belonging to dealID, used by the status
// projection's payouts[] field.
func (s *MemoryPayoutStore) ByDeal(dealID string) []*payout.Intent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*payout.Intent
	for _, i := range s.intents {
		if i.DealID == dealID {
			cp := *i
			out = append(out, &cp)
		}
	}
	return out
}
