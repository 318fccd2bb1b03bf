// Package oracle is the append-only price quote store used to freeze
// FIXED_USD_NATIVE commissions and to serve admin.setPrice.
package oracle

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one recorded price observation for a (chainId, pair).
type Quote struct {
	ChainID string
	Pair    string
	Price   decimal.Decimal
	AsOf    time.Time
	Source  string // "MANUAL" for admin.setPrice, or a provider name
}

func key(chainID, pair string) string { return chainID + "|" + pair }

// Store is an append-only oracle quote log; readers see the latest quote per
// (chainId, pair).
type Store struct {
	mu     sync.RWMutex
	quotes []Quote
	latest map[string]Quote
}

func NewStore() *Store {
	return &Store{latest: make(map[string]Quote)}
}

// Record appends a new quote and updates the latest-by-pair index.
func (s *Store) Record(q Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes = append(s.quotes, q)
	s.latest[key(q.ChainID, q.Pair)] = q
}

// Latest returns the most recently recorded quote for (chainId, pair).
func (s *Store) Latest(chainID, pair string) (Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.latest[key(chainID, pair)]
	if !ok {
		return Quote{}, fmt.Errorf("oracle: no quote recorded for %s/%s", chainID, pair)
	}
	return q, nil
}

// History returns every quote recorded for (chainId, pair), oldest first.
func (s *Store) History(chainID, pair string) []Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Quote
	for _, q := range s.quotes {
		if q.ChainID == chainID && q.Pair == pair {
			out = append(out, q)
		}
	}
	return out
}
