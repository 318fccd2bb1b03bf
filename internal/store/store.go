// Package store defines the persistence contracts for deals and party
// tokens, independent of the backing implementation (in-memory for tests,
// file-backed for a running broker).
package store

import (
	"errors"
	"time"

	"github.com/otcswap/broker/internal/deal"
)

// ErrNotFound is returned when a lookup misses.
var ErrNotFound = errors.New("store: not found")

// ErrVersionConflict is returned by Save when the caller's in-memory Deal is
// stale relative to what's persisted, the optimistic-concurrency signal that
// the caller must reload and retry its transition.
var ErrVersionConflict = errors.New("store: version conflict")

// DealStore persists Deal aggregates with optimistic concurrency on
// Deal.Version.
type DealStore interface {
	Create(d *deal.Deal) error
	Get(id string) (*deal.Deal, error)
	// Save persists d unless the stored deal has a higher Version than d.
	// Save does not change Version; Deal's mutation methods increment it.
	// Callers that get ErrVersionConflict must re-read and redo their
	// transition.
	Save(d *deal.Deal) error
	// Active returns every deal not in a terminal stage, or within the 24h
	// post-closure surveillance window.
	Active(now time.Time) ([]*deal.Deal, error)
}

// Token is a party-link authentication token.
type Token struct {
	Token     string
	DealID    string
	Party     deal.Side
	CreatedAt time.Time
	UsedAt    *time.Time
}

// TokenStore persists the 128-bit party link tokens minted by
// otc.createDeal and consumed by fillPartyDetails/cancelDeal.
type TokenStore interface {
	Create(t *Token) error
	Get(token string) (*Token, error)
	MarkUsed(token string, at time.Time) error
}
