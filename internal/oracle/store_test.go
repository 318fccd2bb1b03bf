package oracle

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestReturnsMostRecentQuote(t *testing.T) {
	s := NewStore()
	s.Record(Quote{ChainID: "ethereum", Pair: "ETH/USD", Price: decimal.NewFromInt(2000), AsOf: time.Now(), Source: "MANUAL"})
	s.Record(Quote{ChainID: "ethereum", Pair: "ETH/USD", Price: decimal.NewFromInt(2100), AsOf: time.Now(), Source: "MANUAL"})

	q, err := s.Latest("ethereum", "ETH/USD")
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.NewFromInt(2100)))
}

func TestLatestUnknownPair(t *testing.T) {
	s := NewStore()
	_, err := s.Latest("ethereum", "ETH/USD")
	require.Error(t, err)
}

func TestHistoryFiltersByPair(t *testing.T) {
	s := NewStore()
	s.Record(Quote{ChainID: "ethereum", Pair: "ETH/USD", Price: decimal.NewFromInt(2000)})
	s.Record(Quote{ChainID: "bitcoin", Pair: "BTC/USD", Price: decimal.NewFromInt(60000)})

	history := s.History("ethereum", "ETH/USD")
	assert.Len(t, history, 1)
}
