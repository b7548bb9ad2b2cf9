package journal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/exgate/internal/domain"
	"github.com/vadiminshakov/exgate/internal/events"
)

func TestWALStore_AppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	s, err := NewWALStore(dir, false)
	require.NoError(t, err)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	i1, err := s.Append(events.Event{
		Type: events.TypeTicker, Exchange: domain.Binance, Timestamp: ts,
		Ticker: &domain.Ticker{Exchange: domain.Binance, Symbol: "BTC/USDT", LastPrice: decimal.NewFromInt(100)},
	})
	require.NoError(t, err)
	i2, err := s.Append(events.Event{
		Type: events.TypeConnectivity, Exchange: domain.OKX, Timestamp: ts,
		Connectivity: &domain.ConnectivityEvent{Exchange: domain.OKX, From: domain.StateConnecting, To: domain.StateConnected},
	})
	require.NoError(t, err)
	assert.Equal(t, i1+1, i2)
	assert.Equal(t, i2, s.CurrentIndex())

	all, scanned, err := s.RecordsAfter(0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, i2, scanned)
	assert.True(t, decimal.NewFromInt(100).Equal(all[0].Event.Ticker.LastPrice))

	onlyConn, _, err := s.RecordsAfter(0, events.TypeConnectivity)
	require.NoError(t, err)
	require.Len(t, onlyConn, 1)
	assert.Equal(t, domain.StateConnected, onlyConn[0].Event.Connectivity.To)

	none, scanned, err := s.RecordsAfter(i2)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.Equal(t, i2, scanned)

	require.NoError(t, s.Close())

	reopened, err := NewWALStore(dir, false)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, i2, reopened.CurrentIndex())
}

func TestWALStore_FilteredReadAdvancesPastSkipped(t *testing.T) {
	s, err := NewWALStore(t.TempDir(), false)
	require.NoError(t, err)
	defer s.Close()

	var last uint64
	for i := 0; i < 5; i++ {
		last, err = s.Append(events.Event{Type: events.TypeTicker, Exchange: domain.Binance})
		require.NoError(t, err)
	}

	records, scanned, err := s.RecordsAfter(0, events.TypeOrder)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, last, scanned, "cursor moves even when nothing matched")

	order, err := s.Append(events.Event{Type: events.TypeOrder, Exchange: domain.Binance})
	require.NoError(t, err)
	records, scanned, err = s.RecordsAfter(scanned, events.TypeOrder)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, order, records[0].Index)
	assert.Equal(t, order, scanned)
}

func TestWALStore_RejectsUntyped(t *testing.T) {
	s, err := NewWALStore(t.TempDir(), false)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Append(events.Event{})
	assert.Error(t, err)
}

func TestWALStore_Nil(t *testing.T) {
	var s *WALStore
	_, err := s.Append(events.Event{Type: events.TypeOrder})
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Equal(t, uint64(0), s.CurrentIndex())
}
