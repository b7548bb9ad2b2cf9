// Package journal is the write-only record of everything the gateway produced,
// kept in a gowal write-ahead log.
package journal

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/events"
	"github.com/vadiminshakov/gowal"
)

const (
	defaultDir   = "./wal/journal"
	segmentLimit = 1000
	maxSegments  = 100
	keyPrefix    = "event_"
	// maxPrealloc bounds the slice reserved for one read.
	maxPrealloc = 256
)

var ErrNotInitialized = errors.New("journal is not initialized")

// Record is an event with its WAL index.
type Record struct {
	Index uint64       `json:"index"`
	Event events.Event `json:"event"`
}

// WALStore appends events to the WAL.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore opens (or creates) the journal under dir.
func NewWALStore(dir string, syncWrites bool) (*WALStore, error) {
	if dir == "" {
		dir = defaultDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "journal_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: syncWrites,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init journal WAL")
	}
	return &WALStore{wal: wal}, nil
}

// Append writes the event and returns its index.
func (s *WALStore) Append(e events.Event) (uint64, error) {
	if s == nil || s.wal == nil {
		return 0, ErrNotInitialized
	}
	if e.Type == "" {
		return 0, errors.New("event type is required")
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return 0, errors.Wrap(err, "marshal event")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(next, keyPrefix+string(e.Type)+"_"+string(e.Exchange), payload); err != nil {
		return 0, errors.Wrap(err, "write event")
	}
	return next, nil
}

// RecordsAfter returns the events written after index, optionally only of the
// given types, and the last index it scanned. Readers resume from the scanned
// index so records skipped by the filter are not read again.
func (s *WALStore) RecordsAfter(index uint64, types ...events.Type) ([]Record, uint64, error) {
	if s == nil || s.wal == nil {
		return nil, index, ErrNotInitialized
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, index, nil
	}

	records := make([]Record, 0, min(current-index, maxPrealloc))
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := s.wal.Get(idx)
		if err != nil || !strings.HasPrefix(key, keyPrefix) || !wanted(key, types) {
			continue
		}
		var e events.Event
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, index, errors.Wrapf(err, "decode event %d", idx)
		}
		records = append(records, Record{Index: idx, Event: e})
	}
	return records, current, nil
}

func wanted(key string, types []events.Type) bool {
	if len(types) == 0 {
		return true
	}
	for _, t := range types {
		if strings.HasPrefix(key, keyPrefix+string(t)+"_") {
			return true
		}
	}
	return false
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return ErrNotInitialized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
