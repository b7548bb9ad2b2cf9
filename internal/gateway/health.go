package gateway

import (
	"sync"
	"time"

	"github.com/vadiminshakov/exgate/internal/domain"
)

// record holds the mutable part of one adapter's health. State is not stored:
// it is read from the adapter at snapshot time.
type record struct {
	lastSuccess time.Time
	failures    int
	lastError   string
}

// registry is the gateway's health table.
type registry struct {
	mu      sync.RWMutex
	records map[domain.ExchangeID]*record
}

func newRegistry() *registry {
	return &registry{records: make(map[domain.ExchangeID]*record)}
}

func (r *registry) add(id domain.ExchangeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		r.records[id] = &record{}
	}
}

// observe applies a call outcome. Caller mistakes and abandoned calls are not
// adapter failures.
func (r *registry) observe(id domain.ExchangeID, err error, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return
	}
	if err == nil {
		rec.lastSuccess = now
		rec.failures = 0
		rec.lastError = ""
		return
	}
	switch domain.KindOf(err) {
	case domain.KindInvalidRequest, domain.KindNotFound, domain.KindUnsupported, domain.KindNoCredentials, domain.KindCanceled:
		return
	}
	rec.failures++
	rec.lastError = err.Error()
}

func (r *registry) reset(id domain.ExchangeID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		rec.failures = 0
		rec.lastError = ""
	}
}

// snapshot returns a copy; state and capabilities come from the caller.
func (r *registry) snapshot(id domain.ExchangeID, state domain.ConnectionState, caps domain.Capabilities) domain.AdapterHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h := domain.AdapterHealth{
		Exchange:     id,
		State:        state,
		Connected:    state == domain.StateConnected,
		Capabilities: caps.List(),
	}
	if rec, ok := r.records[id]; ok {
		h.LastSuccessfulCallAt = rec.lastSuccess
		h.ConsecutiveFailures = rec.failures
		h.LastError = rec.lastError
	}
	return h
}
