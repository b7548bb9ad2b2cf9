package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/vadiminshakov/exgate/internal/events"
	"go.uber.org/zap"
)

var defaultStreamTypes = []events.Type{events.TypeTicker, events.TypeConnectivity}

// handleEventStream serves tickers and connectivity events as SSE. With a
// journal the client can resume from Last-Event-ID; otherwise events are live only.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	types := parseTypes(r.URL.Query().Get("types"))
	if s.store != nil {
		s.streamJournal(w, r, flusher, types)
		return
	}
	s.streamLive(w, r, flusher, types)
}

func (s *Server) streamJournal(w http.ResponseWriter, r *http.Request, flusher http.Flusher, types []events.Type) {
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	pollTicker := time.NewTicker(s.poll)
	defer pollTicker.Stop()

	lastIndex := s.parseLastEventID(r.Header.Get("Last-Event-ID"), r.URL.Query().Get("last_event_id"))
	send := func() error {
		records, scanned, err := s.store.RecordsAfter(lastIndex, types...)
		if err != nil {
			return err
		}
		for _, record := range records {
			if err := writeEvent(w, strconv.FormatUint(record.Index, 10), record.Event); err != nil {
				return err
			}
			lastIndex = record.Index
		}
		lastIndex = max(lastIndex, scanned)
		if len(records) > 0 {
			flusher.Flush()
		}
		return nil
	}

	if err := send(); err != nil {
		http.Error(w, "failed to load events", http.StatusInternalServerError)
		s.logger.Warn("event stream initial load", zap.Error(err))
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := send(); err != nil {
				s.logger.Warn("event stream poll", zap.Error(err))
			}
		}
	}
}

func (s *Server) streamLive(w http.ResponseWriter, r *http.Request, flusher http.Flusher, types []events.Type) {
	bus := s.gw.Events()
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	// headers go out before the first event
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case e, ok := <-ch:
			if !ok {
				return
			}
			if !matches(e.Type, types) {
				continue
			}
			if err := writeEvent(w, "", e); err != nil {
				s.logger.Warn("event stream write", zap.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, id string, e events.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if id != "" {
		fmt.Fprintf(w, "id: %s\n", id)
	}
	fmt.Fprintf(w, "event: %s\n", e.Type)
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

func parseTypes(raw string) []events.Type {
	if strings.TrimSpace(raw) == "" {
		return defaultStreamTypes
	}
	var out []events.Type
	for _, part := range strings.Split(raw, ",") {
		if t := events.Type(strings.ToLower(strings.TrimSpace(part))); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func matches(t events.Type, types []events.Type) bool {
	return len(types) == 0 || slices.Contains(types, t)
}

// parseLastEventID prefers the header; the query parameter allows manual resumes.
func (s *Server) parseLastEventID(headerVal, queryVal string) uint64 {
	idStr := strings.TrimSpace(headerVal)
	if idStr == "" {
		idStr = strings.TrimSpace(queryVal)
	}
	if idStr == "" {
		return 0
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		s.logger.Debug("invalid last event id", zap.String("id", idStr), zap.Error(err))
		return 0
	}
	return id
}
