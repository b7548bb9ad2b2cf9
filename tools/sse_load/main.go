// Command sse_load opens many concurrent subscriptions to the gateway event
// stream and reports how many events of each type arrive.
package main

import (
	"bufio"
	"context"
	"flag"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

type counters struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	events      atomic.Int64

	mu     sync.Mutex
	byType map[string]int64
}

func (c *counters) event(typ string) {
	c.events.Add(1)
	c.mu.Lock()
	c.byType[typ]++
	c.mu.Unlock()
}

func (c *counters) fields(start time.Time) []zap.Field {
	c.mu.Lock()
	byType := make(map[string]int64, len(c.byType))
	for t, n := range c.byType {
		byType[t] = n
	}
	c.mu.Unlock()

	return []zap.Field{
		zap.Int64("connected", c.connected.Load()),
		zap.Int64("connect_errs", c.connectErrs.Load()),
		zap.Int64("stream_errs", c.streamErrs.Load()),
		zap.Int64("events", c.events.Load()),
		zap.Any("by_type", byType),
		zap.Duration("elapsed", time.Since(start).Truncate(time.Second)),
	}
}

func main() {
	var (
		targetURL    string
		types        string
		lastEventID  string
		connections  int
		testDuration time.Duration
		rampUp       time.Duration
	)

	flag.StringVar(&targetURL, "url", "http://localhost:8080/events/stream", "gateway event stream URL")
	flag.StringVar(&types, "types", "", "comma separated event types, e.g. ticker,connectivity")
	flag.StringVar(&lastEventID, "last-event-id", "", "replay from this journal index")
	flag.IntVar(&connections, "conns", 1000, "number of concurrent connections to open")
	flag.DurationVar(&testDuration, "dur", 60*time.Second, "test duration (0 for until interrupted)")
	flag.DurationVar(&rampUp, "ramp", 0, "ramp-up duration (spread connection starts across this window)")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if connections <= 0 {
		logger.Fatal("invalid conns", zap.Int("conns", connections))
	}
	if types != "" {
		u, err := url.Parse(targetURL)
		if err != nil {
			logger.Fatal("invalid url", zap.Error(err))
		}
		q := u.Query()
		q.Set("types", types)
		u.RawQuery = q.Encode()
		targetURL = u.String()
	}

	if rampUp == 0 && connections > 100 {
		// 1 second per 500 connections
		rampUp = time.Duration(connections/500) * time.Second
		if rampUp < time.Second {
			rampUp = time.Second
		}
	}
	logger.Info("starting SSE load",
		zap.String("url", targetURL),
		zap.Int("conns", connections),
		zap.Duration("duration", testDuration),
		zap.Duration("ramp", rampUp))

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     connections + 100,
			MaxIdleConns:        connections + 100,
			MaxIdleConnsPerHost: connections + 100,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if testDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, testDuration)
		defer cancel()
	}

	limit := rate.Inf
	if rampUp > 0 {
		limit = rate.Limit(float64(connections) / rampUp.Seconds())
	}
	starts := rate.NewLimiter(limit, 1)

	c := &counters{byType: make(map[string]int64)}
	start := time.Now()

	go func() {
		t := time.NewTicker(5 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				logger.Info("status", c.fields(start)...)
			}
		}
	}()

	var g errgroup.Group
	for i := 0; i < connections; i++ {
		if err := starts.Wait(ctx); err != nil {
			break
		}
		g.Go(func() error {
			subscribe(ctx, client, targetURL, lastEventID, c)
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(start)
	if elapsed == 0 {
		elapsed = time.Millisecond
	}
	logger.Info("done", append(c.fields(start),
		zap.Float64("events_per_sec", float64(c.events.Load())/elapsed.Seconds()))...)
	if c.connected.Load() == 0 {
		os.Exit(1)
	}
}

func subscribe(ctx context.Context, client *http.Client, target, lastEventID string, c *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}

	resp, err := client.Do(req)
	if err != nil {
		c.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.connectErrs.Add(1)
		return
	}
	c.connected.Add(1)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() == nil {
				c.streamErrs.Add(1)
			}
			return
		}
		// heartbeats start with ':'
		if typ, ok := strings.CutPrefix(strings.TrimRight(line, "\r\n"), "event: "); ok {
			c.event(typ)
		}
	}
}
