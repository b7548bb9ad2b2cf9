package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/connmgr"
	"github.com/vadiminshakov/exgate/internal/domain"
	"go.uber.org/zap"
)

const (
	// unreachableAfter consecutive network failures mark a stream-less adapter down.
	unreachableAfter  = 3
	defaultProbeEvery = 15 * time.Second
	minProbeTimeout   = 10 * time.Second
)

// Base carries the behaviour all adapters share. Embed it.
type Base struct {
	id                domain.ExchangeID
	cred              domain.Credential
	requirePassphrase bool
	caps              domain.Capabilities
	logger            *zap.Logger
	sink              TickerSink
	observer          connmgr.Observer
	probeEvery        time.Duration

	mu sync.RWMutex
	// live is set by Initialize and cleared by Close.
	live      bool
	reachable bool
	failures  int
	probing   bool
	stream    *connmgr.Manager
	streaming bool
	// life is cancelled by Close, aborting every call bound to it.
	life context.Context
	kill context.CancelFunc
}

// NewBase creates the shared part of an adapter. Without credentials only the
// ticker capability is advertised.
func NewBase(id domain.ExchangeID, cred domain.Credential, requirePassphrase bool, caps domain.Capabilities, deps Deps) *Base {
	if cred.IsZero() {
		caps = domain.NewCapabilities(domain.CapabilityTicker)
	}
	cred.Exchange = id
	life, kill := context.WithCancel(context.Background())
	return &Base{
		id:                id,
		cred:              cred,
		requirePassphrase: requirePassphrase,
		caps:              caps,
		logger:            deps.Logger.With(zap.String("exchange", id.String())),
		sink:              deps.Sink,
		observer:          deps.Observer,
		probeEvery:        defaultProbeEvery,
		life:              life,
		kill:              kill,
	}
}

// WithProbe sets how often an adapter without a running stream pings the venue.
func (b *Base) WithProbe(every time.Duration) *Base {
	if every > 0 {
		b.probeEvery = every
	}
	return b
}

func (b *Base) ID() domain.ExchangeID { return b.id }

func (b *Base) Capabilities() domain.Capabilities { return b.caps }

// Logger returns the adapter scoped logger.
func (b *Base) Logger() *zap.Logger { return b.logger }

// Credential returns the configured credential.
func (b *Base) Credential() domain.Credential { return b.cred }

// HasCredentials reports whether any credential material was configured.
func (b *Base) HasCredentials() bool { return !b.cred.IsZero() }

// RequireCredentials fails fast before any signed call is attempted.
func (b *Base) RequireCredentials(op string) error {
	if b.cred.IsZero() {
		return domain.NoCredentialsError(b.id, op)
	}
	return b.cred.Validate(b.requirePassphrase)
}

// AttachStream sets the connection manager started by Initialize.
func (b *Base) AttachStream(m *connmgr.Manager) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stream = m
}

// Stream returns the attached manager, nil if none.
func (b *Base) Stream() *connmgr.Manager {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stream
}

// Bind derives a context that is also cancelled by Close.
func (b *Base) Bind(ctx context.Context) (context.Context, context.CancelFunc) {
	b.mu.RLock()
	life := b.life
	b.mu.RUnlock()

	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(life, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Call runs fn bound to the adapter lifetime and reports its outcome. Venue
// SDK calls that bypass rest.Client go through it.
func (b *Base) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := b.Bind(ctx)
	defer cancel()
	err := fn(ctx)
	b.Report(err)
	return err
}

// Report feeds a call outcome into the reachability of an adapter without a
// running stream. Any answer from the venue marks it reachable; unreachableAfter
// network failures in a row mark it down. Cancellations and calls refused
// before reaching the venue are ignored.
func (b *Base) Report(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	switch domain.KindOf(err) {
	case domain.KindCanceled, domain.KindConfiguration, domain.KindNoCredentials,
		domain.KindInvalidRequest, domain.KindUnsupported:
		return
	}
	down := domain.IsKind(err, domain.KindNetwork) ||
		domain.IsKind(err, domain.KindTimeout) ||
		errors.Is(err, context.DeadlineExceeded)

	b.mu.Lock()
	if !b.live || b.streaming {
		b.mu.Unlock()
		return
	}
	was := b.reachable
	if down {
		b.failures++
		if b.failures >= unreachableAfter {
			b.reachable = false
		}
	} else {
		b.failures = 0
		b.reachable = true
	}
	now := b.reachable
	b.mu.Unlock()

	if was != now {
		b.reachabilityChanged(now, err)
	}
}

func (b *Base) reachabilityChanged(reachable bool, cause error) {
	ev := domain.ConnectivityEvent{
		Exchange: b.id,
		From:     domain.StateConnected,
		To:       domain.StateDisconnected,
		At:       time.Now().UTC(),
	}
	if reachable {
		ev.From, ev.To = ev.To, ev.From
		b.logger.Info("exchange reachable again")
	} else {
		ev.Err = cause.Error()
		b.logger.Warn("exchange unreachable", zap.Int("failures", unreachableAfter), zap.Error(cause))
	}
	if b.observer != nil {
		b.observer(ev)
	}
}

// Initialize runs ping, then starts the stream when credentials allow it.
// The stream lives until Close; the first outcome is awaited within ctx.
// Without a stream, ping keeps running in the background until Close.
func (b *Base) Initialize(ctx context.Context, ping func(ctx context.Context) error) error {
	pctx, cancel := b.Bind(ctx)
	err := ping(pctx)
	cancel()

	b.mu.Lock()
	b.live = true
	b.reachable = err == nil
	b.failures = 0
	b.mu.Unlock()

	if err != nil {
		b.logger.Warn("exchange unreachable", zap.Error(err))
		b.probe(ping)
		return err
	}
	if !b.streamable() {
		b.probe(ping)
		return nil
	}
	if err := b.RequireCredentials("open stream"); err != nil {
		return err
	}

	m := b.openStream()
	state, _ := m.WaitFor(ctx, domain.StateConnected, domain.StateReconnecting, domain.StateFailed)
	if state != domain.StateConnected {
		b.logger.Warn("stream not connected after initialize", zap.Stringer("state", state))
	}
	return nil
}

func (b *Base) streamable() bool {
	return b.Stream() != nil && b.HasCredentials()
}

func (b *Base) openStream() *connmgr.Manager {
	b.mu.Lock()
	m := b.stream
	b.streaming = true
	b.mu.Unlock()

	m.Start(context.Background())
	return m
}

// probe pings every probeEvery until Close. ping reports through rest.Client
// or Call. An adapter that recovers and can stream opens its stream and stops
// probing.
func (b *Base) probe(ping func(ctx context.Context) error) {
	b.mu.Lock()
	if b.probing {
		b.mu.Unlock()
		return
	}
	b.probing = true
	life, every := b.life, b.probeEvery
	b.mu.Unlock()
	timeout := max(every, minProbeTimeout)

	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-life.Done():
				return
			case <-t.C:
			}

			ctx, cancel := context.WithTimeout(life, timeout)
			err := ping(ctx)
			cancel()
			if err != nil || life.Err() != nil || !b.streamable() {
				continue
			}
			if b.RequireCredentials("open stream") != nil {
				continue
			}

			b.mu.Lock()
			b.probing = false
			b.mu.Unlock()
			b.logger.Info("exchange reachable again, opening stream")
			b.openStream()
			return
		}
	}()
}

// State is the stream state when a stream runs, otherwise derived from reachability.
func (b *Base) State() domain.ConnectionState {
	b.mu.RLock()
	stream, streaming, reachable := b.stream, b.streaming, b.reachable
	b.mu.RUnlock()

	if stream != nil && streaming {
		return stream.State()
	}
	if reachable {
		return domain.StateConnected
	}
	return domain.StateDisconnected
}

func (b *Base) IsConnected() bool {
	return b.State() == domain.StateConnected
}

// Close aborts in-flight calls and stops the stream and the probe. The adapter
// may be initialized again afterwards.
func (b *Base) Close() error {
	b.mu.Lock()
	b.kill()
	b.life, b.kill = context.WithCancel(context.Background())
	stream := b.stream
	b.live = false
	b.streaming = false
	b.reachable = false
	b.failures = 0
	b.probing = false
	b.mu.Unlock()

	if stream != nil {
		return stream.Close()
	}
	return nil
}

// Emit forwards a streamed ticker to the sink.
func (b *Base) Emit(t domain.Ticker) {
	if b.sink != nil {
		b.sink(t)
	}
}
