// Package connmgr supervises one streaming websocket per adapter: dial, authenticate,
// subscribe, keep alive, and reconnect with capped exponential backoff.
package connmgr

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/domain"
	"github.com/vadiminshakov/exgate/pkg/retrier"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned by Send while no socket is open.
	ErrNotConnected = errors.New("stream is not connected")
	// ErrReconnect returned from Handle drops the socket and reconnects.
	ErrReconnect = errors.New("reconnect requested")
	// ErrAuthRejected returned from OnConnect or Handle means the venue refused
	// the credentials. The manager goes to Failed without retrying.
	ErrAuthRejected = errors.New("stream authentication rejected")
)

// AuthRejected builds the terminal error for a refused login.
func AuthRejected(exchange domain.ExchangeID, reason string) error {
	return domain.NewError(domain.KindAuthentication, exchange, "stream login", errors.Wrap(ErrAuthRejected, reason))
}

// Sender writes frames to the open socket.
type Sender interface {
	SendJSON(v any) error
	SendText(text string) error
	// Authenticated marks the login of a LoginGate channel as acknowledged.
	Authenticated()
}

// LoginGate is implemented by channels whose login is acknowledged by a later
// frame. The manager stays Connecting until Handle calls Sender.Authenticated and
// drops the socket when no acknowledgement arrives within the connect timeout.
type LoginGate interface {
	AwaitsLogin() bool
}

// Heartbeat describes keep-alive for a channel.
type Heartbeat struct {
	Interval time.Duration
	// Payload returns an application level ping. Nil sends protocol ping frames.
	// A string payload is sent as a text frame, anything else as JSON.
	Payload func() any
	// Refresh runs every RefreshEvery while the socket is open, e.g. to extend
	// a listen key. An error drops the socket.
	Refresh      func(ctx context.Context) error
	RefreshEvery time.Duration
}

// Channel is the venue specific part of a stream.
type Channel interface {
	// URL returns the endpoint to dial. Token or listen key fetches happen here.
	URL(ctx context.Context) (string, error)
	// OnConnect authenticates and (re)issues subscriptions on a fresh socket.
	OnConnect(ctx context.Context, s Sender) error
	// Heartbeat is read after every URL call.
	Heartbeat() Heartbeat
	// Handle processes one inbound frame. Errors are logged and do not drop the socket.
	Handle(ctx context.Context, s Sender, msg []byte) error
}

// Policy is the reconnection policy.
type Policy struct {
	BaseDelay      time.Duration `yaml:"base_delay"`
	Multiplier     float64       `yaml:"multiplier"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	MaxAttempts    int           `yaml:"max_attempts"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// DefaultPolicy returns base 1s, multiplier 2, cap 30s, 10 attempts, 10s connect timeout.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:      time.Second,
		Multiplier:     2,
		MaxDelay:       30 * time.Second,
		MaxAttempts:    10,
		ConnectTimeout: 10 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = d.ConnectTimeout
	}
	if p.WriteTimeout <= 0 {
		p.WriteTimeout = d.WriteTimeout
	}
	return p
}

// Observer receives every state transition. It must not block.
type Observer func(domain.ConnectivityEvent)

// Manager owns the connection state of one adapter. Transitions happen only on the
// supervised goroutine; Start, Reconnect and Close are serialized.
type Manager struct {
	exchange domain.ExchangeID
	channel  Channel
	policy   Policy
	backoff  *retrier.Retrier
	dialer   *websocket.Dialer
	logger   *zap.Logger
	observer Observer

	ops sync.Mutex // serializes Start, Reconnect, Close

	mu      sync.Mutex
	state   domain.ConnectionState
	attempt int
	changed chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
	base    context.Context

	writeMu sync.Mutex
	conn    *websocket.Conn

	authed atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithObserver sets the transition observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// New creates a manager in the Disconnected state.
func New(exchange domain.ExchangeID, ch Channel, policy Policy, logger *zap.Logger, opts ...Option) *Manager {
	policy = policy.withDefaults()
	m := &Manager{
		exchange: exchange,
		channel:  ch,
		policy:   policy,
		backoff: retrier.New(
			retrier.WithInitialInterval(policy.BaseDelay),
			retrier.WithMultiplier(policy.Multiplier),
			retrier.WithMaxInterval(policy.MaxDelay),
			retrier.WithMaxRetries(policy.MaxAttempts),
			retrier.WithJitter(0),
		),
		dialer:  &websocket.Dialer{HandshakeTimeout: policy.ConnectTimeout},
		logger:  logger.With(zap.String("exchange", exchange.String())),
		state:   domain.StateDisconnected,
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns a snapshot of the connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt returns the current reconnect attempt, zero while connected.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Delay returns the backoff before reconnect attempt n (1-based).
func (m *Manager) Delay(n int) time.Duration {
	return m.backoff.Delay(n - 1)
}

// Start launches the supervised connection loop. Calling Start on a running manager is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.ops.Lock()
	defer m.ops.Unlock()

	m.mu.Lock()
	running := m.done != nil
	m.mu.Unlock()
	if running {
		return
	}
	m.launch(ctx)
}

// Reconnect tears down the current socket, if any, and starts over from attempt zero.
// It is the only way out of Failed.
func (m *Manager) Reconnect() {
	m.ops.Lock()
	defer m.ops.Unlock()

	m.stop()
	m.mu.Lock()
	base := m.base
	m.mu.Unlock()
	if base == nil || base.Err() != nil {
		base = context.Background()
	}
	m.launch(base)
}

// Close stops the loop, closes the socket with a normal closure and waits for the
// supervised goroutine. It never triggers a reconnect.
func (m *Manager) Close() error {
	m.ops.Lock()
	defer m.ops.Unlock()
	m.stop()
	m.transition(domain.StateDisconnected, 0, 0, nil)
	return nil
}

// WaitFor blocks until the state is one of states or ctx is done.
func (m *Manager) WaitFor(ctx context.Context, states ...domain.ConnectionState) (domain.ConnectionState, error) {
	for {
		m.mu.Lock()
		cur, changed := m.state, m.changed
		m.mu.Unlock()
		for _, s := range states {
			if cur == s {
				return cur, nil
			}
		}
		select {
		case <-ctx.Done():
			return cur, ctx.Err()
		case <-changed:
		}
	}
}

func (m *Manager) launch(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	m.mu.Lock()
	m.base = ctx
	m.cancel = cancel
	m.done = done
	m.attempt = 0
	m.mu.Unlock()

	go m.run(runCtx, done)
}

// stop cancels the loop and waits for it. Caller holds ops.
func (m *Manager) stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		m.transition(domain.StateConnecting, m.Attempt(), 0, nil)

		conn, hb, err := m.connect(ctx)
		if err == nil {
			m.authed.Store(false)
			if !m.gated() {
				m.connected()
			}
			err = m.serve(ctx, conn, hb)
		}

		if ctx.Err() != nil {
			m.transition(domain.StateDisconnected, 0, 0, nil)
			return
		}
		if errors.Is(err, ErrAuthRejected) {
			m.logger.Error("stream authentication rejected, not retrying", zap.Error(err))
			m.transition(domain.StateFailed, m.Attempt(), 0, err)
			return
		}

		m.mu.Lock()
		m.attempt++
		attempt := m.attempt
		m.mu.Unlock()

		if attempt > m.policy.MaxAttempts {
			m.logger.Error("stream reconnect attempts exhausted", zap.Int("attempts", attempt-1), zap.Error(err))
			m.transition(domain.StateFailed, attempt-1, 0, err)
			return
		}

		delay := m.backoff.Delay(attempt - 1)
		m.logger.Warn("stream disconnected, reconnecting",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		m.transition(domain.StateReconnecting, attempt, delay, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.transition(domain.StateDisconnected, 0, 0, nil)
			return
		case <-timer.C:
		}
	}
}

func (m *Manager) gated() bool {
	g, ok := m.channel.(LoginGate)
	return ok && g.AwaitsLogin()
}

func (m *Manager) connected() {
	m.mu.Lock()
	m.attempt = 0
	m.mu.Unlock()
	m.transition(domain.StateConnected, 0, 0, nil)
	m.logger.Info("stream connected")
}

// Authenticated reports the login of a gated channel as acknowledged. Handle
// runs on the supervised goroutine, so the transition stays there.
func (m *Manager) Authenticated() {
	if m.authed.Swap(true) {
		return
	}
	m.connected()
}

// connect dials and runs OnConnect, both bounded by the connect timeout.
func (m *Manager) connect(ctx context.Context) (*websocket.Conn, Heartbeat, error) {
	cctx, cancel := context.WithTimeout(ctx, m.policy.ConnectTimeout)
	defer cancel()

	url, err := m.channel.URL(cctx)
	if err != nil {
		return nil, Heartbeat{}, errors.Wrap(err, "resolve stream url")
	}
	hb := m.channel.Heartbeat()

	conn, _, err := m.dialer.DialContext(cctx, url, nil)
	if err != nil {
		return nil, Heartbeat{}, errors.Wrap(err, "dial")
	}

	m.setConn(conn)
	if err := m.channel.OnConnect(cctx, m); err != nil {
		m.setConn(nil)
		conn.Close()
		return nil, Heartbeat{}, errors.Wrap(err, "on connect")
	}

	return conn, hb, nil
}

// serve runs the read loop until the socket fails or ctx is cancelled.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn, hb Heartbeat) error {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer m.setConn(nil)

	readTimeout := time.Duration(0)
	if hb.Interval > 0 {
		readTimeout = 2*hb.Interval + m.policy.WriteTimeout
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(readTimeout))
		})
		go m.heartbeat(sctx, conn, hb)
	}

	if hb.Refresh != nil && hb.RefreshEvery > 0 {
		go m.refresh(sctx, conn, hb)
	}

	if m.gated() {
		login := time.AfterFunc(m.policy.ConnectTimeout, func() {
			if !m.authed.Load() {
				m.logger.Warn("stream login not acknowledged", zap.Duration("within", m.policy.ConnectTimeout))
				conn.Close()
			}
		})
		defer login.Stop()
	}

	go func() {
		<-sctx.Done()
		if ctx.Err() != nil {
			m.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(m.policy.WriteTimeout))
			m.writeMu.Unlock()
		}
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read")
		}
		if readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		}
		if err := m.channel.Handle(sctx, m, msg); err != nil {
			if errors.Is(err, ErrReconnect) || errors.Is(err, ErrAuthRejected) {
				return err
			}
			m.logger.Warn("stream message rejected", zap.Error(err))
		}
	}
}

func (m *Manager) heartbeat(ctx context.Context, conn *websocket.Conn, hb Heartbeat) {
	t := time.NewTicker(hb.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		var err error
		switch {
		case hb.Payload == nil:
			m.writeMu.Lock()
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.policy.WriteTimeout))
			m.writeMu.Unlock()
		default:
			err = m.write(conn, hb.Payload())
		}
		if err != nil {
			m.logger.Warn("failed to send heartbeat", zap.Error(err))
			conn.Close()
			return
		}
	}
}

func (m *Manager) refresh(ctx context.Context, conn *websocket.Conn, hb Heartbeat) {
	t := time.NewTicker(hb.RefreshEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if err := hb.Refresh(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("stream refresh failed, dropping socket", zap.Error(err))
			conn.Close()
			return
		}
	}
}

func (m *Manager) setConn(c *websocket.Conn) {
	m.writeMu.Lock()
	m.conn = c
	m.writeMu.Unlock()
}

// SendJSON writes v as a JSON text frame on the current socket.
func (m *Manager) SendJSON(v any) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.conn == nil {
		return ErrNotConnected
	}
	_ = m.conn.SetWriteDeadline(time.Now().Add(m.policy.WriteTimeout))
	return m.conn.WriteJSON(v)
}

// SendText writes a raw text frame on the current socket.
func (m *Manager) SendText(text string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.conn == nil {
		return ErrNotConnected
	}
	_ = m.conn.SetWriteDeadline(time.Now().Add(m.policy.WriteTimeout))
	return m.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (m *Manager) write(conn *websocket.Conn, payload any) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(m.policy.WriteTimeout))
	if s, ok := payload.(string); ok {
		return conn.WriteMessage(websocket.TextMessage, []byte(s))
	}
	return conn.WriteJSON(payload)
}

func (m *Manager) transition(to domain.ConnectionState, attempt int, delay time.Duration, cause error) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()

	ev := domain.ConnectivityEvent{
		Exchange: m.exchange,
		From:     from,
		To:       to,
		Attempt:  attempt,
		Delay:    delay,
		At:       time.Now().UTC(),
	}
	if cause != nil {
		ev.Err = cause.Error()
	}
	if m.observer != nil {
		m.observer(ev)
	}
}
