// Package web exposes the gateway over HTTP: a JSON read/write surface and an
// SSE stream of tickers and connectivity events.
package web

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/domain"
	"github.com/vadiminshakov/exgate/internal/events"
	"github.com/vadiminshakov/exgate/internal/gateway"
	"github.com/vadiminshakov/exgate/internal/storage/journal"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

// Gateway is the part of the gateway the server needs.
type Gateway interface {
	Status() gateway.Status
	GetBalance(ctx context.Context, id domain.ExchangeID) ([]domain.Balance, error)
	GetAggregatedBalance(ctx context.Context) map[domain.ExchangeID]gateway.Result[[]domain.Balance]
	GetTicker(ctx context.Context, id domain.ExchangeID, symbol string) (*domain.Ticker, error)
	GetTickerAll(ctx context.Context, symbol string) (map[domain.ExchangeID]gateway.Result[*domain.Ticker], error)
	CreateOrder(ctx context.Context, id domain.ExchangeID, params domain.OrderParams) (domain.Order, error)
	CancelOrder(ctx context.Context, id domain.ExchangeID, symbol, orderID string) (bool, error)
	RestartAdapter(ctx context.Context, id domain.ExchangeID) (domain.AdapterHealth, domain.ExchangeID, error)
	Events() *events.Broadcaster
}

// EventReader replays journaled events.
type EventReader interface {
	RecordsAfter(index uint64, types ...events.Type) ([]journal.Record, uint64, error)
}

// Server exposes HTTP endpoints over the gateway.
type Server struct {
	addr      string
	gw        Gateway
	store     EventReader
	logger    *zap.Logger
	poll      time.Duration
	heartbeat time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithEventReader makes /events/stream replay and poll the journal instead of
// following the live broadcaster.
func WithEventReader(r EventReader) Option {
	return func(s *Server) { s.store = r }
}

// WithStreamIntervals overrides the journal poll and SSE heartbeat intervals.
func WithStreamIntervals(poll, heartbeat time.Duration) Option {
	return func(s *Server) {
		if poll > 0 {
			s.poll = poll
		}
		if heartbeat > 0 {
			s.heartbeat = heartbeat
		}
	}
}

// NewServer creates a new web server instance.
func NewServer(addr string, gw Gateway, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		addr:      addr,
		gw:        gw,
		logger:    logger.Named("web"),
		poll:      time.Second,
		heartbeat: 20 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /balance/{exchange}", s.handleBalance)
	mux.HandleFunc("GET /ticker/{exchange}/{symbol}", s.handleTicker)
	mux.HandleFunc("POST /order", s.handleCreateOrder)
	mux.HandleFunc("DELETE /order/{exchange}/{symbol}/{orderID}", s.handleCancelOrder)
	mux.HandleFunc("POST /adapter/{exchange}/restart", s.handleRestart)
	mux.HandleFunc("GET /events/stream", s.handleEventStream)
	return s.compress(mux)
}

func (s *Server) newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := s.newHTTPServer(s.addr, s.Handler())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", zap.String("addr", s.addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with ACME certificates. An HTTP server on
// port 80 answers the HTTP-01 challenges.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if len(domains) == 0 {
		return errors.New("no domains provided for automatic TLS")
	}
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := s.newHTTPServer(":80", manager.HTTPHandler(nil))

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12
	httpsSrv := s.newHTTPServer(s.addr, s.Handler())
	httpsSrv.TLSConfig = tlsConfig

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("acme server shutdown", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("https server shutdown", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("acme server", zap.Error(err))
		}
	}()

	s.logger.Info("https server listening", zap.String("addr", s.addr), zap.Strings("domains", domains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// compress gzips JSON answers for clients that accept it. The event stream is
// left alone so every event is flushed as written.
func (s *Server) compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/events/stream" || !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")

		gz := gzip.NewWriter(w)
		defer gz.Close()
		next.ServeHTTP(&gzipResponseWriter{ResponseWriter: w, writer: gz}, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	writer *gzip.Writer
}

func (w *gzipResponseWriter) WriteHeader(statusCode int) {
	w.Header().Del("Content-Length")
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	return w.writer.Write(b)
}
