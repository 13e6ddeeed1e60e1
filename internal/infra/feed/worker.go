package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"trade_sim/internal/domain"
	"trade_sim/internal/event"
	"trade_sim/internal/infra"
)

const (
	defaultReconnectDelay   = 5 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	userAgent               = "trade-sim/1.0"
)

// Handler receives every parsed book update. The event is returned to a pool
// after OnFeedEvent returns, so implementations must not retain ev itself;
// ev.Snapshot may be kept.
type Handler interface {
	OnFeedEvent(ev *event.BookUpdateEvent)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ev *event.BookUpdateEvent)

func (f HandlerFunc) OnFeedEvent(ev *event.BookUpdateEvent) { f(ev) }

// Recorder is the subset of infra.Metrics the worker reports to.
type Recorder interface {
	RecordMessage()
	RecordParseError()
	RecordError()
	RecordReconnect()
	IncrementConnections()
	DecrementConnections()
}

// Options configures a Worker.
type Options struct {
	URL      string
	Exchange string // fills snapshots that omit it
	Symbol   string

	ReconnectDelay    time.Duration // wait after every disconnect, default 5s
	MaxReconnectDelay time.Duration // > ReconnectDelay enables doubling up to this cap
	ReadTimeout       time.Duration // 0 disables the read deadline
	HandshakeTimeout  time.Duration

	// SubscribeMessage is written once after each connect when set.
	SubscribeMessage []byte

	Logger  *slog.Logger
	Metrics Recorder
}

// Worker keeps one websocket connection to the venue alive and forwards
// parsed snapshots to its Handler. It retries forever until stopped.
type Worker struct {
	opts    Options
	handler Handler
	logger  *slog.Logger

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	seq      atomic.Uint64
	connects atomic.Uint64
}

// NewWorker creates a feed worker. Zero durations take defaults.
func NewWorker(opts Options, handler Handler) *Worker {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		opts:    opts,
		handler: handler,
		logger:  logger.With("component", "feed", "url", opts.URL),
	}
}

// Start launches the connection loop and returns immediately.
func (w *Worker) Start(ctx context.Context) error {
	if w.opts.URL == "" {
		return &domain.ConfigError{Field: "feed.ws_url", Err: errors.New("empty url")}
	}
	if w.handler == nil {
		return errors.New("feed: nil handler")
	}

	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()
	if w.cancel != nil {
		return errors.New("feed: already started")
	}

	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.connectionLoop(ctx)

	return nil
}

// Run starts the worker and blocks until ctx is cancelled, then stops it.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

// Stop cancels the loop, closes the socket and waits for the loop to exit.
// Safe to call more than once.
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	cancel := w.cancel
	w.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}

// IsConnected returns connection status
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// Connects returns how many connections have been established.
func (w *Worker) Connects() uint64 {
	return w.connects.Load()
}

// connectionLoop connects, reads until the connection drops, waits, repeats.
func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()

	retryCount := 0
	for {
		if ctx.Err() != nil {
			w.logger.Info("feed connection loop stopped")
			return
		}

		if err := w.connect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.opts.Metrics.RecordError()
			w.logger.Warn("feed connection failed",
				slog.Any("error", err),
				slog.Int("retry", retryCount),
			)
		} else {
			retryCount = 0
			w.readLoop(ctx)
		}

		if ctx.Err() != nil {
			w.logger.Info("feed connection loop stopped")
			return
		}

		delay := infra.ReconnectBackoff(w.opts.ReconnectDelay, w.opts.MaxReconnectDelay, retryCount)
		retryCount++
		w.logger.Info("feed reconnecting", slog.Duration("delay", delay))

		select {
		case <-ctx.Done():
			w.logger.Info("feed connection loop stopped")
			return
		case <-time.After(delay):
		}
		w.opts.Metrics.RecordReconnect()
	}
}

// connect dials the venue and sends the optional subscription.
func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: w.opts.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	header := make(http.Header)
	header.Add("User-Agent", userAgent)

	conn, _, err := dialer.DialContext(ctx, w.opts.URL, header)
	if err != nil {
		return domain.NewNetworkError("dial", fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err))
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	w.connects.Add(1)
	w.opts.Metrics.IncrementConnections()

	if len(w.opts.SubscribeMessage) > 0 {
		if err := w.threadSafeWrite(websocket.TextMessage, w.opts.SubscribeMessage); err != nil {
			w.closeConnection()
			return domain.NewNetworkError("subscribe", err)
		}
	}

	w.logger.Info("feed connected")
	return nil
}

// threadSafeWrite sends a message to the WebSocket connection in a thread-safe manner
func (w *Worker) threadSafeWrite(messageType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()

	if conn == nil {
		return errors.New("connection is nil")
	}

	return conn.WriteMessage(messageType, data)
}

// readLoop reads messages until the connection fails or ctx is cancelled.
func (w *Worker) readLoop(ctx context.Context) {
	defer w.closeConnection()

	for {
		if ctx.Err() != nil {
			return
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		if w.opts.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(w.opts.ReadTimeout))
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.opts.Metrics.RecordError()
				w.logger.Warn("feed read error", slog.Any("error", domain.NewNetworkError("read", err)))
			} else {
				w.logger.Info("feed closed by peer", slog.Any("error", err))
			}
			return
		}

		w.handleMessage(message, time.Now())
	}
}

// handleMessage parses one frame and dispatches it. Parse failures drop the
// frame and keep the connection.
func (w *Worker) handleMessage(message []byte, receivedAt time.Time) {
	w.opts.Metrics.RecordMessage()

	snap, err := ParseMessage(message, receivedAt)
	if err != nil {
		w.opts.Metrics.RecordParseError()
		w.logger.Warn("feed message dropped", slog.Any("error", err), slog.Int("bytes", len(message)))
		return
	}
	if snap.Exchange == "" {
		snap.Exchange = w.opts.Exchange
	}
	if snap.Symbol == "" {
		snap.Symbol = w.opts.Symbol
	}

	ev := event.AcquireBookUpdateEvent()
	ev.Seq = event.NextSeq(&w.seq)
	ev.Ts = receivedAt
	ev.Snapshot = snap
	if !snap.Timestamp.IsZero() {
		ev.HasLatency = true
		ev.Latency = domain.LatencySample{
			DelayMs:    float64(receivedAt.Sub(snap.Timestamp).Microseconds()) / 1000,
			ReceivedAt: receivedAt,
		}
	} else {
		w.logger.Debug("feed message without usable timestamp", slog.Uint64("seq", ev.Seq))
	}

	w.dispatch(ev)
	event.ReleaseBookUpdateEvent(ev)
}

// dispatch shields the read loop from handler panics.
func (w *Worker) dispatch(ev *event.BookUpdateEvent) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("feed handler panic recovered", slog.Any("panic", r), slog.Uint64("seq", ev.Seq))
		}
	}()
	w.handler.OnFeedEvent(ev)
}

// closeConnection safely closes the WebSocket connection
func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
		w.opts.Metrics.DecrementConnections()
	}
	w.connected = false
}

type nopRecorder struct{}

func (nopRecorder) RecordMessage()        {}
func (nopRecorder) RecordParseError()     {}
func (nopRecorder) RecordError()          {}
func (nopRecorder) RecordReconnect()      {}
func (nopRecorder) IncrementConnections() {}
func (nopRecorder) DecrementConnections() {}
