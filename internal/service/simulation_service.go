package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"trade_sim/internal/domain"
	"trade_sim/internal/engine"
	"trade_sim/internal/event"
)

// Recorder is the subset of infra.Metrics the service reports to.
type Recorder interface {
	RecordEvent(latencyNs int64)
	RecordCrossedBook()
	RecordSimulation()
	RecordRejected()
}

// SimulationService sits between the feed and the presentation layer. The
// feed goroutine calls OnFeedEvent; any number of callers may Simulate
// concurrently against whichever snapshot was last applied.
type SimulationService struct {
	book    *engine.BookState
	engine  *engine.CostEngine
	latency *LatencyTracker
	logger  *slog.Logger
	metrics Recorder
	presets domain.PresetStore

	exchange string
	symbol   string

	feedMu sync.RWMutex
	feed   domain.FeedWorker

	defaultsMu sync.RWMutex
	defaults   domain.SimulationRequest
	saved      domain.SimulationRequest

	crossed    atomic.Bool
	lastUpdate atomic.Int64 // unix nanos of last applied snapshot

	// Latest-wins notifications, capacity 1
	bookUpdates    chan *domain.BookSnapshot
	latencyUpdates chan domain.LatencySample
}

// Option configures a SimulationService.
type Option func(*SimulationService)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *SimulationService) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Recorder) Option {
	return func(s *SimulationService) { s.metrics = m }
}

// WithPresetStore persists the last simulated parameters and restores them as defaults.
func WithPresetStore(p domain.PresetStore) Option {
	return func(s *SimulationService) { s.presets = p }
}

// WithDefaults sets the request used by SimulateWithDefaults.
func WithDefaults(req domain.SimulationRequest) Option {
	return func(s *SimulationService) { s.defaults = req }
}

// WithLatencyWindow sets the latency averaging window.
func WithLatencyWindow(n int) Option {
	return func(s *SimulationService) { s.latency = NewLatencyTracker(n) }
}

// WithIdentity names the venue and symbol reported by Status.
func WithIdentity(exchange, symbol string) Option {
	return func(s *SimulationService) {
		s.exchange = exchange
		s.symbol = symbol
	}
}

// NewSimulationService wires a book and a cost engine together.
func NewSimulationService(book *engine.BookState, eng *engine.CostEngine, opts ...Option) *SimulationService {
	s := &SimulationService{
		book:   book,
		engine: eng,
		defaults: domain.SimulationRequest{
			Quantity:   100,
			FeeTier:    0,
			Volatility: 0.01,
		},
		bookUpdates:    make(chan *domain.BookSnapshot, 1),
		latencyUpdates: make(chan domain.LatencySample, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "simulation")
	if s.metrics == nil {
		s.metrics = nopRecorder{}
	}
	if s.latency == nil {
		s.latency = NewLatencyTracker(DefaultLatencyWindow)
	}
	s.restorePresets()
	return s
}

// AttachFeed sets the worker driven by Start and Stop.
func (s *SimulationService) AttachFeed(w domain.FeedWorker) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()
	s.feed = w
}

// Start starts the attached feed.
func (s *SimulationService) Start(ctx context.Context) error {
	s.feedMu.RLock()
	w := s.feed
	s.feedMu.RUnlock()

	if w == nil {
		return errors.New("simulation: no feed attached")
	}
	return w.Start(ctx)
}

// Stop stops the attached feed, if any.
func (s *SimulationService) Stop() {
	s.feedMu.RLock()
	w := s.feed
	s.feedMu.RUnlock()

	if w != nil {
		w.Stop()
	}
}

// OnFeedEvent applies the event's snapshot and republishes its latency
// sample. It never blocks on consumers.
func (s *SimulationService) OnFeedEvent(ev *event.BookUpdateEvent) {
	if ev == nil || ev.Snapshot == nil {
		return
	}
	snap := ev.Snapshot

	s.trackCrossed(snap)
	s.book.Apply(snap)

	receivedAt := ev.Ts
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	s.lastUpdate.Store(receivedAt.UnixNano())

	processing := time.Since(receivedAt)
	s.metrics.RecordEvent(processing.Nanoseconds())

	if ev.HasLatency {
		sample := ev.Latency
		sample.ProcessingMs = float64(processing.Microseconds()) / 1000
		s.latency.Record(sample)
		offerLatest(s.latencyUpdates, sample)
	}
	offerLatest(s.bookUpdates, snap)
}

// trackCrossed logs and counts transitions into the crossed state only.
func (s *SimulationService) trackCrossed(snap *domain.BookSnapshot) {
	crossed := snap.IsCrossed()
	wasCrossed := s.crossed.Swap(crossed)
	switch {
	case crossed && !wasCrossed:
		ask, _ := snap.BestAsk()
		bid, _ := snap.BestBid()
		s.metrics.RecordCrossedBook()
		s.logger.Warn("crossed book received",
			slog.Float64("best_ask", ask),
			slog.Float64("best_bid", bid),
			slog.String("symbol", snap.Symbol),
		)
	case !crossed && wasCrossed:
		s.logger.Info("book no longer crossed", slog.String("symbol", snap.Symbol))
	}
}

// Simulate validates req and evaluates it against the current snapshot.
// Out-of-range parameters are rejected with a *domain.ValidationError.
func (s *SimulationService) Simulate(ctx context.Context, req domain.SimulationRequest) (domain.SimulationResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.SimulationResult{}, err
	}
	if err := req.Validate(); err != nil {
		s.metrics.RecordRejected()
		return domain.SimulationResult{}, err
	}

	res := s.evaluate(req)
	s.rememberPreset(req)
	return res, nil
}

// SimulateWithDefaults evaluates the current default request without
// touching the preset store.
func (s *SimulationService) SimulateWithDefaults(ctx context.Context) (domain.SimulationResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.SimulationResult{}, err
	}
	req := s.Defaults()
	if err := req.Validate(); err != nil {
		s.metrics.RecordRejected()
		return domain.SimulationResult{}, err
	}
	return s.evaluate(req), nil
}

func (s *SimulationService) evaluate(req domain.SimulationRequest) domain.SimulationResult {
	// One Load: every model sees the same snapshot.
	res := s.engine.Evaluate(s.book.Snapshot(), req)
	res.RequestID = uuid.NewString()
	s.metrics.RecordSimulation()
	return res
}

// Defaults returns the request SimulateWithDefaults would run.
func (s *SimulationService) Defaults() domain.SimulationRequest {
	s.defaultsMu.RLock()
	defer s.defaultsMu.RUnlock()
	return s.defaults
}

// LatencyStats summarises recent feed latency.
func (s *SimulationService) LatencyStats() domain.LatencyStats {
	return s.latency.Stats()
}

// Status reports connection and book health.
func (s *SimulationService) Status() domain.FeedStatus {
	st := domain.FeedStatus{
		Exchange: s.exchange,
		Symbol:   s.symbol,
		Crossed:  s.crossed.Load(),
		Updates:  s.book.Updates(),
	}

	s.feedMu.RLock()
	if s.feed != nil {
		st.Connected = s.feed.IsConnected()
	}
	s.feedMu.RUnlock()

	if snap := s.book.Snapshot(); snap != nil {
		st.AskLevels = len(snap.Asks)
		st.BidLevels = len(snap.Bids)
		if snap.Exchange != "" {
			st.Exchange = snap.Exchange
		}
		if snap.Symbol != "" {
			st.Symbol = snap.Symbol
		}
	}
	if ns := s.lastUpdate.Load(); ns != 0 {
		st.LastUpdate = time.Unix(0, ns)
	}
	return st
}

// Book returns the current snapshot, nil before the first update.
func (s *SimulationService) Book() *domain.BookSnapshot {
	return s.book.Snapshot()
}

// RecentBooks returns up to n superseded and current snapshots, newest first.
func (s *SimulationService) RecentBooks(n int) []*domain.BookSnapshot {
	return s.book.Recent(n)
}

// BookUpdates delivers the most recently applied snapshot. Unread values are
// replaced, never queued.
func (s *SimulationService) BookUpdates() <-chan *domain.BookSnapshot {
	return s.bookUpdates
}

// LatencyUpdates delivers the most recent latency sample, latest wins.
func (s *SimulationService) LatencyUpdates() <-chan domain.LatencySample {
	return s.latencyUpdates
}

// restorePresets overlays persisted parameters onto the configured defaults.
// Unusable values are ignored.
func (s *SimulationService) restorePresets() {
	s.saved = s.defaults
	if s.presets == nil {
		return
	}
	m, err := s.presets.LoadConfigMap()
	if err != nil {
		s.logger.Warn("failed to load presets", slog.Any("error", err))
		return
	}

	req := s.defaults
	if v, err := strconv.ParseFloat(m[domain.PresetQuantity], 64); err == nil {
		req.Quantity = v
	}
	if v, err := strconv.Atoi(m[domain.PresetFeeTier]); err == nil {
		req.FeeTier = v
	}
	if v, err := strconv.ParseFloat(m[domain.PresetVolatility], 64); err == nil {
		req.Volatility = v
	}
	if err := req.Validate(); err != nil {
		s.logger.Warn("ignoring stored presets", slog.Any("error", err))
		return
	}
	s.defaults = req
	s.saved = req
}

// rememberPreset makes req the new default and persists it when it changed.
func (s *SimulationService) rememberPreset(req domain.SimulationRequest) {
	s.defaultsMu.Lock()
	s.defaults = req
	changed := req != s.saved
	if changed {
		s.saved = req
	}
	s.defaultsMu.Unlock()

	if !changed || s.presets == nil {
		return
	}

	for key, value := range map[string]string{
		domain.PresetQuantity:   strconv.FormatFloat(req.Quantity, 'g', -1, 64),
		domain.PresetFeeTier:    strconv.Itoa(req.FeeTier),
		domain.PresetVolatility: strconv.FormatFloat(req.Volatility, 'g', -1, 64),
	} {
		if err := s.presets.SaveConfig(key, value); err != nil {
			s.logger.Warn("failed to save preset", slog.String("key", key), slog.Any("error", err))
		}
	}
}

// offerLatest replaces whatever is waiting in ch with v. Single producer.
func offerLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordEvent(int64)  {}
func (nopRecorder) RecordCrossedBook() {}
func (nopRecorder) RecordSimulation()  {}
func (nopRecorder) RecordRejected()    {}
