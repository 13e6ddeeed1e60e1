package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"trade_sim/internal/domain"
	"trade_sim/internal/engine"
	"trade_sim/internal/event"
)

type countingRecorder struct {
	events, crossed, sims, rejected atomic.Int32
}

func (c *countingRecorder) RecordEvent(int64)  { c.events.Add(1) }
func (c *countingRecorder) RecordCrossedBook() { c.crossed.Add(1) }
func (c *countingRecorder) RecordSimulation()  { c.sims.Add(1) }
func (c *countingRecorder) RecordRejected()    { c.rejected.Add(1) }

type memPresets struct {
	mu   sync.Mutex
	data map[string]string
	err  error
}

func (m *memPresets) SaveConfig(k, v string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = map[string]string{}
	}
	m.data[k] = v
	return nil
}

func (m *memPresets) LoadConfigMap() (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for k, v := range m.data {
		out[k] = v
	}
	return out, m.err
}

type fakeFeed struct {
	started, stopped atomic.Int32
	connected        atomic.Bool
}

func (f *fakeFeed) Start(ctx context.Context) error { f.started.Add(1); f.connected.Store(true); return nil }
func (f *fakeFeed) Stop()                           { f.stopped.Add(1); f.connected.Store(false) }
func (f *fakeFeed) IsConnected() bool               { return f.connected.Load() }

func referenceSnapshot() *domain.BookSnapshot {
	return &domain.BookSnapshot{
		Exchange:  "OKX",
		Symbol:    "BTC-USDT-SWAP",
		Timestamp: time.Date(2025, 5, 4, 10, 39, 13, 0, time.UTC),
		Asks:      []domain.PriceLevel{{Price: 50000, Size: 1.5}, {Price: 50001, Size: 2}},
		Bids:      []domain.PriceLevel{{Price: 49999, Size: 1}, {Price: 49998, Size: 2.5}},
	}
}

func feedEvent(snap *domain.BookSnapshot, latencyMs float64) *event.BookUpdateEvent {
	ev := &event.BookUpdateEvent{Snapshot: snap}
	ev.Ts = time.Now()
	if latencyMs != 0 {
		ev.HasLatency = true
		ev.Latency = domain.LatencySample{DelayMs: latencyMs, ReceivedAt: ev.Ts}
	}
	return ev
}

func newTestService(opts ...Option) *SimulationService {
	return NewSimulationService(
		engine.NewBookState(engine.DefaultHistorySize),
		engine.NewCostEngine(engine.DefaultModelParams()),
		opts...,
	)
}

func TestSimulate_EmptyBook(t *testing.T) {
	s := newTestService()

	res, err := s.Simulate(context.Background(), domain.SimulationRequest{Quantity: 10, FeeTier: 1, Volatility: 0.02})
	if err != nil {
		t.Fatalf("Simulate on empty book returned %v", err)
	}
	if res.Slippage != 0 || res.MarketImpact != 0 || res.Fee != 0 {
		t.Errorf("expected zero costs, got %+v", res)
	}
	if res.MakerRatio != 0.5 || res.TakerRatio != 0.5 {
		t.Errorf("MakerRatio = %v, want 0.5", res.MakerRatio)
	}
}

func TestSimulate_RejectsInvalid(t *testing.T) {
	rec := &countingRecorder{}
	s := newTestService(WithMetrics(rec))
	s.OnFeedEvent(feedEvent(referenceSnapshot(), 0))

	tests := []struct {
		name  string
		req   domain.SimulationRequest
		field string
	}{
		{"zero quantity", domain.SimulationRequest{Quantity: 0, Volatility: 0.02}, "quantity"},
		{"negative quantity", domain.SimulationRequest{Quantity: -1, Volatility: 0.02}, "quantity"},
		{"NaN quantity", domain.SimulationRequest{Quantity: math.NaN(), Volatility: 0.02}, "quantity"},
		{"tier too high", domain.SimulationRequest{Quantity: 1, FeeTier: 6, Volatility: 0.02}, "fee_tier"},
		{"tier negative", domain.SimulationRequest{Quantity: 1, FeeTier: -1, Volatility: 0.02}, "fee_tier"},
		{"volatility too low", domain.SimulationRequest{Quantity: 1, Volatility: 0.0005}, "volatility"},
		{"volatility too high", domain.SimulationRequest{Quantity: 1, Volatility: 0.6}, "volatility"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Simulate(context.Background(), tt.req)
			if !errors.Is(err, domain.ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
			var ve *domain.ValidationError
			if errors.As(err, &ve) && ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}

	if got := rec.rejected.Load(); got != int32(len(tests)) {
		t.Errorf("rejected = %d, want %d", got, len(tests))
	}
	if rec.sims.Load() != 0 {
		t.Error("rejected requests must not count as simulations")
	}
}

func TestSimulate_BoundsInclusive(t *testing.T) {
	s := newTestService()
	for _, req := range []domain.SimulationRequest{
		{Quantity: 1, FeeTier: 0, Volatility: 0.001},
		{Quantity: 1, FeeTier: 5, Volatility: 0.5},
	} {
		if _, err := s.Simulate(context.Background(), req); err != nil {
			t.Errorf("Simulate(%+v) = %v", req, err)
		}
	}
}

func TestSimulate_ReferenceBook(t *testing.T) {
	s := newTestService()
	s.OnFeedEvent(feedEvent(referenceSnapshot(), 0))

	req := domain.SimulationRequest{Quantity: 1, FeeTier: 0, Volatility: 0.02}
	res, err := s.Simulate(context.Background(), req)
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}

	wantSlippage := 0.0001 + 0.02*math.Sqrt(1/3.5)
	if math.Abs(res.Slippage-wantSlippage) > 1e-9 {
		t.Errorf("Slippage = %.12f, want %.12f", res.Slippage, wantSlippage)
	}
	if math.Abs(res.MidPrice-49999.5) > 1e-9 {
		t.Errorf("MidPrice = %v", res.MidPrice)
	}
	if _, err := uuid.Parse(res.RequestID); err != nil {
		t.Errorf("RequestID %q is not a UUID: %v", res.RequestID, err)
	}
}

func TestSimulate_Idempotent(t *testing.T) {
	s := newTestService()
	s.OnFeedEvent(feedEvent(referenceSnapshot(), 0))
	req := domain.SimulationRequest{Quantity: 2.75, FeeTier: 3, Volatility: 0.04}

	a, _ := s.Simulate(context.Background(), req)
	b, _ := s.Simulate(context.Background(), req)

	if a.RequestID == b.RequestID {
		t.Error("each call should get its own request id")
	}
	a.RequestID, b.RequestID = "", ""
	if a != b {
		t.Errorf("results differ:\n%+v\n%+v", a, b)
	}
}

func TestSimulate_Cancelled(t *testing.T) {
	s := newTestService()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Simulate(ctx, domain.SimulationRequest{Quantity: 1, Volatility: 0.01}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestOnFeedEvent_LatencyAndNotifications(t *testing.T) {
	rec := &countingRecorder{}
	s := newTestService(WithMetrics(rec), WithLatencyWindow(10))

	s.OnFeedEvent(feedEvent(referenceSnapshot(), 12.5))
	s.OnFeedEvent(feedEvent(referenceSnapshot(), 0)) // no sample
	last := referenceSnapshot()
	last.Asks[0].Price = 50000.5
	s.OnFeedEvent(feedEvent(last, 7.5))

	st := s.LatencyStats()
	if st.Count != 2 || st.AvgMs != 10 || st.MaxMs != 12.5 || st.LastMs != 7.5 {
		t.Errorf("LatencyStats = %+v", st)
	}
	if st.AvgProcessingMs < 0 {
		t.Errorf("AvgProcessingMs = %v", st.AvgProcessingMs)
	}
	if rec.events.Load() != 3 {
		t.Errorf("events = %d, want 3", rec.events.Load())
	}

	// Latest wins: only the final snapshot and sample are waiting.
	select {
	case got := <-s.BookUpdates():
		if got != last {
			t.Error("BookUpdates should hold the latest snapshot")
		}
	default:
		t.Fatal("no book update pending")
	}
	select {
	case <-s.BookUpdates():
		t.Error("older snapshots should have been replaced")
	default:
	}
	select {
	case sample := <-s.LatencyUpdates():
		if sample.DelayMs != 7.5 {
			t.Errorf("latest sample = %v", sample.DelayMs)
		}
	default:
		t.Fatal("no latency update pending")
	}

	s.OnFeedEvent(nil)
	s.OnFeedEvent(&event.BookUpdateEvent{})
	if s.Status().Updates != 3 {
		t.Errorf("Updates = %d, nil events must be ignored", s.Status().Updates)
	}
}

func TestOnFeedEvent_CrossedBook(t *testing.T) {
	rec := &countingRecorder{}
	s := newTestService(WithMetrics(rec))

	crossed := &domain.BookSnapshot{
		Asks: []domain.PriceLevel{{Price: 99, Size: 1}},
		Bids: []domain.PriceLevel{{Price: 100, Size: 1}},
	}
	s.OnFeedEvent(feedEvent(crossed, 0))
	s.OnFeedEvent(feedEvent(crossed, 0))

	if rec.crossed.Load() != 1 {
		t.Errorf("crossed transitions = %d, want 1", rec.crossed.Load())
	}
	if !s.Status().Crossed {
		t.Error("Status should report crossed")
	}

	// Passed through, not repaired
	if ask, _ := s.Book().BestAsk(); ask != 99 {
		t.Errorf("BestAsk = %v, crossed book should be applied as-is", ask)
	}
	res, err := s.Simulate(context.Background(), domain.SimulationRequest{Quantity: 1, Volatility: 0.01})
	if err != nil || !res.BookCrossed {
		t.Errorf("result should flag crossed book, got %+v, %v", res, err)
	}

	s.OnFeedEvent(feedEvent(referenceSnapshot(), 0))
	if s.Status().Crossed {
		t.Error("crossed flag should clear")
	}
	s.OnFeedEvent(feedEvent(crossed, 0))
	if rec.crossed.Load() != 2 {
		t.Errorf("crossed transitions = %d, want 2", rec.crossed.Load())
	}
}

func TestPresets(t *testing.T) {
	t.Run("restored as defaults", func(t *testing.T) {
		store := &memPresets{data: map[string]string{
			domain.PresetQuantity:   "250",
			domain.PresetFeeTier:    "4",
			domain.PresetVolatility: "0.03",
		}}
		s := newTestService(WithPresetStore(store))

		want := domain.SimulationRequest{Quantity: 250, FeeTier: 4, Volatility: 0.03}
		if got := s.Defaults(); got != want {
			t.Errorf("Defaults = %+v, want %+v", got, want)
		}
	})

	t.Run("invalid stored values ignored", func(t *testing.T) {
		store := &memPresets{data: map[string]string{domain.PresetFeeTier: "9"}}
		def := domain.SimulationRequest{Quantity: 5, FeeTier: 1, Volatility: 0.02}
		s := newTestService(WithPresetStore(store), WithDefaults(def))

		if got := s.Defaults(); got != def {
			t.Errorf("Defaults = %+v, want %+v", got, def)
		}
	})

	t.Run("load failure keeps defaults", func(t *testing.T) {
		store := &memPresets{err: errors.New("disk gone")}
		def := domain.SimulationRequest{Quantity: 5, FeeTier: 1, Volatility: 0.02}
		s := newTestService(WithPresetStore(store), WithDefaults(def))

		if got := s.Defaults(); got != def {
			t.Errorf("Defaults = %+v, want %+v", got, def)
		}
	})

	t.Run("simulate persists new parameters", func(t *testing.T) {
		store := &memPresets{}
		s := newTestService(WithPresetStore(store))

		req := domain.SimulationRequest{Quantity: 42.5, FeeTier: 2, Volatility: 0.07}
		if _, err := s.Simulate(context.Background(), req); err != nil {
			t.Fatalf("Simulate failed: %v", err)
		}
		m, _ := store.LoadConfigMap()
		if m[domain.PresetQuantity] != "42.5" || m[domain.PresetFeeTier] != "2" || m[domain.PresetVolatility] != "0.07" {
			t.Errorf("stored presets = %v", m)
		}
		if s.Defaults() != req {
			t.Errorf("Defaults = %+v, want %+v", s.Defaults(), req)
		}

		res, err := s.SimulateWithDefaults(context.Background())
		if err != nil || res.RequestID == "" {
			t.Errorf("SimulateWithDefaults = %+v, %v", res, err)
		}
	})
}

func TestLifecycleAndStatus(t *testing.T) {
	s := newTestService(WithIdentity("OKX", "BTC-USDT-SWAP"))

	if err := s.Start(context.Background()); err == nil {
		t.Error("Start without feed should fail")
	}
	s.Stop() // no feed, must not panic

	feed := &fakeFeed{}
	s.AttachFeed(feed)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	st := s.Status()
	if !st.Connected || st.Exchange != "OKX" || st.Symbol != "BTC-USDT-SWAP" {
		t.Errorf("Status = %+v", st)
	}
	if st.BidLevels != 0 || !st.LastUpdate.IsZero() {
		t.Errorf("empty book status = %+v", st)
	}

	s.OnFeedEvent(feedEvent(referenceSnapshot(), 0))
	st = s.Status()
	if st.BidLevels != 2 || st.AskLevels != 2 || st.LastUpdate.IsZero() {
		t.Errorf("Status after update = %+v", st)
	}

	s.Stop()
	if feed.stopped.Load() != 1 || s.Status().Connected {
		t.Error("Stop should stop the feed")
	}
}

// Simulate running against a stream of applies must always see one whole snapshot.
func TestSimulate_ConcurrentWithFeed(t *testing.T) {
	s := newTestService()
	s.OnFeedEvent(feedEvent(referenceSnapshot(), 0))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := domain.SimulationRequest{Quantity: 1, FeeTier: 1, Volatility: 0.02}
			for {
				select {
				case <-stop:
					return
				default:
				}
				res, err := s.Simulate(context.Background(), req)
				if err != nil {
					t.Errorf("Simulate failed: %v", err)
					return
				}
				// Every applied book is balanced, so a torn read would skew this.
				if math.Abs(res.MakerRatio-0.5) > 1e-12 {
					t.Errorf("MakerRatio = %v from a torn snapshot", res.MakerRatio)
					return
				}
			}
		}()
	}

	for i := 0; i < 1000; i++ {
		size := float64(i%7 + 1)
		s.OnFeedEvent(feedEvent(&domain.BookSnapshot{
			Asks: []domain.PriceLevel{{Price: 101, Size: size}},
			Bids: []domain.PriceLevel{{Price: 100, Size: size}},
		}, 0))
	}
	close(stop)
	wg.Wait()
}
