package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"trade_sim/internal/domain"
)

// StatusSource is what the reporter polls each interval.
type StatusSource interface {
	SimulateWithDefaults(ctx context.Context) (domain.SimulationResult, error)
	Status() domain.FeedStatus
	LatencyStats() domain.LatencyStats
	BookUpdates() <-chan *domain.BookSnapshot
	LatencyUpdates() <-chan domain.LatencySample
}

// Reporter periodically re-runs the default simulation against the live book
// and logs the outcome, standing in for a display refresh loop.
type Reporter struct {
	src      StatusSource
	interval time.Duration
	logger   *slog.Logger

	mu          sync.RWMutex
	last        domain.SimulationResult
	hasLast     bool
	connected   bool
	lastLatency domain.LatencySample
}

// NewReporter creates a reporter refreshing every interval.
func NewReporter(src StatusSource, interval time.Duration, logger *slog.Logger) *Reporter {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		src:      src,
		interval: interval,
		logger:   logger.With("component", "reporter"),
	}
}

// Run refreshes until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Reporter) tick(ctx context.Context) {
	st := r.src.Status()

	r.mu.Lock()
	changed := st.Connected != r.connected
	r.connected = st.Connected
	r.mu.Unlock()

	if changed {
		if st.Connected {
			r.logger.Info("feed status", slog.String("state", "connected"),
				slog.Int("bids", st.BidLevels), slog.Int("asks", st.AskLevels))
		} else {
			r.logger.Warn("feed status", slog.String("state", "disconnected, attempting to reconnect"))
		}
	}

	// Latest wins, so at most one pending snapshot.
	select {
	case snap := <-r.src.BookUpdates():
		r.logger.Debug("order book",
			slog.Int("bids", len(snap.Bids)),
			slog.Int("asks", len(snap.Asks)),
			slog.Time("timestamp", snap.Timestamp),
		)
	default:
	}

	select {
	case sample := <-r.src.LatencyUpdates():
		r.mu.Lock()
		r.lastLatency = sample
		r.mu.Unlock()
		r.logger.Debug("latency",
			slog.Float64("delay_ms", sample.DelayMs),
			slog.Float64("processing_ms", sample.ProcessingMs),
		)
	default:
	}

	if st.Updates == 0 {
		return
	}

	res, err := r.src.SimulateWithDefaults(ctx)
	if err != nil {
		r.logger.Warn("default simulation failed", slog.Any("error", err))
		return
	}

	r.mu.Lock()
	r.last = res
	r.hasLast = true
	r.mu.Unlock()

	lat := r.src.LatencyStats()
	r.logger.Debug("simulation refreshed",
		slog.String("request_id", res.RequestID),
		slog.Float64("slippage", res.Slippage),
		slog.Float64("fee", res.Fee),
		slog.Float64("market_impact", res.MarketImpact),
		slog.Float64("maker_ratio", res.MakerRatio),
		slog.Float64("total_cost", res.TotalCost),
		slog.Bool("crossed", res.BookCrossed),
		slog.Float64("latency_avg_ms", lat.AvgMs),
		slog.Float64("latency_max_ms", lat.MaxMs),
	)
}

// LastLatency returns the most recent latency sample seen by the reporter.
func (r *Reporter) LastLatency() domain.LatencySample {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastLatency
}

// Last returns the most recent refreshed result.
func (r *Reporter) Last() (domain.SimulationResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.hasLast
}
