package event

import (
	"sync/atomic"
	"time"

	"trade_sim/internal/domain"
)

// BaseEvent carries the feed-local sequence number and receipt time.
type BaseEvent struct {
	Seq uint64
	Ts  time.Time
}

// BookUpdateEvent is emitted by the feed once per parsed message.
type BookUpdateEvent struct {
	BaseEvent
	Snapshot *domain.BookSnapshot

	// Latency is only meaningful when HasLatency is set, i.e. the venue
	// timestamp parsed.
	Latency    domain.LatencySample
	HasLatency bool
}

// NextSeq increments counter and returns the new value.
func NextSeq(counter *atomic.Uint64) uint64 {
	return counter.Add(1)
}
