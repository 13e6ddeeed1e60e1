package event

import (
	"sync"
)

// bookUpdatePool recycles BookUpdateEvent envelopes on the feed hotpath.
// The snapshot itself is never pooled: ownership passes to the book state.
//
// Usage:
//
//	ev := AcquireBookUpdateEvent()
//	ev.Snapshot = snap
//	handler.OnFeedEvent(ev)
//	ReleaseBookUpdateEvent(ev)  // handlers must not retain ev
var bookUpdatePool = sync.Pool{
	New: func() interface{} {
		return &BookUpdateEvent{}
	},
}

// AcquireBookUpdateEvent gets a BookUpdateEvent from the pool.
// The returned event has zero values and must be initialized.
func AcquireBookUpdateEvent() *BookUpdateEvent {
	return bookUpdatePool.Get().(*BookUpdateEvent)
}

// ReleaseBookUpdateEvent resets ev and returns it to the pool.
func ReleaseBookUpdateEvent(ev *BookUpdateEvent) {
	if ev == nil {
		return
	}
	*ev = BookUpdateEvent{}
	bookUpdatePool.Put(ev)
}

// Warmup pre-allocates event envelopes to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 256

	evs := make([]*BookUpdateEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		evs = append(evs, AcquireBookUpdateEvent())
	}
	for _, ev := range evs {
		ReleaseBookUpdateEvent(ev)
	}
}
