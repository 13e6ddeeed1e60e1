package engine

import (
	"sync"
	"sync/atomic"

	"trade_sim/internal/domain"
)

// DefaultHistorySize is the number of superseded snapshots kept for diagnostics.
const DefaultHistorySize = 32

// BookState holds the latest book snapshot for one symbol.
// Apply swaps a pointer, so readers see either the old or the new snapshot
// in full and never a mix of both.
type BookState struct {
	current atomic.Pointer[domain.BookSnapshot]
	updates atomic.Uint64

	// Diagnostic ring buffer, newest at head-1.
	mu      sync.Mutex
	history []*domain.BookSnapshot
	head    int
	count   int
}

// NewBookState creates an empty book. historySize <= 0 disables the ring.
func NewBookState(historySize int) *BookState {
	s := &BookState{}
	if historySize > 0 {
		s.history = make([]*domain.BookSnapshot, historySize)
	}
	return s
}

// Apply replaces the held snapshot. The caller hands over ownership of snap.
func (s *BookState) Apply(snap *domain.BookSnapshot) {
	if snap == nil {
		return
	}
	s.current.Store(snap)
	s.updates.Add(1)

	if len(s.history) == 0 {
		return
	}
	s.mu.Lock()
	s.history[s.head] = snap
	s.head = (s.head + 1) % len(s.history)
	if s.count < len(s.history) {
		s.count++
	}
	s.mu.Unlock()
}

// Snapshot returns the current snapshot, or nil before the first Apply.
// The returned value must be treated as read-only.
func (s *BookState) Snapshot() *domain.BookSnapshot {
	return s.current.Load()
}

// BestAsk returns the top ask, ok=false when nothing has been applied or the side is empty.
func (s *BookState) BestAsk() (float64, bool) {
	return s.Snapshot().BestAsk()
}

// BestBid returns the top bid, ok=false when nothing has been applied or the side is empty.
func (s *BookState) BestBid() (float64, bool) {
	return s.Snapshot().BestBid()
}

// TopDepth sums ask sizes across the first n levels; 0 for an empty book.
func (s *BookState) TopDepth(n int) float64 {
	return s.Snapshot().AskDepth(n)
}

// Updates returns how many snapshots have been applied.
func (s *BookState) Updates() uint64 {
	return s.updates.Load()
}

// Recent returns up to n retained snapshots, newest first. nil for n <= 0.
func (s *BookState) Recent(n int) []*domain.BookSnapshot {
	if n <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n > s.count {
		n = s.count
	}
	out := make([]*domain.BookSnapshot, 0, n)
	idx := s.head
	for i := 0; i < n; i++ {
		idx--
		if idx < 0 {
			idx = len(s.history) - 1
		}
		out = append(out, s.history[idx])
	}
	return out
}
