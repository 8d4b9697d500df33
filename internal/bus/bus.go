package bus

import (
	"sync"

	"github.com/pvcharge/pvcharge/internal/metrics"
)

// Bus provides fan-out pub/sub semantics for control metric records. Each
// Subscribe call gets its own channel that receives every future publication.
// Past messages are not replayed. The implementation is safe for concurrent
// publishers and subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan *metrics.Record
}

// New creates a ready-to-use Bus.
func New() *Bus { return &Bus{} }

// Subscribe returns a read-only channel that will receive all future records.
func (b *Bus) Subscribe() <-chan *metrics.Record {
	ch := make(chan *metrics.Record, 1) // small buffer avoids blocking
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers the record to all subscribers in a best-effort,
// non-blocking way. A subscriber that hasn't drained its buffer misses this
// record and picks up the next one; the control loop must never stall on a
// slow sink.
func (b *Bus) Publish(rec *metrics.Record) {
	b.mu.RLock()
	subs := make([]chan *metrics.Record, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- rec:
		default:
			continue
		}
	}
}
