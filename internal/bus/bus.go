// Package bus provides the observation funnel between monitors and the
// pattern engine.
package bus

import (
	"sync"

	"github.com/fentz26/murmur/internal/models"
)

// DefaultBuffer is the channel capacity of a Bus. Sized so that a stalled
// consumer absorbs several full sampling rounds before publishers feel
// backpressure.
const DefaultBuffer = 1024

// Bus receives observations from all monitors, stamps each with a
// process-wide monotonic sequence number, and fans them out to a single
// consumer in publish order. One Publish call is atomic: a monitor's
// batch is sequenced and enqueued without interleaving, so per-monitor
// order is preserved end to end.
type Bus struct {
	mu     sync.Mutex
	seq    uint64
	ch     chan models.Observation
	closed bool
}

// New creates a Bus with the default buffer size.
func New() *Bus {
	return NewWithBuffer(DefaultBuffer)
}

// NewWithBuffer creates a Bus with an explicit buffer size.
func NewWithBuffer(size int) *Bus {
	if size < 1 {
		size = 1
	}
	return &Bus{ch: make(chan models.Observation, size)}
}

// Publish sequences a batch of observations and enqueues them for the
// consumer. Safe for concurrent use by multiple monitors.
func (b *Bus) Publish(obs []models.Observation) {
	if len(obs) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for i := range obs {
		b.seq++
		obs[i].Seq = b.seq
		b.ch <- obs[i]
	}
}

// Observations returns the consumer side of the bus.
func (b *Bus) Observations() <-chan models.Observation {
	return b.ch
}

// Close closes the bus. Publishes after Close are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}

// Seq returns the last assigned sequence number.
func (b *Bus) Seq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}
