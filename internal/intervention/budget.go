package intervention

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/octoreflex/govcircuit/internal/deliberation"
)

// CostModel gives the token cost of enforcing one Decision. Higher-impact
// decisions cost more, so a burst of high-severity proposals cannot exhaust
// gate capacity faster than an operator can keep up with HumanApproval
// requests. Proceed is free: it carries no gate and is never rate-limited.
var CostModel = map[deliberation.Decision]int{
	deliberation.Conditional: 2,
	deliberation.Pause:       5,
	deliberation.Reject:      1,
	deliberation.Defer:       1,
}

// Budget is a thread-safe token bucket throttling enforcement throughput.
// Grounded on the teacher's containment-action rate limiter, generalized
// from escalation.State transition costs to deliberation.Decision costs.
type Budget struct {
	mu           sync.Mutex
	capacity     int
	tokens       int
	refillPeriod time.Duration

	consumedTotal atomic.Uint64
	refillCount   atomic.Uint64

	stop chan struct{}
}

// NewBudget creates a Budget with the given capacity and starts its refill
// goroutine. capacity and refillPeriod must be positive. Call Close to stop
// the refill goroutine.
func NewBudget(capacity int, refillPeriod time.Duration) *Budget {
	if capacity <= 0 {
		panic("intervention.Budget: capacity must be > 0")
	}
	if refillPeriod <= 0 {
		panic("intervention.Budget: refillPeriod must be > 0")
	}
	b := &Budget{capacity: capacity, tokens: capacity, refillPeriod: refillPeriod, stop: make(chan struct{})}
	go b.refillLoop()
	return b
}

func (b *Budget) refillLoop() {
	ticker := time.NewTicker(b.refillPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			b.tokens = b.capacity
			b.mu.Unlock()
			b.refillCount.Add(1)
		case <-b.stop:
			return
		}
	}
}

// Consume attempts to withdraw cost tokens, returning whether they were
// available.
func (b *Budget) Consume(cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens >= cost {
		b.tokens -= cost
		b.consumedTotal.Add(uint64(cost))
		return true
	}
	return false
}

// ConsumeForDecision withdraws the standard cost for decision, per
// CostModel. Decisions with no listed cost (Proceed) are always free.
func (b *Budget) ConsumeForDecision(decision deliberation.Decision) bool {
	cost, ok := CostModel[decision]
	if !ok {
		return true
	}
	return b.Consume(cost)
}

// Remaining reports the current token count.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Capacity reports the bucket's maximum token count.
func (b *Budget) Capacity() int { return b.capacity }

// ConsumedTotal reports the lifetime total of tokens consumed.
func (b *Budget) ConsumedTotal() uint64 { return b.consumedTotal.Load() }

// RefillCount reports the number of refill cycles completed.
func (b *Budget) RefillCount() uint64 { return b.refillCount.Load() }

// Close stops the refill goroutine. Safe to call once.
func (b *Budget) Close() { close(b.stop) }
