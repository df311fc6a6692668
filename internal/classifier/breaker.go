package classifier

import (
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateHalfOpen
	stateOpen
)

func (s breakerState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateHalfOpen:
		return "half-open"
	case stateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// breaker opens after threshold consecutive provider failures and rejects
// calls until cooldown has passed. The first call after that is a probe: a
// failure reopens the circuit, a success closes it.
type breaker struct {
	threshold int
	cooldown  time.Duration
	now       func() time.Time
	onChange  func(from, to breakerState)

	mu       sync.Mutex
	state    breakerState
	failures int
	expiry   time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// allow reports whether a call may go through.
func (b *breaker) allow() error {
	if b == nil || b.threshold <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateOpen {
		if b.now().Before(b.expiry) {
			return ErrCircuitOpen
		}
		b.setState(stateHalfOpen)
	}
	return nil
}

func (b *breaker) success() {
	if b == nil || b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.setState(stateClosed)
}

func (b *breaker) failure() {
	if b == nil || b.threshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.threshold {
		b.expiry = b.now().Add(b.cooldown)
		b.setState(stateOpen)
	}
}

func (b *breaker) setState(s breakerState) {
	if b.state == s {
		return
	}
	from := b.state
	b.state = s
	if b.onChange != nil {
		b.onChange(from, s)
	}
}
