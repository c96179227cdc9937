package intervention

import "sync"

// PauseSignal is the external-signal half of a Pause gate: the host holds a
// PauseSignal and calls Resume when whatever manual condition the gate named
// is satisfied. A PauseGate blocks on C() until then.
type PauseSignal struct {
	once sync.Once
	ch   chan struct{}
}

// NewPauseSignal builds an unresolved pause signal.
func NewPauseSignal() *PauseSignal {
	return &PauseSignal{ch: make(chan struct{})}
}

// Resume satisfies the pause condition. Safe to call more than once or
// concurrently; only the first call has an effect.
func (p *PauseSignal) Resume() {
	p.once.Do(func() { close(p.ch) })
}

// C returns the channel a PauseGate waits on.
func (p *PauseSignal) C() <-chan struct{} {
	return p.ch
}
