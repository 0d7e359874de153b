package events

// WorkSignal is a process-local, coalescing notification that the queue may
// have new work. Notify never blocks: if a wake-up is already pending, the
// new one folds into it. The signal is transient and safe to miss.
type WorkSignal struct {
	ch chan struct{}
}

// NewWorkSignal creates a WorkSignal with a single pending slot.
func NewWorkSignal() *WorkSignal {
	return &WorkSignal{ch: make(chan struct{}, 1)}
}

// Notify records that work may be available. Multiple notifications between
// two waits coalesce into one.
func (s *WorkSignal) Notify() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// C returns the channel a consumer selects on to wait for a notification.
func (s *WorkSignal) C() <-chan struct{} {
	return s.ch
}
