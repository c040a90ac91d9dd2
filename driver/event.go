package driver

// event is a broadcast wakeup. Every goroutine that obtained the channel
// from C before a Signal observes that Signal. The owner's lock must be held
// around C and Signal.
type event struct {
	ch chan struct{}
}

func newEvent() *event {
	return &event{ch: make(chan struct{})}
}

// C returns the channel closed by the next Signal.
func (e *event) C() <-chan struct{} {
	return e.ch
}

// Signal wakes all current waiters and re-arms the event.
func (e *event) Signal() {
	close(e.ch)
	e.ch = make(chan struct{})
}
