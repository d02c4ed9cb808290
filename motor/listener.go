package motor

import (
	"sync"
	"time"
)

// Listener receives movement transitions for one motor. At most one listener
// is registered at a time; registering again replaces the previous one.
type Listener interface {
	RotationStarted(motor string, position int, stalled bool, at time.Time)
	RotationStopped(motor string, position int, stalled bool, at time.Time)
}

type motorEvent struct {
	started  bool
	motor    string
	position int
	stalled  bool
	at       time.Time
}

// notifier decouples listener execution from control-loop timing: the
// regulator publishes transitions into a bounded queue and a dedicated
// goroutine dispatches them, so a slow listener can never delay a tick.
// When the queue is full the oldest event is dropped.
type notifier struct {
	mu       sync.Mutex
	listener Listener

	events chan motorEvent
	once   sync.Once
	idle   sync.WaitGroup
}

const notifierDepth = 16

func newNotifier() *notifier {
	n := &notifier{
		events: make(chan motorEvent, notifierDepth),
	}
	n.idle.Add(1)
	go n.drain()
	return n
}

func (n *notifier) add(l Listener) {
	n.mu.Lock()
	n.listener = l
	n.mu.Unlock()
}

func (n *notifier) remove() Listener {
	n.mu.Lock()
	old := n.listener
	n.listener = nil
	n.mu.Unlock()
	return old
}

// publish never blocks: the control loop must not wait on listeners.
func (n *notifier) publish(ev motorEvent) {
	for {
		select {
		case n.events <- ev:
			return
		default:
		}
		select {
		case <-n.events: // shed the oldest event
		default:
		}
	}
}

func (n *notifier) drain() {
	defer n.idle.Done()
	for ev := range n.events {
		n.mu.Lock()
		l := n.listener
		n.mu.Unlock()
		if l == nil {
			continue
		}
		if ev.started {
			l.RotationStarted(ev.motor, ev.position, ev.stalled, ev.at)
		} else {
			l.RotationStopped(ev.motor, ev.position, ev.stalled, ev.at)
		}
	}
}

// close flushes queued events and stops the dispatch goroutine. The caller
// guarantees no further publishes.
func (n *notifier) close() {
	n.once.Do(func() {
		close(n.events)
	})
	n.idle.Wait()
}
