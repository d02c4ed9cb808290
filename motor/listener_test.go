package motor

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNotifier(t *testing.T) {
	Convey("events reach the registered listener in order", t, func() {
		n := newNotifier()
		l := &recordingListener{}
		n.add(l)

		n.publish(motorEvent{started: true, motor: "A", position: 1})
		n.publish(motorEvent{motor: "A", position: 2})
		n.close()

		started, stopped := l.counts()
		So(started, ShouldEqual, 1)
		So(stopped, ShouldEqual, 1)
		So(l.stopped[0].position, ShouldEqual, 2)
	})

	Convey("publishing with no listener is a no-op", t, func() {
		n := newNotifier()
		n.publish(motorEvent{motor: "A"})
		n.close()
	})

	Convey("a slow listener never blocks the publisher", t, func() {
		n := newNotifier()
		defer n.close()

		block := make(chan struct{})
		n.add(&blockingListener{block: block})

		// First event parks the dispatcher; the rest overflow the queue.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < notifierDepth*3; i++ {
				n.publish(motorEvent{motor: "A", position: i})
			}
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			So("publish blocked on a slow listener", ShouldBeEmpty)
		}
		close(block)
	})

	Convey("overflow sheds the oldest events, not the newest", t, func() {
		n := newNotifier()
		block := make(chan struct{})
		l := &blockingListener{block: block}
		n.add(l)

		n.publish(motorEvent{motor: "A", position: -1}) // parks the dispatcher
		for i := 0; i < notifierDepth*2; i++ {
			n.publish(motorEvent{motor: "A", position: i})
		}
		close(block)
		n.close()

		last := l.positions[len(l.positions)-1]
		So(last, ShouldEqual, notifierDepth*2-1)
	})
}

type blockingListener struct {
	block     <-chan struct{}
	positions []int
}

func (l *blockingListener) RotationStarted(motor string, position int, stalled bool, at time.Time) {
	l.record(position)
}

func (l *blockingListener) RotationStopped(motor string, position int, stalled bool, at time.Time) {
	l.record(position)
}

func (l *blockingListener) record(position int) {
	<-l.block
	l.positions = append(l.positions, position)
}
