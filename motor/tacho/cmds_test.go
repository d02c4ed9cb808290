package tacho

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestBaseCommand(t *testing.T) {
	bus := newTestBus()
	node, err := OpenNode(bus, 0x1234)
	if err != nil {
		t.Fatal(err)
	}

	Convey("without sending, abort errors", t, func() {
		cmd := &BaseCommand{}
		So(cmd.Abort(), ShouldNotBeNil)
	})

	Convey("an unacknowledged command retries once then times out", t, func() {
		bus.mu.Lock()
		bus.silent = true
		bus.txCount = 0
		bus.mu.Unlock()

		cmd := &BaseCommand{node: node, msg: Msg{ID: node.id, Cmd: 0x0100}}
		_, err := cmd.Process()
		So(err, ShouldEqual, ERR_MAX_RETRIES)
		So(bus.sends(), ShouldEqual, CMD_MAX_RETRIES)
	})

	Convey("aborting cancels the exchange before the retry budget", t, func() {
		cmd := &BaseCommand{node: node, msg: Msg{ID: node.id, Cmd: 0x0100}}
		cmd.abort = make(chan struct{})
		go cmd.Abort()

		bus.mu.Lock()
		bus.txCount = 0
		bus.mu.Unlock()

		_, err := cmd.Process()
		So(err, ShouldEqual, ERR_SEND_ABORT)
		So(bus.sends(), ShouldBeLessThanOrEqualTo, CMD_MAX_RETRIES)
	})

	Convey("an acknowledged command returns the response", t, func() {
		bus.mu.Lock()
		bus.silent = false
		bus.mu.Unlock()

		cmd := &BaseCommand{node: node, msg: Msg{ID: node.id, Cmd: 0x0100}}
		resp, err := cmd.Process()
		So(err, ShouldBeNil)
		So(resp.ID, ShouldEqual, node.id)
		So(resp.Cmd, ShouldEqual, 0x0100)
	})
}
