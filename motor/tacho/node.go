package tacho

import (
	"fmt"
	"sync"

	"github.com/Masterminds/semver"
)

const (
	NODE_VERSION = "~1.0"
)

// NodePort drives one motor controller node over a Bus and exposes it as a
// Port. Every exchange is a command/acknowledgement pair; acknowledgements
// are routed back to the pending command by command id.
type NodePort struct {
	id   uint32
	bus  Bus
	lock sync.Mutex

	cmdLock    sync.Mutex
	pendingCmd map[uint16]NodeCommand

	rx     chan Msg
	done   chan struct{}
	closed bool
}

// OpenNode binds to the node at the given bus address and validates its
// firmware version against NODE_VERSION before handing out the port.
func OpenNode(bus Bus, id uint32) (n *NodePort, err error) {
	n = &NodePort{
		id:         id,
		bus:        bus,
		pendingCmd: make(map[uint16]NodeCommand),
		rx:         make(chan Msg, 8),
		done:       make(chan struct{}),
	}

	bus.AddListener(id, n.rx)
	go n.listen()

	vc := &cmdVersion{&BaseCommand{node: n}}
	resp, err := vc.Process()
	if err != nil {
		return nil, err
	}

	versionString := string(resp.Data)
	if versionString == "DEV" {
		// direct development build, trusted for now
		return n, nil
	}

	semVer, err := semver.NewVersion(versionString)
	if err != nil {
		return nil, fmt.Errorf("node %d reported unusable version %q: %v", id, versionString, err)
	}

	constraint, err := semver.NewConstraint(NODE_VERSION)
	if err != nil {
		return nil, err
	}

	if !constraint.Check(semVer) {
		return nil, fmt.Errorf("unable to use node %d: received version %s - require %s", id, versionString, NODE_VERSION)
	}

	return n, nil
}

// ReadCount implements Port.
func (n *NodePort) ReadCount() (int, error) {
	cmd := &cmdReadTacho{&BaseCommand{node: n}}
	resp, err := cmd.Process()
	if err != nil {
		return 0, err
	}
	return cmd.decode(resp)
}

// Actuate implements Port.
func (n *NodePort) Actuate(power int, brake BrakeMode) error {
	cmd := &cmdSetPWM{
		BaseCommand: &BaseCommand{node: n},
		power:       power,
		brake:       brake,
	}
	_, err := cmd.Process()
	return err
}

// Close stops all outputs on the node and stops routing acknowledgements.
func (n *NodePort) Close() error {
	n.cmdLock.Lock()
	if n.closed {
		n.cmdLock.Unlock()
		return nil
	}
	n.closed = true
	n.cmdLock.Unlock()

	stop := &cmdAllStop{&BaseCommand{node: n}}
	_, err := stop.Process()
	close(n.done)
	return err
}

func (n *NodePort) sendMsg(msg Msg) error {
	n.lock.Lock()
	defer n.lock.Unlock()

	return n.bus.SendMsg(msg)
}

func (n *NodePort) register(cmd NodeCommand) {
	n.cmdLock.Lock()
	n.pendingCmd[cmd.ID()] = cmd
	n.cmdLock.Unlock()
}

func (n *NodePort) unregister(cmd NodeCommand) {
	n.cmdLock.Lock()
	delete(n.pendingCmd, cmd.ID())
	n.cmdLock.Unlock()
}

func (n *NodePort) listen() {
	for {
		select {
		case msg := <-n.rx:
			n.routeACK(msg)
		case <-n.done:
			return
		}
	}
}

func (n *NodePort) routeACK(msg Msg) {
	n.cmdLock.Lock()
	cmd, ok := n.pendingCmd[msg.Cmd]
	n.cmdLock.Unlock()

	if ok {
		cmd.Ack(msg)
	}
}
