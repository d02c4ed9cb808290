package tacho

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	CMD_ALLSTOP     = 0x0000
	CMD_SET_PWM     = 0x0010
	CMD_READ_TACHO  = 0x0020
	CMD_RESET_TACHO = 0x0030
	CMD_VERSION     = 0x03E0

	// A single resend absorbs a transient glitch; after that the command
	// fails and the fault is surfaced to the caller.
	CMD_MAX_RETRIES = 2
	CMD_TIMEOUT     = 5 * time.Millisecond
)

var (
	ERR_MAX_RETRIES = errors.New("CMD_MAX_RETRIES reached while attempting to send")
	ERR_SEND_ABORT  = errors.New("send has been aborted")
)

// Msg is one frame exchanged with a motor controller node.
type Msg struct {
	ID   uint32
	Cmd  uint16
	Data []byte
}

// Bus carries frames to and from controller nodes. Implementations route
// received frames to the listener registered for the node id.
type Bus interface {
	SendMsg(msg Msg) error
	AddListener(nodeId uint32, rxchan chan Msg)
}

type NodeCommand interface {
	ID() uint16
	Process() (resp Msg, err error)
	Ack(msg Msg)
	Msg() Msg
	Abort() error
}

type BaseCommand struct {
	node  *NodePort
	msg   Msg
	ack   chan Msg
	abort chan struct{}
}

// Process sends the command and waits for the node's acknowledgement,
// resending on CMD_TIMEOUT up to CMD_MAX_RETRIES sends in total. Closing the
// abort channel cancels the exchange. The acknowledgement frame is returned
// for upstream decoding.
func (c *BaseCommand) Process() (resp Msg, err error) {
	c.node.register(c)
	defer c.node.unregister(c)

	if c.ack == nil {
		c.ack = make(chan Msg, 1)
	}
	if c.abort == nil {
		c.abort = make(chan struct{})
	}

	msg := c.Msg()
	for i := 0; i < CMD_MAX_RETRIES; i++ {
		if err = c.node.sendMsg(msg); err != nil {
			return resp, err
		}

		select {
		case resp = <-c.ack:
			return resp, nil

		case <-c.abort:
			return resp, ERR_SEND_ABORT

		case <-time.After(CMD_TIMEOUT):
		}
	}

	return resp, ERR_MAX_RETRIES
}

func (c *BaseCommand) ID() uint16 {
	return c.Msg().Cmd
}

func (c *BaseCommand) Msg() Msg {
	return c.msg
}

func (c *BaseCommand) Ack(msg Msg) {
	select {
	case c.ack <- msg:
	default:
	}
}

func (c *BaseCommand) Abort() error {
	if c.abort == nil {
		return errors.New("send not yet attempted")
	}

	close(c.abort)
	return nil
}

// Requests the node firmware version; the response data is the version string.
type cmdVersion struct {
	*BaseCommand
}

func (c *cmdVersion) Msg() Msg {
	c.msg.Cmd = CMD_VERSION
	c.msg.ID = c.node.id
	return c.msg
}

// Sets the output power and brake mode in one frame.
type cmdSetPWM struct {
	*BaseCommand
	power int
	brake BrakeMode
}

func (c *cmdSetPWM) Msg() Msg {
	c.msg.Cmd = CMD_SET_PWM
	c.msg.ID = c.node.id
	c.msg.Data = []byte{byte(int8(c.power)), byte(c.brake)}
	return c.msg
}

// Requests the current tachometer count; the response data is a signed
// 32-bit big endian count.
type cmdReadTacho struct {
	*BaseCommand
}

func (c *cmdReadTacho) Msg() Msg {
	c.msg.Cmd = CMD_READ_TACHO
	c.msg.ID = c.node.id
	return c.msg
}

func (c *cmdReadTacho) decode(resp Msg) (int, error) {
	var count int32
	if err := binary.Read(bytes.NewReader(resp.Data), binary.BigEndian, &count); err != nil {
		return 0, err
	}
	return int(count), nil
}

// Cuts power and brakes every output on the node.
type cmdAllStop struct {
	*BaseCommand
}

func (c *cmdAllStop) Msg() Msg {
	c.msg.Cmd = CMD_ALLSTOP
	c.msg.ID = c.node.id
	return c.msg
}
