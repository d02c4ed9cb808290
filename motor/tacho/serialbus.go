package tacho

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/tarm/serial"
)

// SerialBus frames node commands over a serial link. Wire format, big
// endian: node id (4), command (2), payload length (1), payload. Received
// frames are routed to the listener registered for their node id.
type SerialBus struct {
	mu   sync.Mutex
	port io.ReadWriteCloser

	lmu       sync.Mutex
	listeners map[uint32]chan Msg
}

// OpenSerialBus opens the serial device shared by one chain of controller
// nodes.
func OpenSerialBus(device string, baud int) (*SerialBus, error) {
	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		return nil, err
	}
	return NewSerialBus(port), nil
}

// NewSerialBus wraps an already-open link, which keeps the framing
// testable without hardware.
func NewSerialBus(port io.ReadWriteCloser) *SerialBus {
	b := &SerialBus{
		port:      port,
		listeners: make(map[uint32]chan Msg),
	}
	go b.reader()
	return b
}

func (b *SerialBus) AddListener(nodeId uint32, rxchan chan Msg) {
	b.lmu.Lock()
	b.listeners[nodeId] = rxchan
	b.lmu.Unlock()
}

func (b *SerialBus) SendMsg(msg Msg) error {
	frame := make([]byte, 7+len(msg.Data))
	binary.BigEndian.PutUint32(frame[0:4], msg.ID)
	binary.BigEndian.PutUint16(frame[4:6], msg.Cmd)
	frame[6] = byte(len(msg.Data))
	copy(frame[7:], msg.Data)

	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.port.Write(frame)
	return err
}

// Close tears down the link; the reader goroutine exits on the read error.
func (b *SerialBus) Close() error {
	return b.port.Close()
}

func (b *SerialBus) reader() {
	header := make([]byte, 7)
	for {
		if _, err := io.ReadFull(b.port, header); err != nil {
			return
		}

		msg := Msg{
			ID:  binary.BigEndian.Uint32(header[0:4]),
			Cmd: binary.BigEndian.Uint16(header[4:6]),
		}
		if n := int(header[6]); n > 0 {
			msg.Data = make([]byte, n)
			if _, err := io.ReadFull(b.port, msg.Data); err != nil {
				return
			}
		}

		b.lmu.Lock()
		c, ok := b.listeners[msg.ID]
		b.lmu.Unlock()
		if ok && c != nil {
			select {
			case c <- msg:
			default: // stale frame for a node with a full queue
			}
		}
	}
}
