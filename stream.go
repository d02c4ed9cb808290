package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventPayload is one movement transition pushed to stream clients.
type EventPayload struct {
	Event    string    `json:"event"` // "started" or "stopped"
	Motor    string    `json:"motor"`
	Position int       `json:"position"`
	Stalled  bool      `json:"stalled"`
	At       time.Time `json:"at"`
}

// streamListener forwards movement transitions into the client's send
// queue. Sends never block; the writer goroutine owns the socket.
type streamListener struct {
	out chan EventPayload
}

func (s *streamListener) RotationStarted(motor string, position int, stalled bool, at time.Time) {
	s.send(EventPayload{Event: "started", Motor: motor, Position: position, Stalled: stalled, At: at})
}

func (s *streamListener) RotationStopped(motor string, position int, stalled bool, at time.Time) {
	s.send(EventPayload{Event: "stopped", Motor: motor, Position: position, Stalled: stalled, At: at})
}

func (s *streamListener) send(ev EventPayload) {
	select {
	case s.out <- ev:
	default: // client is not keeping up, shed the event
	}
}

// StreamHandler serves the per-motor websocket: movement events go out,
// commands come in. A client that disconnects mid-move leaves the motor
// unattended, so the motor is stopped and held before the socket is
// released.
func StreamHandler(w http.ResponseWriter, r *http.Request) {
	m := motorFromCtx(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Print("upgrade:", err)
		return
	}
	defer conn.Close()

	listener := &streamListener{out: make(chan EventPayload, 16)}
	if err := m.AddListener(listener); err != nil {
		log.Println("listener:", err)
		return
	}

	done := make(chan struct{})
	go func(conn *websocket.Conn, events chan EventPayload) {
		for {
			select {
			case ev := <-events:
				if err := conn.WriteJSON(ev); err != nil {
					log.Println("write:", err)
					return
				}
			case <-done:
				return
			}
		}
	}(conn, listener.out)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Println("read:", err)
			break
		}

		var cmd CommandPayload
		if err := json.Unmarshal(msg, &cmd); err != nil {
			log.Println("decode:", err)
			continue
		}

		if err := dispatchCommand(m, cmd.Cmd, cmd.Value, cmd.Immediate); err != nil {
			log.Println("command:", err)
		}
	}

	close(done)
	m.RemoveListener()
	if err := m.Stop(true); err != nil {
		log.Println("stop:", err)
	}
}
