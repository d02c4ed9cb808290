package main

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/tachdev/govern/motor"
)

func newStreamServer(t *testing.T) (*httptest.Server, *motor.RegulatedMotor) {
	sim := motor.NewSimulatedPort()
	cfg := motor.DefaultMotorConfig()
	cfg.LoopPeriodMS = 2

	m, err := motor.New("left", sim, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Close() })

	ENV.Motors = map[string]*motor.RegulatedMotor{"left": m}

	r := chi.NewRouter()
	r.Route("/ws/motors/{motor}", func(r chi.Router) {
		r.Use(MotorCtx)
		r.Get("/", StreamHandler)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, m
}

func TestStreamCommandsAndEvents(t *testing.T) {
	srv, m := newStreamServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/motors/left"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	Convey("Commands over the socket move the motor and events come back", t, func() {
		So(conn.WriteJSON(&CommandPayload{Cmd: "rotate", Value: 3600}), ShouldBeNil)

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev EventPayload
		So(conn.ReadJSON(&ev), ShouldBeNil)
		So(ev.Event, ShouldEqual, "started")
		So(ev.Motor, ShouldEqual, "left")

		moving, err := m.IsMoving()
		So(err, ShouldBeNil)
		So(moving, ShouldBeTrue)
	})
}

func TestStreamDisconnectStopsMotor(t *testing.T) {
	srv, m := newStreamServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/motors/left"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}

	Convey("Dropping the connection mid-move stops and holds the motor", t, func() {
		So(conn.WriteJSON(&CommandPayload{Cmd: "forward"}), ShouldBeNil)

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev EventPayload
		So(conn.ReadJSON(&ev), ShouldBeNil)
		So(ev.Event, ShouldEqual, "started")

		conn.Close()

		stopped := func() bool {
			moving, err := m.IsMoving()
			return err == nil && !moving
		}
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) && !stopped() {
			time.Sleep(5 * time.Millisecond)
		}
		So(stopped(), ShouldBeTrue)
	})
}
