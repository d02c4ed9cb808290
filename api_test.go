package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/tachdev/govern/motor"
)

func newTestRouter(t *testing.T) chi.Router {
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
	r.Route("/api/motors", func(r chi.Router) {
		r.Get("/", ListMotors)

		r.Route("/{motor}", func(r chi.Router) {
			r.Use(MotorCtx)
			r.Get("/", GetMotorState)
			r.Post("/command", PostMotorCommand)
		})
	})
	return r
}

func doJSON(r chi.Router, method, url string, payload interface{}) *httptest.ResponseRecorder {
	var body *bytes.Buffer
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, url, body)
	req.Header.Add("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestMotorStateEndpoint(t *testing.T) {
	r := newTestRouter(t)

	Convey("A fresh motor reports idle at zero", t, func() {
		rr := doJSON(r, "GET", "/api/motors/left", nil)
		So(rr.Code, ShouldEqual, http.StatusOK)

		var state MotorStatePayload
		So(json.Unmarshal(rr.Body.Bytes(), &state), ShouldBeNil)
		So(state.Name, ShouldEqual, "left")
		So(state.State, ShouldEqual, "IDLE")
		So(state.Moving, ShouldBeFalse)
		So(state.Position, ShouldEqual, 0)
	})

	Convey("Listing returns every configured motor", t, func() {
		rr := doJSON(r, "GET", "/api/motors", nil)
		So(rr.Code, ShouldEqual, http.StatusOK)
		So(rr.Body.String(), ShouldContainSubstring, `"name":"left"`)
	})

	Convey("Unknown motors are a 404", t, func() {
		rr := doJSON(r, "GET", "/api/motors/right", nil)
		So(rr.Code, ShouldEqual, http.StatusNotFound)
	})
}

func TestMotorCommandEndpoint(t *testing.T) {
	r := newTestRouter(t)

	Convey("A rotate command moves the motor and a stop settles it", t, func() {
		rr := doJSON(r, "POST", "/api/motors/left/command", &CommandPayload{Cmd: "rotate", Value: 720})
		So(rr.Code, ShouldEqual, http.StatusOK)

		var state MotorStatePayload
		So(json.Unmarshal(rr.Body.Bytes(), &state), ShouldBeNil)
		So(state.Moving, ShouldBeTrue)

		rr = doJSON(r, "POST", "/api/motors/left/command", &CommandPayload{Cmd: "stop", Immediate: false})
		So(rr.Code, ShouldEqual, http.StatusOK)
		So(json.Unmarshal(rr.Body.Bytes(), &state), ShouldBeNil)
		So(state.Moving, ShouldBeFalse)
	})

	Convey("Profile commands update the reported setpoints", t, func() {
		rr := doJSON(r, "POST", "/api/motors/left/command", &CommandPayload{Cmd: "speed", Value: 540})
		So(rr.Code, ShouldEqual, http.StatusOK)

		var state MotorStatePayload
		So(json.Unmarshal(rr.Body.Bytes(), &state), ShouldBeNil)
		So(state.Speed, ShouldEqual, 540)
	})

	Convey("Unknown commands are a 400", t, func() {
		rr := doJSON(r, "POST", "/api/motors/left/command", &CommandPayload{Cmd: "launch"})
		So(rr.Code, ShouldEqual, http.StatusBadRequest)
	})

	Convey("A missing cmd field is a 400", t, func() {
		rr := doJSON(r, "POST", "/api/motors/left/command", &CommandPayload{})
		So(rr.Code, ShouldEqual, http.StatusBadRequest)
	})
}
