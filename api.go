package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"

	"github.com/tachdev/govern/motor"
)

//---
// Error responses
//---

type ErrResponse struct {
	Err            error `json:"-"` // low-level runtime error
	HTTPStatusCode int   `json:"-"` // http response status code

	StatusText string `json:"status"`          // user-level status message
	ErrorText  string `json:"error,omitempty"` // application-level error message
}

func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func ErrInvalidRequest(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: 400,
		StatusText:     "Invalid request.",
		ErrorText:      err.Error(),
	}
}

func ErrUnauthorized(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: 401,
		StatusText:     "Unauthorized.",
		ErrorText:      err.Error(),
	}
}

func ErrPermissionDenied(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: 403,
		StatusText:     "Permission denied.",
		ErrorText:      err.Error(),
	}
}

func ErrRender(err error) render.Renderer {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: 422,
		StatusText:     "Error rendering response.",
		ErrorText:      err.Error(),
	}
}

var ErrNotFound = &ErrResponse{HTTPStatusCode: 404, StatusText: "Resource not found."}

//---
// Payloads
//---

// CommandPayload is one motion command aimed at a single motor. Value is
// interpreted per command: degrees for rotate/rotateto, deg/s for speed,
// deg/s^2 for accel, ignored otherwise.
type CommandPayload struct {
	Cmd       string `json:"cmd"`
	Value     int    `json:"value,omitempty"`
	Immediate bool   `json:"immediate,omitempty"`
}

func (c *CommandPayload) Bind(r *http.Request) error {
	if c.Cmd == "" {
		return errors.New("cmd is required")
	}
	return nil
}

// MotorStatePayload is the snapshot returned by the state endpoints and
// pushed over the event stream.
type MotorStatePayload struct {
	Name          string `json:"name"`
	State         string `json:"state"`
	Moving        bool   `json:"moving"`
	Stalled       bool   `json:"stalled"`
	Position      int    `json:"position"`
	TachoCount    int    `json:"tacho_count"`
	RotationSpeed int    `json:"rotation_speed"`
	Speed         int    `json:"speed"`
	Acceleration  int    `json:"acceleration"`
	LimitAngle    int    `json:"limit_angle"`
}

func (p *MotorStatePayload) Render(w http.ResponseWriter, r *http.Request) error {
	return nil
}

func motorState(m *motor.RegulatedMotor) (*MotorStatePayload, error) {
	state, err := m.State()
	if err != nil {
		return nil, err
	}
	pos, err := m.Position()
	if err != nil {
		return nil, err
	}
	count, err := m.TachoCount()
	if err != nil {
		return nil, err
	}
	vel, err := m.RotationSpeed()
	if err != nil {
		return nil, err
	}

	return &MotorStatePayload{
		Name:          m.Name(),
		State:         state.String(),
		Moving:        state == motor.Moving,
		Stalled:       state == motor.Stalled,
		Position:      pos,
		TachoCount:    count,
		RotationSpeed: vel,
		Speed:         m.Speed(),
		Acceleration:  m.Acceleration(),
		LimitAngle:    m.LimitAngle(),
	}, nil
}

//---
// Command dispatch
//---

// dispatchCommand executes one named command against a motor. Shared by the
// REST handlers, the websocket stream and the local shell so they cannot
// drift apart.
func dispatchCommand(m *motor.RegulatedMotor, cmd string, value int, immediate bool) error {
	switch cmd {
	case "forward":
		return m.Forward()
	case "backward":
		return m.Backward()
	case "stop":
		return m.Stop(immediate)
	case "flt":
		return m.Flt(immediate)
	case "rotate":
		return m.Rotate(value, immediate)
	case "rotateto":
		return m.RotateTo(value, immediate)
	case "speed":
		return m.SetSpeed(value)
	case "accel":
		return m.SetAcceleration(value)
	case "stall":
		return m.SetStallThreshold(value, time.Second)
	case "reset":
		return m.ResetTachoCount()
	case "suspend":
		return m.SuspendRegulation()
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

//---
// Views
//---

func withMotor(ctx context.Context, m *motor.RegulatedMotor) context.Context {
	return context.WithValue(ctx, "motor", m)
}

func motorFromCtx(ctx context.Context) *motor.RegulatedMotor {
	return ctx.Value("motor").(*motor.RegulatedMotor)
}

// MotorCtx resolves {motor} from the URL and stashes the handle.
func MotorCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "motor")
		m, ok := ENV.Motors[name]
		if !ok {
			render.Render(w, r, ErrNotFound)
			return
		}

		ctx := withMotor(r.Context(), m)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func ListMotors(w http.ResponseWriter, r *http.Request) {
	states := make([]render.Renderer, 0, len(ENV.Motors))
	for _, m := range ENV.Motors {
		state, err := motorState(m)
		if err != nil {
			render.Render(w, r, ErrRender(err))
			return
		}
		states = append(states, state)
	}
	render.RenderList(w, r, states)
}

func GetMotorState(w http.ResponseWriter, r *http.Request) {
	m := motorFromCtx(r.Context())

	state, err := motorState(m)
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}
	render.Render(w, r, state)
}

func PostMotorCommand(w http.ResponseWriter, r *http.Request) {
	m := motorFromCtx(r.Context())

	data := &CommandPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	if err := dispatchCommand(m, data.Cmd, data.Value, data.Immediate); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	state, err := motorState(m)
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}
	render.Render(w, r, state)
}
