// Package rov models the vehicle: its running state, thrust mixing for the
// eight-way joystick, lights, and the command policy that guards them.
package rov

import (
	"context"
	"fmt"
	"time"
)

// RunningState is the vehicle's mode. Exactly one holds at a time.
type RunningState int

const (
	StateFullStop RunningState = iota
	StateRunning
	StateEmergencySurface
)

// RunningStates lists every state in declaration order.
var RunningStates = []RunningState{StateFullStop, StateRunning, StateEmergencySurface}

func (s RunningState) String() string {
	switch s {
	case StateFullStop:
		return "full_stop"
	case StateRunning:
		return "running"
	case StateEmergencySurface:
		return "emergency_surface"
	default:
		return fmt.Sprintf("RunningState(%d)", int(s))
	}
}

// ParseRunningState is the inverse of String.
func ParseRunningState(s string) (RunningState, error) {
	for _, st := range RunningStates {
		if st.String() == s {
			return st, nil
		}
	}
	return StateFullStop, fmt.Errorf("unknown running state %q", s)
}

// Direction is one of the eight joystick positions.
type Direction int

const (
	Forward Direction = iota
	ForwardRight
	ForwardLeft
	Left
	Right
	Reverse
	ReverseRight
	ReverseLeft
)

var directionNames = map[Direction]string{
	Forward:      "forward",
	ForwardRight: "forward_right",
	ForwardLeft:  "forward_left",
	Left:         "left",
	Right:        "right",
	Reverse:      "reverse",
	ReverseRight: "reverse_right",
	ReverseLeft:  "reverse_left",
}

func (d Direction) String() string {
	if name, ok := directionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// ParseDirection maps a snake_case name to a Direction.
func ParseDirection(s string) (Direction, error) {
	for d, name := range directionNames {
		if name == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// Lights is the lights radio group.
type Lights int

const (
	LightsOff Lights = iota
	LightsRunning
	LightsEmergency
)

func (l Lights) String() string {
	switch l {
	case LightsOff:
		return "off"
	case LightsRunning:
		return "running"
	case LightsEmergency:
		return "emergency"
	default:
		return fmt.Sprintf("Lights(%d)", int(l))
	}
}

// ParseLights maps off, running or emergency to a Lights value.
func ParseLights(s string) (Lights, error) {
	for _, l := range []Lights{LightsOff, LightsRunning, LightsEmergency} {
		if l.String() == s {
			return l, nil
		}
	}
	return LightsOff, fmt.Errorf("unknown lights mode %q", s)
}

// Thrust holds motor outputs in percent, each within [-100, 100].
type Thrust struct {
	Left     int `json:"left"`
	Right    int `json:"right"`
	Vertical int `json:"vertical"`
}

// Telemetry is a reading reported by the vehicle.
type Telemetry struct {
	Temperature float64
	At          time.Time
}

// Status is a point-in-time snapshot of the vehicle.
type Status struct {
	State       RunningState
	Lights      Lights
	Thrust      Thrust
	Temperature *float64
	LastCommand time.Time
}

// Commander transmits vehicle commands. Implementations must be safe for
// concurrent use.
type Commander interface {
	Thrust(ctx context.Context, left, right int) error
	Vertical(ctx context.Context, level int) error
	Stop(ctx context.Context) error
	Surface(ctx context.Context) error
	Lights(ctx context.Context, mode Lights) error
	Raw(ctx context.Context, text string) error
}

// Mix converts a joystick direction at the given power (0..100) into
// left and right motor percentages.
func Mix(d Direction, power int) Thrust {
	p := clamp(power, 0, 100)
	half := p / 2

	var l, r int
	switch d {
	case Forward:
		l, r = p, p
	case Reverse:
		l, r = -p, -p
	case Left:
		l, r = -p, p
	case Right:
		l, r = p, -p
	case ForwardRight:
		l, r = p, half
	case ForwardLeft:
		l, r = half, p
	case ReverseRight:
		l, r = -p, -half
	case ReverseLeft:
		l, r = -half, -p
	}

	return Thrust{Left: l, Right: r}
}

// Clamp limits a thrust percentage to [-100, 100].
func Clamp(v int) int {
	return clamp(v, -100, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
