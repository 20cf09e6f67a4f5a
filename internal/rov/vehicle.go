package rov

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"rov-remote/internal/logger"
	"rov-remote/internal/metrics"
)

var (
	// ErrSurfacing rejects drive commands during an emergency surface.
	ErrSurfacing = errors.New("vehicle is surfacing, issue all stop first")
	// ErrEmptyText rejects an empty operator line.
	ErrEmptyText = errors.New("text is empty")
)

// VehicleConfig tunes a Vehicle.
type VehicleConfig struct {
	// Power is the thrust percentage used by the direction buttons.
	Power int
	// DeadmanTimeout triggers all stop when running without input. Zero
	// or negative disables it.
	DeadmanTimeout time.Duration
}

// Vehicle tracks the ROV's state and sends commands through a Commander.
type Vehicle struct {
	cmd     Commander
	power   int
	deadman time.Duration
	now     func() time.Time

	mu     sync.Mutex
	status Status

	subsMu sync.Mutex
	subs   map[int]func(Status)
	nextID int
}

// NewVehicle returns a vehicle in full stop with lights off.
func NewVehicle(cmd Commander, cfg VehicleConfig) *Vehicle {
	v := &Vehicle{
		cmd:     cmd,
		power:   clamp(cfg.Power, 0, 100),
		deadman: cfg.DeadmanTimeout,
		now:     time.Now,
		subs:    make(map[int]func(Status)),
	}
	metrics.SetRunningState(StateFullStop.String(), stateNames())

	return v
}

// Status returns the current snapshot.
func (v *Vehicle) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshot()
}

// Subscribe registers fn to receive every status change. The returned
// function removes it.
func (v *Vehicle) Subscribe(fn func(Status)) func() {
	v.subsMu.Lock()
	id := v.nextID
	v.nextID++
	v.subs[id] = fn
	v.subsMu.Unlock()

	return func() {
		v.subsMu.Lock()
		delete(v.subs, id)
		v.subsMu.Unlock()
	}
}

// Thrust drives the horizontal thrusters in direction d.
func (v *Vehicle) Thrust(ctx context.Context, d Direction) error {
	t := Mix(d, v.power)

	return v.apply(ctx, func(s *Status) error {
		if s.State == StateEmergencySurface {
			return ErrSurfacing
		}
		if err := v.cmd.Thrust(ctx, t.Left, t.Right); err != nil {
			return fmt.Errorf("thrust %s: %w", d, err)
		}
		s.Thrust.Left, s.Thrust.Right = t.Left, t.Right
		s.State = StateRunning
		return nil
	})
}

// SetVertical sets the vertical thruster, -100 (dive) to 100 (ascend).
func (v *Vehicle) SetVertical(ctx context.Context, level int) error {
	level = Clamp(level)

	return v.apply(ctx, func(s *Status) error {
		if s.State == StateEmergencySurface {
			return ErrSurfacing
		}
		if err := v.cmd.Vertical(ctx, level); err != nil {
			return fmt.Errorf("vertical %d: %w", level, err)
		}
		s.Thrust.Vertical = level
		if level != 0 {
			s.State = StateRunning
		}
		return nil
	})
}

// AllStop zeroes every thruster. It is always accepted and is the only way
// out of an emergency surface.
func (v *Vehicle) AllStop(ctx context.Context) error {
	return v.apply(ctx, func(s *Status) error {
		if err := v.cmd.Stop(ctx); err != nil {
			return fmt.Errorf("all stop: %w", err)
		}
		s.Thrust = Thrust{}
		s.State = StateFullStop
		return nil
	})
}

// ReleaseThrust zeroes the horizontal thrusters when the operator lets go
// of a direction. The vehicle is back in full stop unless the vertical
// thruster is still set. During an emergency surface nothing is sent.
func (v *Vehicle) ReleaseThrust(ctx context.Context) error {
	return v.apply(ctx, func(s *Status) error {
		if s.State == StateEmergencySurface {
			return nil
		}
		if err := v.cmd.Thrust(ctx, 0, 0); err != nil {
			return fmt.Errorf("release thrust: %w", err)
		}
		s.Thrust.Left, s.Thrust.Right = 0, 0
		if s.Thrust.Vertical == 0 {
			s.State = StateFullStop
		}
		return nil
	})
}

// LinkLost records that the serial link went away without a final stop. The
// recorded thrust is cleared and the state returns to full stop, so the
// deadman has nothing left to time out.
func (v *Vehicle) LinkLost(ctx context.Context) {
	_ = v.apply(ctx, func(s *Status) error {
		s.Thrust = Thrust{}
		s.State = StateFullStop
		return nil
	})
}

// EmergencySurface cuts horizontal thrust, ascends at full power and
// switches the lights to emergency.
func (v *Vehicle) EmergencySurface(ctx context.Context) error {
	return v.apply(ctx, func(s *Status) error {
		if err := v.cmd.Surface(ctx); err != nil {
			return fmt.Errorf("emergency surface: %w", err)
		}
		s.Thrust = Thrust{Vertical: 100}
		s.State = StateEmergencySurface
		if err := v.cmd.Lights(ctx, LightsEmergency); err != nil {
			logger.WarnKV(ctx, "Emergency lights not set", "error", err)
			return nil
		}
		s.Lights = LightsEmergency
		return nil
	})
}

// SetLights selects the lights mode.
func (v *Vehicle) SetLights(ctx context.Context, mode Lights) error {
	return v.apply(ctx, func(s *Status) error {
		if err := v.cmd.Lights(ctx, mode); err != nil {
			return fmt.Errorf("lights %s: %w", mode, err)
		}
		s.Lights = mode
		return nil
	})
}

// SendText forwards an operator line unchanged.
func (v *Vehicle) SendText(ctx context.Context, text string) error {
	if text == "" {
		return ErrEmptyText
	}

	return v.apply(ctx, func(*Status) error {
		if err := v.cmd.Raw(ctx, text); err != nil {
			return fmt.Errorf("send text: %w", err)
		}
		return nil
	})
}

// Observe records telemetry from the vehicle.
func (v *Vehicle) Observe(t Telemetry) {
	v.mu.Lock()
	temp := t.Temperature
	v.status.Temperature = &temp
	snap := v.snapshot()
	v.mu.Unlock()

	metrics.Temperature.Set(temp)
	v.notify(snap)
}

// CheckDeadman stops a running vehicle whose last command is older than
// the deadman timeout. It reports whether it stopped the vehicle.
func (v *Vehicle) CheckDeadman(ctx context.Context, now time.Time) (bool, error) {
	if v.deadman <= 0 {
		return false, nil
	}

	v.mu.Lock()
	expired := v.status.State == StateRunning && now.Sub(v.status.LastCommand) >= v.deadman
	v.mu.Unlock()

	if !expired {
		return false, nil
	}

	logger.WarnKV(ctx, "No operator input, stopping vehicle", "timeout", v.deadman)

	return true, v.AllStop(ctx)
}

// Run checks the deadman timer until ctx is done.
func (v *Vehicle) Run(ctx context.Context) {
	if v.deadman <= 0 {
		return
	}

	ticker := time.NewTicker(v.deadman / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := v.CheckDeadman(ctx, now); err != nil {
				logger.ErrorKV(ctx, "Deadman stop failed", "error", err)
			}
		}
	}
}

// apply runs fn on the live status under the lock so commands reach the
// link in the order their state changes are recorded. A failed fn leaves
// the status untouched.
func (v *Vehicle) apply(ctx context.Context, fn func(*Status) error) error {
	v.mu.Lock()
	next := v.status
	if err := fn(&next); err != nil {
		v.mu.Unlock()
		return err
	}
	next.LastCommand = v.now()
	prev := v.status.State
	v.status = next
	snap := v.snapshot()
	v.mu.Unlock()

	if snap.State != prev {
		logger.InfoKV(ctx, "Running state changed", "from", prev, "to", snap.State)
		metrics.SetRunningState(snap.State.String(), stateNames())
	}
	v.notify(snap)

	return nil
}

func (v *Vehicle) snapshot() Status {
	s := v.status
	if s.Temperature != nil {
		t := *s.Temperature
		s.Temperature = &t
	}
	return s
}

func (v *Vehicle) notify(s Status) {
	v.subsMu.Lock()
	fns := make([]func(Status), 0, len(v.subs))
	for _, fn := range v.subs {
		fns = append(fns, fn)
	}
	v.subsMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func stateNames() []string {
	names := make([]string, len(RunningStates))
	for i, s := range RunningStates {
		names[i] = s.String()
	}
	return names
}
