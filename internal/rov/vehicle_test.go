package rov

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeCommander struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeCommander) record(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, s)
	return nil
}

func (f *fakeCommander) Thrust(_ context.Context, l, r int) error {
	return f.record(fmt.Sprintf("thrust %d %d", l, r))
}

func (f *fakeCommander) Vertical(_ context.Context, level int) error {
	return f.record(fmt.Sprintf("vertical %d", level))
}

func (f *fakeCommander) Stop(context.Context) error    { return f.record("stop") }
func (f *fakeCommander) Surface(context.Context) error { return f.record("surface") }

func (f *fakeCommander) Lights(_ context.Context, mode Lights) error {
	return f.record("lights " + mode.String())
}

func (f *fakeCommander) Raw(_ context.Context, text string) error {
	return f.record("raw " + text)
}

func (f *fakeCommander) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func newTestVehicle(deadman time.Duration) (*Vehicle, *fakeCommander) {
	cmd := &fakeCommander{}
	return NewVehicle(cmd, VehicleConfig{Power: 80, DeadmanTimeout: deadman}), cmd
}

func TestMix(t *testing.T) {
	t.Parallel()

	cases := map[Direction]Thrust{
		Forward:      {Left: 80, Right: 80},
		Reverse:      {Left: -80, Right: -80},
		Left:         {Left: -80, Right: 80},
		Right:        {Left: 80, Right: -80},
		ForwardRight: {Left: 80, Right: 40},
		ForwardLeft:  {Left: 40, Right: 80},
		ReverseRight: {Left: -80, Right: -40},
		ReverseLeft:  {Left: -40, Right: -80},
	}
	for d, want := range cases {
		require.Equal(t, want, Mix(d, 80), d.String())
	}

	require.Equal(t, Thrust{Left: 100, Right: 100}, Mix(Forward, 250))
	require.Equal(t, Thrust{}, Mix(Forward, -10))
}

func TestParseRoundTrips(t *testing.T) {
	t.Parallel()

	for d := Forward; d <= ReverseLeft; d++ {
		got, err := ParseDirection(d.String())
		require.NoError(t, err)
		require.Equal(t, d, got)
	}
	_, err := ParseDirection("up")
	require.Error(t, err)

	for _, s := range RunningStates {
		got, err := ParseRunningState(s.String())
		require.NoError(t, err)
		require.Equal(t, s, got)
	}
	_, err = ParseRunningState("drifting")
	require.Error(t, err)

	l, err := ParseLights("emergency")
	require.NoError(t, err)
	require.Equal(t, LightsEmergency, l)
	_, err = ParseLights("disco")
	require.Error(t, err)
}

func TestRunningStatesDistinct(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for _, s := range RunningStates {
		require.False(t, seen[s.String()])
		seen[s.String()] = true
	}
	require.Len(t, seen, 3)

	var zero RunningState
	require.Equal(t, StateFullStop, zero)
}

func TestThrustStartsRunning(t *testing.T) {
	t.Parallel()

	v, cmd := newTestVehicle(0)
	ctx := context.Background()

	require.NoError(t, v.Thrust(ctx, ForwardLeft))

	st := v.Status()
	require.Equal(t, StateRunning, st.State)
	require.Equal(t, Thrust{Left: 40, Right: 80}, st.Thrust)
	require.False(t, st.LastCommand.IsZero())
	require.Equal(t, []string{"thrust 40 80"}, cmd.Sent())
}

func TestVerticalZeroKeepsState(t *testing.T) {
	t.Parallel()

	v, cmd := newTestVehicle(0)
	ctx := context.Background()

	require.NoError(t, v.SetVertical(ctx, 0))
	require.Equal(t, StateFullStop, v.Status().State)

	require.NoError(t, v.SetVertical(ctx, -300))
	require.Equal(t, StateRunning, v.Status().State)
	require.Equal(t, -100, v.Status().Thrust.Vertical)
	require.Equal(t, []string{"vertical 0", "vertical -100"}, cmd.Sent())
}

func TestEmergencySurfaceBlocksDriveUntilAllStop(t *testing.T) {
	t.Parallel()

	v, cmd := newTestVehicle(0)
	ctx := context.Background()

	require.NoError(t, v.Thrust(ctx, Forward))
	require.NoError(t, v.EmergencySurface(ctx))

	st := v.Status()
	require.Equal(t, StateEmergencySurface, st.State)
	require.Equal(t, Thrust{Vertical: 100}, st.Thrust)
	require.Equal(t, LightsEmergency, st.Lights)

	require.ErrorIs(t, v.Thrust(ctx, Left), ErrSurfacing)
	require.ErrorIs(t, v.SetVertical(ctx, -50), ErrSurfacing)

	require.NoError(t, v.SetLights(ctx, LightsRunning))
	require.NoError(t, v.AllStop(ctx))
	require.Equal(t, StateFullStop, v.Status().State)
	require.Equal(t, Thrust{}, v.Status().Thrust)

	require.NoError(t, v.Thrust(ctx, Right))
	require.Equal(t, []string{
		"thrust 80 80",
		"surface",
		"lights emergency",
		"lights running",
		"stop",
		"thrust 80 -80",
	}, cmd.Sent())
}

func TestReleaseThrust(t *testing.T) {
	t.Parallel()

	v, cmd := newTestVehicle(0)
	ctx := context.Background()

	require.NoError(t, v.Thrust(ctx, Forward))
	require.NoError(t, v.ReleaseThrust(ctx))
	require.Equal(t, StateFullStop, v.Status().State)
	require.Equal(t, Thrust{}, v.Status().Thrust)

	// A held vertical level keeps the vehicle running.
	require.NoError(t, v.SetVertical(ctx, 30))
	require.NoError(t, v.Thrust(ctx, Left))
	require.NoError(t, v.ReleaseThrust(ctx))
	require.Equal(t, StateRunning, v.Status().State)
	require.Equal(t, Thrust{Vertical: 30}, v.Status().Thrust)

	require.NoError(t, v.EmergencySurface(ctx))
	require.NoError(t, v.ReleaseThrust(ctx))
	require.Equal(t, StateEmergencySurface, v.Status().State)
	require.Equal(t, Thrust{Vertical: 100}, v.Status().Thrust)

	require.Equal(t, []string{
		"thrust 80 80",
		"thrust 0 0",
		"vertical 30",
		"thrust -80 80",
		"thrust 0 0",
		"surface",
		"lights emergency",
	}, cmd.Sent())
}

func TestLinkLostStopsWithoutSending(t *testing.T) {
	t.Parallel()

	v, cmd := newTestVehicle(time.Second)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return base }

	require.NoError(t, v.Thrust(ctx, Forward))
	require.NoError(t, v.SetVertical(ctx, -40))

	var got []Status
	v.Subscribe(func(s Status) { got = append(got, s) })

	// The port is gone, so every further command fails.
	cmd.err = errors.New("not connected")
	v.LinkLost(ctx)

	st := v.Status()
	require.Equal(t, StateFullStop, st.State)
	require.Equal(t, Thrust{}, st.Thrust)
	require.Len(t, got, 1)
	require.Equal(t, StateFullStop, got[0].State)

	// A stopped vehicle is never timed out, so no failing stop is retried.
	stopped, err := v.CheckDeadman(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, stopped)
	require.Equal(t, []string{"thrust 80 80", "vertical -40"}, cmd.Sent())
}

func TestTransmitErrorLeavesState(t *testing.T) {
	t.Parallel()

	v, cmd := newTestVehicle(0)
	ctx := context.Background()
	boom := errors.New("port closed")
	cmd.err = boom

	err := v.Thrust(ctx, Forward)
	require.ErrorIs(t, err, boom)
	require.Equal(t, Status{}, v.Status())

	require.ErrorIs(t, v.AllStop(ctx), boom)
	require.ErrorIs(t, v.SendText(ctx, "hello"), boom)
}

func TestSendText(t *testing.T) {
	t.Parallel()

	v, cmd := newTestVehicle(0)
	ctx := context.Background()

	require.ErrorIs(t, v.SendText(ctx, ""), ErrEmptyText)
	require.NoError(t, v.SendText(ctx, "PING"))
	require.Equal(t, []string{"raw PING"}, cmd.Sent())
	require.Equal(t, StateFullStop, v.Status().State)
}

func TestObserveAndSubscribe(t *testing.T) {
	t.Parallel()

	v, _ := newTestVehicle(0)

	var got []Status
	unsubscribe := v.Subscribe(func(s Status) { got = append(got, s) })

	v.Observe(Telemetry{Temperature: 14.5})
	require.NoError(t, v.SetLights(context.Background(), LightsRunning))

	require.Len(t, got, 2)
	require.NotNil(t, got[0].Temperature)
	require.InDelta(t, 14.5, *got[0].Temperature, 0.001)
	require.Equal(t, LightsRunning, got[1].Lights)

	unsubscribe()
	v.Observe(Telemetry{Temperature: 15})
	require.Len(t, got, 2)

	// Snapshots do not alias internal state.
	*got[0].Temperature = 99
	require.InDelta(t, 15, *v.Status().Temperature, 0.001)
}

func TestCheckDeadman(t *testing.T) {
	t.Parallel()

	v, cmd := newTestVehicle(time.Second)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return base }

	stopped, err := v.CheckDeadman(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, stopped, "full stop is never timed out")

	require.NoError(t, v.Thrust(ctx, Forward))

	stopped, err = v.CheckDeadman(ctx, base.Add(500*time.Millisecond))
	require.NoError(t, err)
	require.False(t, stopped)

	stopped, err = v.CheckDeadman(ctx, base.Add(time.Second))
	require.NoError(t, err)
	require.True(t, stopped)
	require.Equal(t, StateFullStop, v.Status().State)
	require.Equal(t, []string{"thrust 80 80", "stop"}, cmd.Sent())
}

func TestRepeatedVerticalFeedsDeadman(t *testing.T) {
	t.Parallel()

	v, cmd := newTestVehicle(time.Second)
	ctx := context.Background()

	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	v.now = func() time.Time { return clock }

	require.NoError(t, v.SetVertical(ctx, 25))
	for i := 0; i < 5; i++ {
		clock = clock.Add(900 * time.Millisecond)
		stopped, err := v.CheckDeadman(ctx, clock)
		require.NoError(t, err)
		require.False(t, stopped)
		require.NoError(t, v.SetVertical(ctx, 25))
	}
	require.Equal(t, StateRunning, v.Status().State)

	stopped, err := v.CheckDeadman(ctx, clock.Add(time.Second))
	require.NoError(t, err)
	require.True(t, stopped)
	require.Equal(t, 0, v.Status().Thrust.Vertical)
	require.Len(t, cmd.Sent(), 7)
}

func TestDeadmanIgnoresSurfacing(t *testing.T) {
	t.Parallel()

	v, _ := newTestVehicle(time.Second)
	ctx := context.Background()

	require.NoError(t, v.EmergencySurface(ctx))
	stopped, err := v.CheckDeadman(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.False(t, stopped)
	require.Equal(t, StateEmergencySurface, v.Status().State)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	v, cmd := newTestVehicle(20 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		v.Run(ctx)
		close(done)
	}()

	require.NoError(t, v.Thrust(ctx, Reverse))
	require.Eventually(t, func() bool {
		return v.Status().State == StateFullStop
	}, time.Second, 5*time.Millisecond)
	require.Contains(t, cmd.Sent(), "stop")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
