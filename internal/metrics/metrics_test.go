package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSetRunningStateIsExclusive(t *testing.T) {
	all := []string{"full_stop", "running", "emergency_surface"}

	SetRunningState("running", all)
	require.InDelta(t, 0, testutil.ToFloat64(RunningState.WithLabelValues("full_stop")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(RunningState.WithLabelValues("running")), 0)

	SetRunningState("emergency_surface", all)
	require.InDelta(t, 0, testutil.ToFloat64(RunningState.WithLabelValues("running")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(RunningState.WithLabelValues("emergency_surface")), 0)
}

func TestIncSerialErrorDefaultsLabel(t *testing.T) {
	before := testutil.ToFloat64(SerialErrors.WithLabelValues("unknown"))
	IncSerialError("")
	require.InDelta(t, before+1, testutil.ToFloat64(SerialErrors.WithLabelValues("unknown")), 0)
}

func TestSetConnected(t *testing.T) {
	SetConnected(true)
	require.InDelta(t, 1, testutil.ToFloat64(SerialConnected), 0)
	SetConnected(false)
	require.InDelta(t, 0, testutil.ToFloat64(SerialConnected), 0)
}
