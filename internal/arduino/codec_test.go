package arduino

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rov-remote/internal/rov"
)

func TestEncode(t *testing.T) {
	t.Parallel()

	require.Equal(t, "THR 80 -40\n", EncodeThrust(80, -40))
	require.Equal(t, "THR 100 -100\n", EncodeThrust(300, -300))
	require.Equal(t, "VRT -25\n", EncodeVertical(-25))
	require.Equal(t, "STP\n", EncodeStop())
	require.Equal(t, "SRF\n", EncodeSurface())
	require.Equal(t, "hello\n", EncodeRaw("hello"))
	require.Equal(t, "hello\n", EncodeRaw("hello\n"))

	for mode, want := range map[rov.Lights]string{
		rov.LightsOff:       "LGT OFF\n",
		rov.LightsRunning:   "LGT RUN\n",
		rov.LightsEmergency: "LGT EMR\n",
	} {
		got, err := EncodeLights(mode)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := EncodeLights(rov.Lights(9))
	require.Error(t, err)
}

func TestParseLine(t *testing.T) {
	t.Parallel()

	at := time.Unix(1700000000, 0)

	line, err := ParseLine("TMP 18.25\r\n", at)
	require.NoError(t, err)
	require.Equal(t, LineTemperature, line.Kind)
	require.InDelta(t, 18.25, line.Temperature, 1e-9)
	require.Equal(t, rov.Telemetry{Temperature: 18.25, At: at}, line.Telemetry())

	line, err = ParseLine("ACK THR", at)
	require.NoError(t, err)
	require.Equal(t, LineAck, line.Kind)
	require.Equal(t, "THR", line.Text)

	line, err = ParseLine("ERR bad command", at)
	require.NoError(t, err)
	require.Equal(t, LineError, line.Kind)
	require.Equal(t, "bad command", line.Text)

	line, err = ParseLine("ROV ready", at)
	require.NoError(t, err)
	require.Equal(t, LineConsole, line.Kind)
	require.Equal(t, "ROV ready", line.Text)

	line, err = ParseLine("TMP warm", at)
	require.ErrorIs(t, err, errBadTemperature)
	require.Equal(t, LineConsole, line.Kind)
	require.Equal(t, "TMP warm", line.Text)
}
