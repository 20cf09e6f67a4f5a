package serialport

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenRequiresDevice(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{})
	require.ErrorIs(t, err, ErrNoDevice)
}

func TestOpenMissingDevice(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{Device: "/dev/does-not-exist-rov"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "/dev/does-not-exist-rov")
}

func TestSortDevices(t *testing.T) {
	t.Parallel()

	devices := []Device{{Name: "/dev/ttyUSB0"}, {Name: "/dev/ttyACM1"}, {Name: "/dev/ttyACM0"}}
	sortDevices(devices)

	require.Equal(t, "/dev/ttyACM0", devices[0].Name)
	require.Equal(t, "/dev/ttyACM1", devices[1].Name)
	require.Equal(t, "/dev/ttyUSB0", devices[2].Name)
}

func TestMockTransport(t *testing.T) {
	t.Parallel()

	m := NewMockTransport()
	n, err := m.Write([]byte("STP\n"))
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "STP\n", m.Written())

	m.Feed("TMP 12.5\n")
	buf := make([]byte, 32)
	n, err = m.Read(buf)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix("TMP 12.5\n", string(buf[:n])))

	require.NoError(t, m.Close())
	require.True(t, m.Closed())
	_, err = m.Write([]byte("x"))
	require.Error(t, err)

	m2 := NewMockTransport()
	m2.WriteErr = errors.New("unplugged")
	_, err = m2.Write([]byte("x"))
	require.EqualError(t, err, "unplugged")
}
