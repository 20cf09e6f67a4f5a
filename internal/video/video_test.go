package video

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	require.Equal(t, time.Second, backoffDelay(0))
	require.Equal(t, time.Second, backoffDelay(1))
	require.Equal(t, 2*time.Second, backoffDelay(2))
	require.Equal(t, 16*time.Second, backoffDelay(5))
	require.Equal(t, maxBackoff, backoffDelay(6))
	require.Equal(t, maxBackoff, backoffDelay(100))
}

func TestNewFeedRejectsBadURL(t *testing.T) {
	t.Parallel()

	_, err := NewFeed("not a url")
	require.Error(t, err)
}

func TestFeedFanOut(t *testing.T) {
	t.Parallel()

	f, err := NewFeed("rtsp://127.0.0.1:8554/rov")
	require.NoError(t, err)

	a, cancelA := f.Subscribe()
	b, cancelB := f.Subscribe()

	f.publish([]byte{0x80, 0x60})
	require.Equal(t, []byte{0x80, 0x60}, <-a)
	require.Equal(t, []byte{0x80, 0x60}, <-b)

	cancelA()
	cancelA()
	_, ok := <-a
	require.False(t, ok)

	f.publish([]byte{0x01})
	require.Equal(t, []byte{0x01}, <-b)

	require.NoError(t, f.Close())
	_, ok = <-b
	require.False(t, ok)
	cancelB()
	require.NoError(t, f.Close())
}

func TestSessionOffer(t *testing.T) {
	t.Parallel()

	s, err := NewSession(context.Background(), nil, func(webrtc.ICECandidateInit) {})
	require.NoError(t, err)
	defer s.Close()

	sdp, err := s.CreateOffer()
	require.NoError(t, err)
	require.True(t, strings.Contains(sdp, "H264"), "offer advertises H264")

	packets := make(chan []byte)
	close(packets)
	s.Forward(context.Background(), packets)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
