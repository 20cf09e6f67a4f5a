package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewMessageWithoutPayload(t *testing.T) {
	t.Parallel()

	msg, err := NewMessage(TypeAllStop, nil)
	require.NoError(t, err)

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"all_stop"}`, string(data))

	var p ThrustPayload
	require.NoError(t, msg.ParsePayload(&p))
	require.Empty(t, p.Direction)
}

func TestParsePayloadFromClientJSON(t *testing.T) {
	t.Parallel()

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"type":"thrust","payload":{"direction":"forward_left"}}`), &msg))
	require.Equal(t, TypeThrust, msg.Type)

	var p ThrustPayload
	require.NoError(t, msg.ParsePayload(&p))
	require.Equal(t, "forward_left", p.Direction)

	var v VerticalPayload
	msg = Message{Type: TypeVertical, Payload: json.RawMessage(`{"level":"high"}`)}
	require.Error(t, msg.ParsePayload(&v))
}

func TestStatusOmitsUnknownTemperature(t *testing.T) {
	t.Parallel()

	msg, err := NewMessage(TypeStatus, StatusPayload{RunningState: "full_stop", Lights: "off"})
	require.NoError(t, err)
	require.NotContains(t, string(msg.Payload), "temperature")

	temp := 4.5
	msg, err = NewMessage(TypeStatus, StatusPayload{Temperature: &temp})
	require.NoError(t, err)
	require.Contains(t, string(msg.Payload), `"temperature":4.5`)
}
