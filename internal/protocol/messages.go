package protocol

import "encoding/json"

// Message types
const (
	TypePing             = "ping"
	TypePong             = "pong"
	TypeStatus           = "status"
	TypeListDevices      = "list_devices"
	TypeDevices          = "devices"
	TypeConnect          = "connect"
	TypeDisconnect       = "disconnect"
	TypeSend             = "send"
	TypeThrust           = "thrust"
	TypeThrustRelease    = "thrust_release"
	TypeVertical         = "vertical"
	TypeAllStop          = "all_stop"
	TypeEmergencySurface = "emergency_surface"
	TypeLights           = "lights"
	TypeConsole          = "console"
	TypeTelemetry        = "telemetry"
	TypeOffer            = "offer"
	TypeAnswer           = "answer"
	TypeICECandidate     = "ice_candidate"
	TypeError            = "error"
)

// Error codes
const (
	ErrNotConnected   = "NOT_CONNECTED"
	ErrSerial         = "SERIAL_ERROR"
	ErrInvalidMessage = "INVALID_MESSAGE"
	ErrSurfacing      = "SURFACING"
	ErrRTSP           = "RTSP_ERROR"
)

// Message is the envelope for all WebSocket messages
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PingPayload for ping messages
type PingPayload struct {
	Timestamp int64 `json:"timestamp"`
}

// PongPayload for pong messages
type PongPayload struct {
	ClientTimestamp int64 `json:"client_timestamp"`
	ServerTimestamp int64 `json:"server_timestamp"`
}

// StatusPayload mirrors the panel's indicators and readouts
type StatusPayload struct {
	Connected      bool     `json:"connected"`
	Device         string   `json:"device,omitempty"`
	RunningState   string   `json:"running_state"`
	Lights         string   `json:"lights"`
	LeftThrust     int      `json:"left_thrust"`
	RightThrust    int      `json:"right_thrust"`
	VerticalThrust int      `json:"vertical_thrust"`
	Temperature    *float64 `json:"temperature,omitempty"`
	VideoEnabled   bool     `json:"video_enabled"`
}

// Device is an entry of the serial device menu
type Device struct {
	Name    string `json:"name"`
	Product string `json:"product,omitempty"`
	IsUSB   bool   `json:"is_usb"`
}

// DevicesPayload lists the serial devices
type DevicesPayload struct {
	Devices []Device `json:"devices"`
}

// ConnectPayload selects the device to open
type ConnectPayload struct {
	Device string `json:"device"`
}

// SendPayload carries operator text for the serial line
type SendPayload struct {
	Text string `json:"text"`
}

// ThrustPayload names one of the eight joystick directions
type ThrustPayload struct {
	Direction string `json:"direction"`
}

// VerticalPayload carries the vertical slider, -100 to 100
type VerticalPayload struct {
	Level int `json:"level"`
}

// LightsPayload selects off, running or emergency
type LightsPayload struct {
	Mode string `json:"mode"`
}

// ConsolePayload is a line for the serial screen
type ConsolePayload struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
	At   int64  `json:"at"`
}

// TelemetryPayload carries a sensor reading
type TelemetryPayload struct {
	Temperature float64 `json:"temperature"`
	At          int64   `json:"at"`
}

// SDPPayload for offer/answer messages
type SDPPayload struct {
	SDP string `json:"sdp"`
}

// ICECandidatePayload for ICE candidate messages
type ICECandidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdp_mid"`
	SDPMLineIndex uint16 `json:"sdp_mline_index"`
}

// ErrorPayload for error messages
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewMessage creates a new message with the given type and payload
func NewMessage(msgType string, payload any) (*Message, error) {
	if payload == nil {
		return &Message{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:    msgType,
		Payload: data,
	}, nil
}

// ParsePayload unmarshals the payload into the given struct
func (m *Message) ParsePayload(v any) error {
	if len(m.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(m.Payload, v)
}
