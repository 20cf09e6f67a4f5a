// Package arduino speaks the line protocol of the vehicle's microcontroller
// and owns the serial link's lifecycle.
package arduino

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rov-remote/internal/rov"
)

// Command mnemonics, one per line on the wire.
const (
	cmdThrust   = "THR"
	cmdVertical = "VRT"
	cmdStop     = "STP"
	cmdSurface  = "SRF"
	cmdLights   = "LGT"

	replyTemperature = "TMP"
	replyAck         = "ACK"
	replyError       = "ERR"
)

// LineKind classifies an inbound line.
type LineKind int

const (
	// LineConsole is free text for the serial console.
	LineConsole LineKind = iota
	LineTemperature
	LineAck
	LineError
)

func (k LineKind) String() string {
	switch k {
	case LineTemperature:
		return "temperature"
	case LineAck:
		return "ack"
	case LineError:
		return "error"
	default:
		return "console"
	}
}

// Line is one parsed message from the board.
type Line struct {
	Kind        LineKind
	Text        string
	Temperature float64
	At          time.Time
}

// Telemetry converts a temperature line to rov.Telemetry.
func (l Line) Telemetry() rov.Telemetry {
	return rov.Telemetry{Temperature: l.Temperature, At: l.At}
}

var errBadTemperature = errors.New("malformed temperature reading")

// EncodeThrust builds "THR <left> <right>".
func EncodeThrust(left, right int) string {
	return fmt.Sprintf("%s %d %d\n", cmdThrust, rov.Clamp(left), rov.Clamp(right))
}

// EncodeVertical builds "VRT <level>".
func EncodeVertical(level int) string {
	return fmt.Sprintf("%s %d\n", cmdVertical, rov.Clamp(level))
}

// EncodeStop builds "STP".
func EncodeStop() string {
	return cmdStop + "\n"
}

// EncodeSurface builds "SRF".
func EncodeSurface() string {
	return cmdSurface + "\n"
}

// EncodeLights builds "LGT OFF|RUN|EMR".
func EncodeLights(mode rov.Lights) (string, error) {
	var arg string
	switch mode {
	case rov.LightsOff:
		arg = "OFF"
	case rov.LightsRunning:
		arg = "RUN"
	case rov.LightsEmergency:
		arg = "EMR"
	default:
		return "", fmt.Errorf("unknown lights mode %d", int(mode))
	}
	return cmdLights + " " + arg + "\n", nil
}

// EncodeRaw terminates operator text with a newline.
func EncodeRaw(text string) string {
	if strings.HasSuffix(text, "\n") {
		return text
	}
	return text + "\n"
}

// ParseLine classifies a line read from the board. Malformed telemetry is
// returned as a console line together with the parse error.
func ParseLine(raw string, at time.Time) (Line, error) {
	text := strings.TrimRight(raw, "\r\n")
	line := Line{Kind: LineConsole, Text: text, At: at}

	head, rest, _ := strings.Cut(text, " ")
	rest = strings.TrimSpace(rest)

	switch head {
	case replyTemperature:
		v, err := strconv.ParseFloat(rest, 64)
		if err != nil {
			return line, fmt.Errorf("%w: %q", errBadTemperature, rest)
		}
		line.Kind = LineTemperature
		line.Temperature = v
	case replyAck:
		line.Kind = LineAck
		line.Text = rest
	case replyError:
		line.Kind = LineError
		line.Text = rest
	}

	return line, nil
}
