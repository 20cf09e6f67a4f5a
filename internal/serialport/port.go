// Package serialport opens and enumerates the host's serial devices.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Transport is the byte stream to the microcontroller.
type Transport interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds a single Read call.
	SetReadTimeout(timeout time.Duration) error
}

// Config holds the settings for opening a port.
type Config struct {
	Device      string
	BaudRate    int
	ReadTimeout time.Duration
}

// Port is an open OS serial device.
type Port struct {
	port   serial.Port
	device string
}

// Device describes an entry of the device menu.
type Device struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// ErrNoDevice is returned when Open is called without a device path.
var ErrNoDevice = errors.New("serial device path is required")

// Open opens cfg.Device at 8N1.
func Open(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, ErrNoDevice
	}

	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}

	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = time.Second
	}

	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", cfg.Device, err)
	}

	if err := p.SetReadTimeout(cfg.ReadTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	// Opening the port resets most Arduino boards; drop whatever the
	// bootloader printed.
	_ = p.ResetInputBuffer()

	return &Port{port: p, device: cfg.Device}, nil
}

func (p *Port) Read(b []byte) (int, error) {
	return p.port.Read(b)
}

func (p *Port) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

func (p *Port) Close() error {
	return p.port.Close()
}

func (p *Port) SetReadTimeout(timeout time.Duration) error {
	return p.port.SetReadTimeout(timeout)
}

// Device returns the path the port was opened with.
func (p *Port) Device() string {
	return p.device
}

// ListDevices returns the serial devices present on the host, sorted by
// name. USB details are filled in where the OS exposes them.
func ListDevices() ([]Device, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil || len(details) == 0 {
		// The detailed enumerator is unsupported on some platforms.
		names, plainErr := serial.GetPortsList()
		if plainErr != nil {
			if err != nil {
				return nil, fmt.Errorf("list serial ports: %w", err)
			}
			return nil, fmt.Errorf("list serial ports: %w", plainErr)
		}
		devices := make([]Device, 0, len(names))
		for _, name := range names {
			devices = append(devices, Device{Name: name})
		}
		sortDevices(devices)
		return devices, nil
	}

	devices := make([]Device, 0, len(details))
	for _, d := range details {
		devices = append(devices, Device{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	sortDevices(devices)

	return devices, nil
}

func sortDevices(devices []Device) {
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Name < devices[j].Name
	})
}
