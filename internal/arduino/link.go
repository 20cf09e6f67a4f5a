package arduino

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"rov-remote/internal/logger"
	"rov-remote/internal/metrics"
	"rov-remote/internal/rov"
	"rov-remote/internal/serialport"
)

var (
	// ErrNotConnected is returned by commands issued without an open port.
	ErrNotConnected = errors.New("serial port is not connected")
	// ErrAlreadyConnected is returned by Connect on an open link.
	ErrAlreadyConnected = errors.New("serial port is already connected")
)

// Opener opens the transport for a device path.
type Opener func(device string) (serialport.Transport, error)

// Config for a Link.
type Config struct {
	// Open creates the transport. Required.
	Open Opener
	// CommandRate caps thrust and vertical updates per second. Zero
	// disables limiting.
	CommandRate float64
	// WriteTimeout bounds a single command write.
	WriteTimeout time.Duration
}

// Link is the serial connection to the vehicle. It implements
// rov.Commander.
type Link struct {
	open         Opener
	writeTimeout time.Duration
	lines        chan Line

	thrustLimit   *rate.Limiter
	verticalLimit *rate.Limiter

	mu        sync.Mutex
	transport serialport.Transport
	device    string
	done      chan struct{}

	// writeMu serialises writes so commands never interleave on the wire.
	// Lock order is writeMu, then pendingMu.
	writeMu sync.Mutex

	// Pending coalesced values, flushed by the next allowed update.
	pendingMu       sync.Mutex
	pendingThrust   *[2]int
	pendingVertical *int
}

// NewLink creates a disconnected link.
func NewLink(cfg Config) *Link {
	l := &Link{
		open:         cfg.Open,
		writeTimeout: cfg.WriteTimeout,
		lines:        make(chan Line, 64),
	}
	if l.writeTimeout <= 0 {
		l.writeTimeout = 500 * time.Millisecond
	}
	if cfg.CommandRate > 0 {
		l.thrustLimit = rate.NewLimiter(rate.Limit(cfg.CommandRate), 1)
		l.verticalLimit = rate.NewLimiter(rate.Limit(cfg.CommandRate), 1)
	}
	return l
}

// SerialOpener returns an Opener backed by real serial ports.
func SerialOpener(baudRate int, readTimeout time.Duration) Opener {
	return func(device string) (serialport.Transport, error) {
		p, err := serialport.Open(serialport.Config{
			Device:      device,
			BaudRate:    baudRate,
			ReadTimeout: readTimeout,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Connect opens device and starts reading from it.
func (l *Link) Connect(ctx context.Context, device string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.transport != nil {
		return ErrAlreadyConnected
	}

	t, err := l.open(device)
	if err != nil {
		metrics.IncSerialError("open")
		return fmt.Errorf("connect %s: %w", device, err)
	}

	l.transport = t
	l.device = device
	l.done = make(chan struct{})
	metrics.SetConnected(true)

	go l.readLoop(logger.WithKV(context.WithoutCancel(ctx), "device", device), t, l.done)

	logger.InfoKV(ctx, "Serial port connected", "device", device)

	return nil
}

// Disconnect closes the port. Disconnecting a closed link is a no-op.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	t, done := l.transport, l.done
	l.transport, l.device, l.done = nil, "", nil
	l.mu.Unlock()

	if t == nil {
		return nil
	}

	close(done)
	metrics.SetConnected(false)

	if err := t.Close(); err != nil {
		return fmt.Errorf("close serial port: %w", err)
	}
	return nil
}

// Connected reports whether the port is open.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transport != nil
}

// Device returns the open device path, or "".
func (l *Link) Device() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.device
}

// Lines delivers parsed inbound lines. Lines are dropped when nobody reads.
func (l *Link) Lines() <-chan Line {
	return l.lines
}

// Thrust implements rov.Commander. Updates faster than the command rate are
// coalesced; the latest value goes out with the next allowed update.
func (l *Link) Thrust(ctx context.Context, left, right int) error {
	if l.thrustLimit != nil && !l.thrustLimit.Allow() {
		l.pendingMu.Lock()
		l.pendingThrust = &[2]int{left, right}
		l.pendingMu.Unlock()
		metrics.IncCoalesced("thrust")
		return l.checkConnected()
	}

	return l.writeReplacing(ctx, "thrust", EncodeThrust(left, right), true, false)
}

// Vertical implements rov.Commander with the same coalescing as Thrust.
func (l *Link) Vertical(ctx context.Context, level int) error {
	if l.verticalLimit != nil && !l.verticalLimit.Allow() {
		l.pendingMu.Lock()
		l.pendingVertical = &level
		l.pendingMu.Unlock()
		metrics.IncCoalesced("vertical")
		return l.checkConnected()
	}

	return l.writeReplacing(ctx, "vertical", EncodeVertical(level), false, true)
}

// Flush sends coalesced thrust and vertical values, if any. Pending values
// are taken under the write lock so nothing written after them can be
// overtaken.
func (l *Link) Flush(ctx context.Context) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.pendingMu.Lock()
	thrust, vertical := l.pendingThrust, l.pendingVertical
	l.pendingThrust, l.pendingVertical = nil, nil
	l.pendingMu.Unlock()

	if thrust != nil {
		if err := l.writeLocked(ctx, "thrust", EncodeThrust(thrust[0], thrust[1])); err != nil {
			return err
		}
	}
	if vertical != nil {
		return l.writeLocked(ctx, "vertical", EncodeVertical(*vertical))
	}
	return nil
}

// Stop implements rov.Commander. It discards coalesced updates.
func (l *Link) Stop(ctx context.Context) error {
	return l.writeReplacing(ctx, "stop", EncodeStop(), true, true)
}

// Surface implements rov.Commander. It discards coalesced updates.
func (l *Link) Surface(ctx context.Context) error {
	return l.writeReplacing(ctx, "surface", EncodeSurface(), true, true)
}

// Lights implements rov.Commander.
func (l *Link) Lights(ctx context.Context, mode rov.Lights) error {
	line, err := EncodeLights(mode)
	if err != nil {
		return err
	}
	return l.write(ctx, "lights", line)
}

// Raw implements rov.Commander.
func (l *Link) Raw(ctx context.Context, text string) error {
	return l.write(ctx, "raw", EncodeRaw(text))
}

// RunFlusher periodically sends coalesced updates until ctx is done.
func (l *Link) RunFlusher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.Connected() {
				continue
			}
			if err := l.Flush(ctx); err != nil {
				logger.WarnKV(ctx, "Flush of coalesced commands failed", "error", err)
			}
		}
	}
}

func (l *Link) checkConnected() error {
	if !l.Connected() {
		return ErrNotConnected
	}
	return nil
}

func (l *Link) write(ctx context.Context, kind, line string) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	return l.writeLocked(ctx, kind, line)
}

// writeReplacing discards the selected pending values and writes line while
// holding the write lock, so a concurrent Flush cannot put a stale value on
// the wire after it.
func (l *Link) writeReplacing(ctx context.Context, kind, line string, thrust, vertical bool) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.pendingMu.Lock()
	if thrust {
		l.pendingThrust = nil
	}
	if vertical {
		l.pendingVertical = nil
	}
	l.pendingMu.Unlock()

	return l.writeLocked(ctx, kind, line)
}

// writeLocked must be called with writeMu held.
func (l *Link) writeLocked(ctx context.Context, kind, line string) error {
	l.mu.Lock()
	t := l.transport
	l.mu.Unlock()

	if t == nil {
		return ErrNotConnected
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := io.WriteString(t, line)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			metrics.IncSerialError("write")
			return fmt.Errorf("write %s: %w", kind, err)
		}
	case <-time.After(l.writeTimeout):
		metrics.IncSerialError("write_timeout")
		return fmt.Errorf("write %s: timed out after %v", kind, l.writeTimeout)
	}

	metrics.IncCommand(kind)
	logger.DebugKV(ctx, "Command sent", "kind", kind, "line", line[:len(line)-1])

	return nil
}

func (l *Link) readLoop(ctx context.Context, t serialport.Transport, done <-chan struct{}) {
	scanner := bufio.NewScanner(patientReader{r: t, done: done})

	for scanner.Scan() {
		line, err := ParseLine(scanner.Text(), time.Now())
		if err != nil {
			logger.WarnKV(ctx, "Unparsable telemetry", "error", err)
		}
		if line.Text == "" && line.Kind == LineConsole {
			continue
		}

		select {
		case l.lines <- line:
		default:
			logger.DebugKV(ctx, "Inbound line dropped", "line", line.Text)
		}
	}

	select {
	case <-done:
		return
	default:
	}

	metrics.IncSerialError("read")
	logger.ErrorKV(ctx, "Serial read failed, disconnecting", "error", scanner.Err())
	l.dropTransport(t)
}

// patientReader retries the zero-byte reads a serial port returns on read
// timeout, so a quiet board does not look like a closed stream.
type patientReader struct {
	r    io.Reader
	done <-chan struct{}
}

func (p patientReader) Read(b []byte) (int, error) {
	for {
		n, err := p.r.Read(b)
		if n > 0 || err != nil {
			return n, err
		}
		select {
		case <-p.done:
			return 0, io.EOF
		default:
		}
	}
}

// dropTransport forgets t if it is still the active transport.
func (l *Link) dropTransport(t serialport.Transport) {
	l.mu.Lock()
	if l.transport != t {
		l.mu.Unlock()
		return
	}
	done := l.done
	l.transport, l.device, l.done = nil, "", nil
	l.mu.Unlock()

	close(done)
	metrics.SetConnected(false)
	_ = t.Close()

	select {
	case l.lines <- Line{Kind: LineError, Text: "serial link lost", At: time.Now()}:
	default:
	}
}
