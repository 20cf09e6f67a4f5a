package serialport

import (
	"io"
	"sync"
	"time"
)

// MockTransport implements Transport for tests. Reads are served from an
// in-memory pipe fed through Feed; writes are recorded.
type MockTransport struct {
	mu          sync.Mutex
	written     []byte
	closed      bool
	readTimeout time.Duration

	// WriteErr, when set, fails every Write.
	WriteErr error

	r *io.PipeReader
	w *io.PipeWriter
}

// NewMockTransport returns an open mock.
func NewMockTransport() *MockTransport {
	r, w := io.Pipe()
	return &MockTransport{r: r, w: w}
}

func (m *MockTransport) Read(p []byte) (int, error) {
	return m.r.Read(p)
}

func (m *MockTransport) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	m.written = append(m.written, p...)
	return len(p), nil
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.w.Close()
	return m.r.Close()
}

func (m *MockTransport) SetReadTimeout(timeout time.Duration) error {
	m.mu.Lock()
	m.readTimeout = timeout
	m.mu.Unlock()
	return nil
}

// Feed makes data available to Read, as if sent by the board.
func (m *MockTransport) Feed(data string) {
	go m.w.Write([]byte(data)) //nolint:errcheck // Reader may have gone away.
}

// Written returns a copy of everything written so far.
func (m *MockTransport) Written() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.written)
}

// Closed reports whether Close was called.
func (m *MockTransport) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
