package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rov-remote/internal/arduino"
	"rov-remote/internal/logger"
	"rov-remote/internal/metrics"
	"rov-remote/internal/protocol"
	"rov-remote/internal/rov"
	"rov-remote/internal/serialport"
	"rov-remote/internal/video"
)

// Config for the server
type Config struct {
	ListenAddr string
	// Device is opened at start when AutoConnect is set.
	Device      string
	AutoConnect bool
	RTSPURL     string
	ICEServers  []string
	// ListDevices enumerates serial ports. Defaults to serialport.ListDevices.
	ListDevices func() ([]serialport.Device, error)
}

// Server serves the control panel and relays its actions to the vehicle
type Server struct {
	cfg      Config
	link     *arduino.Link
	vehicle  *rov.Vehicle
	feed     *video.Feed
	upgrader websocket.Upgrader
	staticFS fs.FS
	http     *http.Server

	clients   map[*Client]bool
	clientsMu sync.RWMutex

	// mu guards the fields Start sets and Stop tears down.
	mu          sync.Mutex
	cancel      context.CancelFunc
	unsubscribe func()
}

// New creates a server. staticFS must contain the panel under web/.
func New(cfg Config, link *arduino.Link, vehicle *rov.Vehicle, staticFS fs.FS) (*Server, error) {
	webFS, err := fs.Sub(staticFS, "web")
	if err != nil {
		return nil, fmt.Errorf("failed to access embedded web files: %w", err)
	}

	if cfg.ListDevices == nil {
		cfg.ListDevices = serialport.ListDevices
	}

	s := &Server{
		cfg:      cfg,
		link:     link,
		vehicle:  vehicle,
		staticFS: webFS,
		clients:  make(map[*Client]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // The panel is used on the tether's local network
			},
		},
	}

	if cfg.RTSPURL != "" {
		feed, err := video.NewFeed(cfg.RTSPURL)
		if err != nil {
			return nil, fmt.Errorf("invalid camera url: %w", err)
		}
		s.feed = feed
	}

	return s, nil
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWebSocket)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/devices", s.handleDevices)
		r.Get("/status", s.handleStatus)
	})

	r.Handle("/*", http.FileServer(http.FS(s.staticFS)))

	return r
}

// Start runs background work and serves HTTP until Stop is called
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	s.unsubscribe = s.vehicle.Subscribe(func(rov.Status) {
		s.broadcastStatus()
	})
	s.http = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpServer := s.http
	s.mu.Unlock()

	if s.cfg.AutoConnect && s.cfg.Device != "" {
		if err := s.link.Connect(ctx, s.cfg.Device); err != nil {
			logger.WarnKV(ctx, "Auto-connect failed", "device", s.cfg.Device, "error", err)
		}
	}

	if s.feed != nil {
		if err := s.feed.Start(ctx); err != nil {
			logger.WarnKV(ctx, "Camera feed unavailable", "url", s.cfg.RTSPURL, "error", err)
		}
	}

	go s.pumpLines(ctx)
	go s.vehicle.Run(ctx)
	go s.link.RunFlusher(ctx, 50*time.Millisecond)

	if ctx.Err() != nil {
		return http.ErrServerClosed
	}

	logger.InfoKV(ctx, "Server starting", "listen", s.cfg.ListenAddr)
	return httpServer.ListenAndServe()
}

// Stop brings the vehicle to a full stop and shuts everything down
func (s *Server) Stop(ctx context.Context) {
	if s.link.Connected() {
		if err := s.vehicle.AllStop(ctx); err != nil {
			logger.WarnKV(ctx, "All stop on shutdown failed", "error", err)
		}
	}

	s.mu.Lock()
	httpServer, cancel, unsubscribe := s.http, s.cancel, s.unsubscribe
	s.mu.Unlock()

	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.WarnKV(ctx, "HTTP shutdown", "error", err)
		}
	}

	if cancel != nil {
		cancel()
	}
	if unsubscribe != nil {
		unsubscribe()
	}

	s.clientsMu.Lock()
	for client := range s.clients {
		client.Close()
	}
	s.clientsMu.Unlock()

	if s.feed != nil {
		s.feed.Close()
	}
	if err := s.link.Disconnect(); err != nil {
		logger.WarnKV(ctx, "Serial disconnect", "error", err)
	}
}

// pumpLines relays inbound serial lines to the vehicle and every client
func (s *Server) pumpLines(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case line := <-s.link.Lines():
			s.handleLine(ctx, line)
		}
	}
}

func (s *Server) handleLine(ctx context.Context, line arduino.Line) {
	if line.Kind == arduino.LineTemperature {
		s.vehicle.Observe(line.Telemetry())
		s.broadcast(protocol.TypeTelemetry, protocol.TelemetryPayload{
			Temperature: line.Temperature,
			At:          line.At.UnixMilli(),
		})
		return
	}

	s.broadcast(protocol.TypeConsole, protocol.ConsolePayload{
		Kind: line.Kind.String(),
		Text: line.Text,
		At:   line.At.UnixMilli(),
	})

	// The reader reports a lost port as an error line after dropping it.
	// LinkLost broadcasts the resulting status.
	if line.Kind == arduino.LineError && !s.link.Connected() {
		logger.WarnKV(ctx, "Serial link lost", "state", s.vehicle.Status().State)
		s.vehicle.LinkLost(ctx)
	}
}

func (s *Server) status() protocol.StatusPayload {
	st := s.vehicle.Status()
	return protocol.StatusPayload{
		Connected:      s.link.Connected(),
		Device:         s.link.Device(),
		RunningState:   st.State.String(),
		Lights:         st.Lights.String(),
		LeftThrust:     st.Thrust.Left,
		RightThrust:    st.Thrust.Right,
		VerticalThrust: st.Thrust.Vertical,
		Temperature:    st.Temperature,
		VideoEnabled:   s.feed != nil,
	}
}

func (s *Server) devices() ([]protocol.Device, error) {
	list, err := s.cfg.ListDevices()
	if err != nil {
		return nil, err
	}

	devices := make([]protocol.Device, 0, len(list))
	for _, d := range list {
		devices = append(devices, protocol.Device{Name: d.Name, Product: d.Product, IsUSB: d.IsUSB})
	}
	return devices, nil
}

func (s *Server) broadcastStatus() {
	s.broadcast(protocol.TypeStatus, s.status())
}

func (s *Server) broadcast(msgType string, payload any) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		client.sendMessage(msgType, payload)
	}
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.devices()
	if err != nil {
		logger.WarnKV(r.Context(), "Device listing failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, protocol.ErrorPayload{
			Code:    protocol.ErrSerial,
			Message: err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, protocol.DevicesPayload{Devices: devices})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnKV(r.Context(), "WebSocket upgrade error", "error", err)
		return
	}

	client := newClient(s, conn, r.RemoteAddr)

	s.clientsMu.Lock()
	s.clients[client] = true
	metrics.Clients.Set(float64(len(s.clients)))
	s.clientsMu.Unlock()

	logger.InfoKV(client.ctx, "Panel connected")

	go client.writePump()
	go client.readPump()

	client.sendMessage(protocol.TypeStatus, s.status())

	if s.feed != nil {
		go client.startVideo()
	}
}

// removeClient forgets c. When the last panel goes away the vehicle is
// brought to a full stop.
func (s *Server) removeClient(c *Client) {
	s.clientsMu.Lock()
	if !s.clients[c] {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, c)
	remaining := len(s.clients)
	metrics.Clients.Set(float64(remaining))
	s.clientsMu.Unlock()

	logger.InfoKV(c.ctx, "Panel disconnected", "remaining", remaining)

	if remaining > 0 || !s.link.Connected() || s.vehicle.Status().State == rov.StateFullStop {
		return
	}

	if err := s.vehicle.AllStop(c.ctx); err != nil && !errors.Is(err, arduino.ErrNotConnected) {
		logger.ErrorKV(c.ctx, "All stop after last panel left failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
