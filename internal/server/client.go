package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"

	"rov-remote/internal/arduino"
	"rov-remote/internal/logger"
	"rov-remote/internal/protocol"
	"rov-remote/internal/rov"
	"rov-remote/internal/video"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// Client is one connected control panel
type Client struct {
	conn   *websocket.Conn
	server *Server
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	video  *video.Session
	closed bool
}

func newClient(s *Server, conn *websocket.Conn, remote string) *Client {
	ctx, cancel := context.WithCancel(logger.WithKV(context.Background(), "panel", remote))
	return &Client{
		conn:   conn,
		server: s,
		send:   make(chan []byte, 256),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *Client) sendMessage(msgType string, payload any) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		logger.ErrorKV(c.ctx, "Failed to create message", "error", err)
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		logger.ErrorKV(c.ctx, "Failed to marshal message", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		logger.WarnKV(c.ctx, "Client send buffer full, dropping message", "type", msgType)
	}
}

func (c *Client) sendError(code string, err error) {
	c.sendMessage(protocol.TypeError, protocol.ErrorPayload{
		Code:    code,
		Message: err.Error(),
	})
}

func (c *Client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.Close()
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.WarnKV(c.ctx, "WebSocket error", "error", err)
			}
			return
		}

		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError(protocol.ErrInvalidMessage, errors.New("failed to parse message"))
		return
	}

	ctx := c.ctx
	vehicle := c.server.vehicle

	var err error

	switch msg.Type {
	case protocol.TypePing:
		var payload protocol.PingPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(protocol.ErrInvalidMessage, err)
			return
		}
		c.sendMessage(protocol.TypePong, protocol.PongPayload{
			ClientTimestamp: payload.Timestamp,
			ServerTimestamp: time.Now().UnixMilli(),
		})
		return

	case protocol.TypeListDevices:
		devices, err := c.server.devices()
		if err != nil {
			c.sendError(protocol.ErrSerial, err)
			return
		}
		c.sendMessage(protocol.TypeDevices, protocol.DevicesPayload{Devices: devices})
		return

	case protocol.TypeConnect:
		var payload protocol.ConnectPayload
		if err := msg.ParsePayload(&payload); err != nil || payload.Device == "" {
			c.sendError(protocol.ErrInvalidMessage, errors.New("connect needs a device"))
			return
		}
		err = c.server.link.Connect(ctx, payload.Device)
		if err == nil {
			c.server.broadcastStatus()
		}

	case protocol.TypeDisconnect:
		if c.server.link.Connected() && vehicle.Status().State != rov.StateFullStop {
			if err := vehicle.AllStop(ctx); err != nil {
				logger.WarnKV(ctx, "All stop before disconnect failed", "error", err)
				vehicle.LinkLost(ctx)
			}
		}
		err = c.server.link.Disconnect()
		c.server.broadcastStatus()

	case protocol.TypeSend:
		var payload protocol.SendPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(protocol.ErrInvalidMessage, err)
			return
		}
		err = vehicle.SendText(ctx, payload.Text)

	case protocol.TypeThrust:
		var payload protocol.ThrustPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(protocol.ErrInvalidMessage, err)
			return
		}
		dir, perr := rov.ParseDirection(payload.Direction)
		if perr != nil {
			c.sendError(protocol.ErrInvalidMessage, perr)
			return
		}
		err = vehicle.Thrust(ctx, dir)

	case protocol.TypeThrustRelease:
		err = vehicle.ReleaseThrust(ctx)

	case protocol.TypeVertical:
		var payload protocol.VerticalPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(protocol.ErrInvalidMessage, err)
			return
		}
		err = vehicle.SetVertical(ctx, payload.Level)

	case protocol.TypeAllStop:
		err = vehicle.AllStop(ctx)

	case protocol.TypeEmergencySurface:
		err = vehicle.EmergencySurface(ctx)

	case protocol.TypeLights:
		var payload protocol.LightsPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError(protocol.ErrInvalidMessage, err)
			return
		}
		mode, perr := rov.ParseLights(payload.Mode)
		if perr != nil {
			c.sendError(protocol.ErrInvalidMessage, perr)
			return
		}
		err = vehicle.SetLights(ctx, mode)

	case protocol.TypeAnswer:
		var payload protocol.SDPPayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		if s := c.videoSession(); s != nil {
			if err := s.SetAnswer(payload.SDP); err != nil {
				logger.WarnKV(ctx, "Failed to set answer", "error", err)
			}
		}
		return

	case protocol.TypeICECandidate:
		var payload protocol.ICECandidatePayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		if s := c.videoSession(); s != nil {
			if err := s.AddICECandidate(payload.Candidate, payload.SDPMid, payload.SDPMLineIndex); err != nil {
				logger.WarnKV(ctx, "Failed to add ICE candidate", "error", err)
			}
		}
		return

	default:
		c.sendError(protocol.ErrInvalidMessage, errors.New("unknown message type "+msg.Type))
		return
	}

	if err != nil {
		logger.WarnKV(ctx, "Command failed", "type", msg.Type, "error", err)
		c.sendError(errorCode(err), err)
	}
}

// errorCode maps a command failure to the code shown by the panel
func errorCode(err error) string {
	switch {
	case errors.Is(err, arduino.ErrNotConnected):
		return protocol.ErrNotConnected
	case errors.Is(err, rov.ErrSurfacing):
		return protocol.ErrSurfacing
	case errors.Is(err, rov.ErrEmptyText):
		return protocol.ErrInvalidMessage
	default:
		return protocol.ErrSerial
	}
}

func (c *Client) startVideo() {
	session, err := video.NewSession(c.ctx, c.server.cfg.ICEServers, func(candidate webrtc.ICECandidateInit) {
		payload := protocol.ICECandidatePayload{Candidate: candidate.Candidate}
		if candidate.SDPMid != nil {
			payload.SDPMid = *candidate.SDPMid
		}
		if candidate.SDPMLineIndex != nil {
			payload.SDPMLineIndex = *candidate.SDPMLineIndex
		}
		c.sendMessage(protocol.TypeICECandidate, payload)
	})
	if err != nil {
		logger.WarnKV(c.ctx, "Failed to initialize WebRTC", "error", err)
		c.sendError(protocol.ErrRTSP, err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		session.Close()
		return
	}
	c.video = session
	c.mu.Unlock()

	offer, err := session.CreateOffer()
	if err != nil {
		logger.WarnKV(c.ctx, "Failed to create offer", "error", err)
		return
	}
	c.sendMessage(protocol.TypeOffer, protocol.SDPPayload{SDP: offer})

	packets, unsubscribe := c.server.feed.Subscribe()
	defer unsubscribe()
	session.Forward(c.ctx, packets)
}

func (c *Client) videoSession() *video.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.video
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	c.cancel()

	if c.video != nil {
		c.video.Close()
		c.video = nil
	}

	close(c.send)
}
