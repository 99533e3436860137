// Package session runs device connections: admission, the inbound frame
// router, the online/offline state machine, the frame handlers, and the
// outbound writer that also receives commands published on the device's
// bus topic.
//
// Each session reads frames on one goroutine, routes them one at a time
// in receipt order on another, and writes on a third. Handlers push their
// blocking work (database, media, email) through the shared worker pool.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/edgewatch/edgewatch-core/internal/bus"
	"github.com/edgewatch/edgewatch-core/internal/device"
	"github.com/edgewatch/edgewatch-core/internal/notify"
	"github.com/edgewatch/edgewatch-core/internal/protocol"
	"github.com/edgewatch/edgewatch-core/internal/worker"
)

// Session is one admitted device connection.
//
// The identity fields are fixed at admission. snapshot is owned by the
// routing goroutine.
type Session struct {
	id       string
	deviceID string
	userID   string
	name     string

	gw     *Gateway
	deps   Deps
	cfg    Config
	logger Logger
	conn   Conn

	ctx    context.Context
	cancel context.CancelFunc

	snapshot *device.Device
	sub      bus.Subscription
	// announced is set once the online notification went out, so the
	// offline one is only sent to pair with it.
	announced bool

	send       chan []byte
	sendMu     sync.RWMutex
	closed     bool
	closeCode  int
	writerDone chan struct{}
}

func newSession(parent context.Context, g *Gateway, conn Conn, d *device.Device) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		id:         uuid.NewString(),
		deviceID:   d.ID,
		userID:     d.UserID,
		name:       d.Name,
		gw:         g,
		deps:       g.deps,
		cfg:        g.cfg,
		logger:     g.logger,
		conn:       conn,
		ctx:        ctx,
		cancel:     cancel,
		snapshot:   d,
		send:       make(chan []byte, g.cfg.SendBuffer),
		closeCode:  websocket.CloseNormalClosure,
		writerDone: make(chan struct{}),
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// DeviceID returns the admitted device's id.
func (s *Session) DeviceID() string { return s.deviceID }

// Close ends the session. The offline transition runs asynchronously.
func (s *Session) Close() {
	s.cancel()
}

// run performs the online transition, routes frames until the session
// ends, then performs the offline transition.
func (s *Session) run() error {
	var online *device.Device
	err := s.do(s.ctx, func(ctx context.Context) error {
		d, err := s.deps.Devices.MarkOnline(ctx, s.deviceID)
		online = d
		return err
	})
	if err != nil {
		s.gw.manager.Unregister(s)
		s.cancel()
		s.logger.Error("marking device online failed", "device_id", s.deviceID, "error", err)
		closeWith(s.conn, websocket.CloseInternalServerErr, s.cfg.PongWait)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	s.snapshot = online
	s.deps.Metrics.SessionOpened()
	s.logger.Info("device session opened",
		"device_id", s.deviceID,
		"session_id", s.id,
		"connection_count", online.ConnectionCount,
	)

	go s.writeLoop()

	sub, err := s.deps.Bus.Subscribe(s.ctx, protocol.DeviceTopic(s.deviceID), s.deliver)
	if err != nil {
		return s.teardown(fmt.Errorf("subscribing to device topic: %w", err))
	}
	s.sub = sub

	s.notify(s.ctx, notify.DeviceOnline(s.name, s.cfg.DetailURL(s.deviceID)))
	s.announced = true
	s.sendInit(online)

	frames := make(chan []byte, inboundBuffer)
	readErr := make(chan error, 1)
	go s.readLoop(frames, readErr)

	return s.teardown(s.dispatch(frames, readErr))
}

// sendInit asks the device to switch on each feature the server has
// enabled for it.
func (s *Session) sendInit(d *device.Device) {
	for _, f := range device.Features {
		if !d.FeatureEnabled(f) {
			continue
		}
		data, err := protocol.InitFrame(protocol.OperationType(f)).Encode()
		if err != nil {
			s.logger.Error("encoding init frame failed", "device_id", s.deviceID, "error", err)
			continue
		}
		if err := s.enqueue(data); err != nil {
			return
		}
	}
}

// dispatch routes frames until the reader stops, the session is
// cancelled, or a frame ends the session.
func (s *Session) dispatch(frames <-chan []byte, readErr <-chan error) error {
	for {
		select {
		case <-s.ctx.Done():
			return nil
		case data, ok := <-frames:
			if !ok {
				return <-readErr
			}
			if err := s.route(s.ctx, data); err != nil {
				return err
			}
		}
	}
}

// route handles one inbound frame. It returns an error only when the
// session must end.
func (s *Session) route(ctx context.Context, data []byte) error {
	if err := s.refresh(ctx); err != nil {
		return err
	}
	if !s.snapshot.Enabled {
		s.deps.Metrics.Frame("unknown", "terminated")
		return fmt.Errorf("%w: %w", ErrProtocol, ErrDeviceDisabled)
	}

	frame, err := protocol.Decode(data)
	if err != nil {
		if protocol.IsTerminal(err) {
			s.deps.Metrics.Frame("unknown", "terminated")
			return fmt.Errorf("%w: %w", ErrProtocol, err)
		}
		s.deps.Metrics.Frame("unknown", "dropped")
		s.logger.Debug("frame dropped", "device_id", s.deviceID, "error", err)
		return nil
	}

	msgType := string(frame.Type())
	if err := frame.Dispatch(ctx, s); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		s.deps.Metrics.Frame(msgType, "failed")
		s.logger.Error("frame handler failed",
			"device_id", s.deviceID,
			"message_type", msgType,
			"error", err,
		)
		return nil
	}
	s.deps.Metrics.Frame(msgType, "handled")
	return nil
}

// refresh reloads the device snapshot, at most once per the registry's
// staleness window. A lookup failure keeps the previous snapshot unless
// the device no longer exists.
func (s *Session) refresh(ctx context.Context) error {
	var d *device.Device
	err := s.do(ctx, func(ctx context.Context) error {
		var err error
		d, err = s.deps.Devices.GetDevice(ctx, s.deviceID)
		return err
	})
	switch {
	case err == nil:
		s.snapshot = d
	case errors.Is(err, device.ErrDeviceNotFound):
		return fmt.Errorf("%w: device removed", ErrProtocol)
	case ctx.Err() != nil:
		return nil
	default:
		s.logger.Warn("device snapshot refresh failed", "device_id", s.deviceID, "error", err)
	}
	return nil
}

// readLoop feeds text frames to the router. It reports why it stopped on
// readErr before closing frames; a normal close reports nil.
func (s *Session) readLoop(frames chan<- []byte, readErr chan<- error) {
	defer close(frames)

	wait := s.cfg.PingInterval + s.cfg.PongWait
	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	//nolint:errcheck // Best-effort deadline on connection setup
	s.conn.SetReadDeadline(time.Now().Add(wait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("device read error", "device_id", s.deviceID, "error", err)
				readErr <- err
				return
			}
			s.logger.Debug("device connection closed", "device_id", s.deviceID, "error", err)
			readErr <- nil
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		s.conn.SetReadDeadline(time.Now().Add(wait))

		if msgType != websocket.TextMessage {
			s.deps.Metrics.Frame("unknown", "dropped")
			continue
		}

		select {
		case frames <- data:
		case <-s.ctx.Done():
			readErr <- nil
			return
		}
	}
}

// writeLoop is the only goroutine that writes data frames to conn.
func (s *Session) writeLoop() {
	defer close(s.writerDone)

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-s.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.PongWait))
			if !ok {
				//nolint:errcheck // Best-effort close message
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(s.closeCode, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("device write failed", "device_id", s.deviceID, "error", err)
				s.cancel()
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.PongWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.cancel()
				return
			}
		}
	}
}

// enqueue hands a frame to the writer, waiting while the send buffer is
// full.
func (s *Session) enqueue(data []byte) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()

	if s.closed {
		return ErrClosed
	}
	select {
	case s.send <- data:
		return nil
	case <-s.ctx.Done():
		return ErrClosed
	}
}

// deliver is the bus handler for the device topic.
func (s *Session) deliver(_ context.Context, _ string, payload []byte) error {
	frame, err := protocol.NormalizeOutbound(payload)
	if err != nil {
		return err
	}
	return s.enqueue(frame)
}

// teardown runs the offline transition and closes the transport. The
// session context is cancelled first so in-flight handlers stop. The
// session stays registered until the device is marked offline, so under
// the single policy a reconnect cannot be overwritten by this late write.
func (s *Session) teardown(reason error) error {
	s.cancel()
	if s.sub != nil {
		s.sub.Unsubscribe()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), offlineTimeout)
	defer cancel()

	err := s.do(ctx, func(ctx context.Context) error {
		return s.deps.Devices.MarkOffline(ctx, s.deviceID)
	})
	if err != nil {
		s.logger.Error("marking device offline failed", "device_id", s.deviceID, "error", err)
	}
	if s.announced {
		s.notify(ctx, notify.DeviceOffline(s.name))
	}
	s.gw.manager.Unregister(s)

	code := websocket.CloseNormalClosure
	if errors.Is(reason, ErrProtocol) {
		code = protocol.ClosePolicyViolation
	}
	s.sendMu.Lock()
	if !s.closed {
		s.closed = true
		s.closeCode = code
		close(s.send)
	}
	s.sendMu.Unlock()

	select {
	case <-s.writerDone:
	case <-time.After(s.cfg.PongWait):
	}
	s.conn.Close()

	s.deps.Metrics.SessionClosed()
	s.logger.Info("device session closed", "device_id", s.deviceID, "session_id", s.id, "reason", reason)
	return reason
}

// do runs fn on the worker pool.
func (s *Session) do(ctx context.Context, fn worker.Task) error {
	return s.deps.Pool.Do(ctx, fn)
}

// notify publishes msg to the device owner. Failures are logged only.
func (s *Session) notify(ctx context.Context, msg notify.Message) {
	err := s.do(ctx, func(ctx context.Context) error {
		return s.deps.Notifier.Notify(ctx, s.userID, msg)
	})
	if err != nil {
		s.logger.Warn("notification failed", "device_id", s.deviceID, "user_id", s.userID, "error", err)
	}
}
