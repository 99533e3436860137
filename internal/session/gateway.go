package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/edgewatch/edgewatch-core/internal/device"
	"github.com/edgewatch/edgewatch-core/internal/protocol"
)

// Admission results used as metric labels.
const (
	admitted          = "admitted"
	unknownCredential = "unknown_credential"
	disabled          = "disabled"
	duplicate         = "duplicate"
	admissionError    = "error"
)

// Gateway admits device connections and runs their sessions.
type Gateway struct {
	deps    Deps
	cfg     Config
	manager *Manager
	logger  Logger
}

// NewGateway creates a gateway. Every Deps field except Metrics is required.
func NewGateway(deps Deps, cfg Config) (*Gateway, error) {
	switch {
	case deps.Devices == nil:
		return nil, errors.New("session: devices are required")
	case deps.Samples == nil || deps.Events == nil:
		return nil, errors.New("session: record repositories are required")
	case deps.Media == nil:
		return nil, errors.New("session: media sink is required")
	case deps.Notifier == nil:
		return nil, errors.New("session: notifier is required")
	case deps.Bus == nil:
		return nil, errors.New("session: bus is required")
	case deps.Pool == nil:
		return nil, errors.New("session: worker pool is required")
	}

	cfg = cfg.withDefaults()
	return &Gateway{
		deps:    deps,
		cfg:     cfg,
		manager: NewManager(cfg.Policy),
		logger:  noopLogger{},
	}, nil
}

// SetLogger sets the logger for the gateway, its manager and its sessions.
func (g *Gateway) SetLogger(logger Logger) {
	g.logger = logger
	g.manager.SetLogger(logger)
}

// Manager returns the registry of live sessions.
func (g *Gateway) Manager() *Manager {
	return g.manager
}

// Admit resolves apiKey to an enabled device. It never mutates state.
func (g *Gateway) Admit(ctx context.Context, apiKey string) (*device.Device, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %w", ErrAdmission, ErrUnknownCredential)
	}
	d, err := g.deps.Devices.Authenticate(ctx, apiKey)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrAdmission, ErrUnknownCredential)
		}
		return nil, fmt.Errorf("%w: looking up credential: %w", ErrAdmission, err)
	}
	if !d.Enabled {
		return nil, fmt.Errorf("%w: %w", ErrAdmission, ErrDeviceDisabled)
	}
	return d, nil
}

// Serve admits conn and, on success, runs its session until it ends.
// A rejected conn is closed with protocol.ClosePolicyViolation.
//
// Serve always closes conn. It returns nil when the device hung up
// normally or ctx was cancelled.
func (g *Gateway) Serve(ctx context.Context, conn Conn, apiKey string) error {
	d, err := g.Admit(ctx, apiKey)
	if err != nil {
		g.reject(conn, err)
		return err
	}

	s := newSession(ctx, g, conn, d)
	if err := g.manager.Register(s); err != nil {
		err = fmt.Errorf("%w: %w", ErrAdmission, err)
		g.reject(conn, err)
		return err
	}

	g.deps.Metrics.Admission(admitted)
	return s.run()
}

func (g *Gateway) reject(conn Conn, err error) {
	result := admissionError
	switch {
	case errors.Is(err, ErrUnknownCredential):
		result = unknownCredential
	case errors.Is(err, ErrDeviceDisabled):
		result = disabled
	case errors.Is(err, ErrDuplicateSession):
		result = duplicate
	}
	g.deps.Metrics.Admission(result)
	g.logger.Info("device connection rejected", "reason", result, "error", err)
	closeWith(conn, protocol.ClosePolicyViolation, g.cfg.PongWait)
}
