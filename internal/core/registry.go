package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultSendTimeout = 10 * time.Second

type SessionState string

const (
	SessionStateDisconnected SessionState = "disconnected"
	SessionStateConnected    SessionState = "connected"
	SessionStateBusy         SessionState = "busy"
	SessionStateError        SessionState = "error"
)

type PrinterIdentity struct {
	VendorID  uint16
	ProductID uint16
}

func (p PrinterIdentity) String() string {
	return fmt.Sprintf("%04x:%04x", p.VendorID, p.ProductID)
}

type DeviceInfo struct {
	Identity     PrinterIdentity
	Manufacturer string
	Model        string
}

type DeviceLink interface {
	Send(ctx context.Context, data []byte) error
	Close() error
}

type Transport interface {
	Discover() ([]DeviceInfo, error)
	Open(identity PrinterIdentity) (DeviceLink, error)
}

var (
	ErrPrinterNotFound  = errors.New("printer not found")
	ErrNoActivePrinter  = errors.New("no active printer")
	ErrPrinterBusy      = errors.New("printer is busy")
	ErrTransportFailure = errors.New("printer transport failure")
)

type SessionStatus struct {
	Info        DeviceInfo
	State       SessionState
	ConnectedAt time.Time
	LastError   string
}

type session struct {
	info        DeviceInfo
	link        DeviceLink
	state       SessionState
	connectedAt time.Time
	lastError   string
}

type Registry struct {
	mu          sync.Mutex
	transport   Transport
	sendTimeout time.Duration
	notifier    Notifier
	log         *zap.Logger
	session     *session
}

func NewRegistry(transport Transport, sendTimeout time.Duration, notifier Notifier, log *zap.Logger) *Registry {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		transport:   transport,
		sendTimeout: sendTimeout,
		notifier:    notifier,
		log:         log,
	}
}

func (r *Registry) Discover() ([]DeviceInfo, error) {
	return r.transport.Discover()
}

func (r *Registry) Connect(identity PrinterIdentity) (SessionStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		if r.session.state == SessionStateBusy {
			return SessionStatus{}, fmt.Errorf("%w: %s", ErrPrinterBusy, r.session.info.Identity)
		}
		if r.session.info.Identity == identity {
			return r.statusLocked(), nil
		}
	}

	devices, err := r.transport.Discover()
	if err != nil {
		return SessionStatus{}, fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}
	var info *DeviceInfo
	for i := range devices {
		if devices[i].Identity == identity {
			info = &devices[i]
			break
		}
	}
	if info == nil {
		return SessionStatus{}, fmt.Errorf("%w: %s", ErrPrinterNotFound, identity)
	}

	link, err := r.transport.Open(identity)
	if err != nil {
		return SessionStatus{}, fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	if r.session != nil {
		r.closeSessionLocked()
	}

	r.session = &session{
		info:        *info,
		link:        link,
		state:       SessionStateConnected,
		connectedAt: time.Now(),
	}
	r.notifyTransition(identity, SessionStateDisconnected, SessionStateConnected)
	r.log.Info("printer connected",
		zap.String("printer", identity.String()),
		zap.String("model", info.Model))

	return r.statusLocked(), nil
}

func (r *Registry) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return nil
	}
	r.closeSessionLocked()
	return nil
}

func (r *Registry) closeSessionLocked() {
	s := r.session
	r.session = nil
	if err := s.link.Close(); err != nil {
		r.log.Warn("closing printer link", zap.Error(err))
	}
	r.notifyTransition(s.info.Identity, s.state, SessionStateDisconnected)
	r.log.Info("printer disconnected", zap.String("printer", s.info.Identity.String()))
}

func (r *Registry) Status() SessionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked()
}

func (r *Registry) statusLocked() SessionStatus {
	if r.session == nil {
		return SessionStatus{State: SessionStateDisconnected}
	}
	return SessionStatus{
		Info:        r.session.info,
		State:       r.session.state,
		ConnectedAt: r.session.connectedAt,
		LastError:   r.session.lastError,
	}
}

// Send transmits data to the active printer. The session is marked busy
// for the duration of the write; concurrent sends are rejected rather
// than queued.
func (r *Registry) Send(ctx context.Context, data []byte) error {
	r.mu.Lock()
	s := r.session
	if s == nil {
		r.mu.Unlock()
		return ErrNoActivePrinter
	}
	if s.state == SessionStateBusy {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPrinterBusy, s.info.Identity)
	}
	prev := s.state
	s.state = SessionStateBusy
	link := s.link
	r.mu.Unlock()

	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	err := link.Send(sendCtx, data)
	cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != s {
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransportFailure, err)
		}
		return nil
	}

	if err != nil {
		s.state = SessionStateError
		s.lastError = err.Error()
		if prev != SessionStateError {
			r.notifyTransition(s.info.Identity, SessionStateBusy, SessionStateError)
		}
		r.log.Error("printer send failed",
			zap.String("printer", s.info.Identity.String()),
			zap.Error(err))
		return fmt.Errorf("%w: %v", ErrTransportFailure, err)
	}

	s.state = SessionStateConnected
	if prev == SessionStateError {
		s.lastError = ""
		r.notifyTransition(s.info.Identity, SessionStateError, SessionStateConnected)
	}
	return nil
}

func (r *Registry) Close() error {
	return r.Disconnect()
}

// Transitions in and out of busy are internal bookkeeping and are not
// announced.
func (r *Registry) notifyTransition(identity PrinterIdentity, oldState, newState SessionState) {
	if r.notifier == nil {
		return
	}
	if oldState == SessionStateBusy && newState == SessionStateConnected {
		return
	}
	if oldState == SessionStateConnected && newState == SessionStateBusy {
		return
	}
	r.notifier.SendPrinterStatusChange(identity, oldState, newState)
}
