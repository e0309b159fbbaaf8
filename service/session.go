package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"screencopy/adb"
	"screencopy/metrics"
	"screencopy/models"
)

// Session is an authenticated connection to one device.
type Session struct {
	ID       string
	Device   models.Device
	Conn     adb.Connection
	OpenedAt time.Time

	closeOnce sync.Once
	closeErr  error
	onClose   func()
}

func (s *Session) Serial() string {
	return s.Device.Serial
}

// Close releases the connection. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.Conn.Close()
		if s.onClose != nil {
			s.onClose()
		}
		log.Info().Str("serial", s.Serial()).Str("session", s.ID).Msg("🔌 Session closed")
	})
	return s.closeErr
}

// Connector opens authenticated sessions.
type Connector struct {
	Credentials  adb.CredentialStore
	AuthTimeout  time.Duration
	PollInterval time.Duration
	metrics      *metrics.Metrics
}

func NewConnector(store adb.CredentialStore, authTimeout time.Duration, m *metrics.Metrics) *Connector {
	return &Connector{Credentials: store, AuthTimeout: authTimeout, metrics: m}
}

// Connect opens the device, waits for it to accept the host key and wraps
// the result in a Session. Every failure is KindAuthentication.
func (c *Connector) Connect(ctx context.Context, device models.Device) (*Session, error) {
	if device.Ref == nil {
		return nil, newError(KindAuthentication, "connect", device.Serial, errors.New("device has no USB reference"))
	}

	log.Info().Str("serial", device.Serial).Msgf("🔗 [%s] Opening connection...", device.Serial)
	conn, err := device.Ref.Connect(ctx)
	if err != nil {
		return nil, newError(KindAuthentication, "open connection", device.Serial, err)
	}

	transport, err := adb.Authenticate(ctx, adb.AuthOptions{
		Serial:          device.Serial,
		Connection:      conn,
		CredentialStore: c.Credentials,
		Timeout:         c.AuthTimeout,
		PollInterval:    c.PollInterval,
	})
	if err != nil {
		conn.Close()
		return nil, newError(KindAuthentication, "authenticate", device.Serial, err)
	}

	c.metrics.SessionOpened()
	s := &Session{
		ID:       uuid.NewString(),
		Device:   device,
		Conn:     transport,
		OpenedAt: time.Now(),
		onClose:  c.metrics.SessionClosed,
	}
	log.Info().Str("serial", device.Serial).Str("session", s.ID).Msgf("✅ [%s] ADB session authenticated", device.Serial)
	return s, nil
}
