package service

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"screencopy/adb"
	"screencopy/metrics"
	"screencopy/scrcpy"
)

// Dialer opens the local end of the forwarded server socket.
type Dialer func(ctx context.Context, network, addr string) (net.Conn, error)

// Launcher starts the pushed scrcpy server over a session.
type Launcher struct {
	RemotePath     string
	Dial           Dialer
	FreePort       func() int
	InitDelay      time.Duration
	ConnectRetries int
	RetryDelay     time.Duration
	MetaTimeout    time.Duration
	metrics        *metrics.Metrics
}

func NewLauncher(remotePath string, m *metrics.Metrics) *Launcher {
	var d net.Dialer
	return &Launcher{
		RemotePath:     remotePath,
		Dial:           d.DialContext,
		FreePort:       findFreePort,
		InitDelay:      1500 * time.Millisecond,
		ConnectRetries: 10,
		RetryDelay:     300 * time.Millisecond,
		MetaTimeout:    5 * time.Second,
		metrics:        m,
	}
}

// ScrcpyClient is a running scrcpy server tied to one session.
type ScrcpyClient struct {
	session   *Session
	localPort int
	scid      uint32
	process   adb.Process
	exited    chan struct{}
	conn      net.Conn
	demux     *scrcpy.Demuxer

	deviceName string
	codec      scrcpy.CodecID
	width      int
	height     int

	mu sync.Mutex
}

// Start launches the server and performs the video socket handshake.
// It returns a nil client and a nil error when the remote process never
// produced a usable socket; errors are reserved for local failures and
// for ctx ending before the socket was ready.
func (l *Launcher) Start(ctx context.Context, session *Session, opts scrcpy.Options) (*ScrcpyClient, error) {
	serial := session.Serial()

	// Server parses the SCID as a signed 32-bit int, so keep bit 31 clear.
	if opts.SCID == 0 {
		opts.SCID = rand.Uint32() & 0x7FFFFFFF
	}
	c := &ScrcpyClient{session: session, scid: opts.SCID & 0x7FFFFFFF}

	c.localPort = l.FreePort()
	if c.localPort == 0 {
		return nil, newError(KindLaunchFailure, "find free port", serial, fmt.Errorf("no free local port"))
	}

	socketName := opts.SocketName()
	log.Info().Str("serial", serial).Msgf("🔌 [%s] Setting up ADB forward on port %d (socket: %s)...", serial, c.localPort, socketName)
	if err := session.Conn.Forward(ctx, c.localPort, socketName); err != nil {
		return nil, newError(KindLaunchFailure, "forward", serial, err)
	}

	log.Info().Str("serial", serial).Msgf("🚀 [%s] Starting scrcpy server (v%s)...", serial, opts.Version)
	process, err := session.Conn.StartShell(ctx, opts.ServerArgs(l.RemotePath))
	if err != nil {
		c.cleanup()
		return nil, newError(KindLaunchFailure, "start server", serial, err)
	}
	c.process = process
	c.exited = make(chan struct{})
	go func() {
		err := process.Wait()
		log.Debug().Err(err).Str("serial", serial).Msg("scrcpy server process exited")
		close(c.exited)
	}()
	log.Info().Str("serial", serial).Msgf("✅ [%s] Scrcpy server process started (PID: %d)", serial, process.Pid())

	// Give app_process time to bind the socket.
	if !sleepCtx(ctx, l.InitDelay) {
		c.cleanup()
		return nil, fmt.Errorf("start server [%s]: %w", serial, ctx.Err())
	}

	conn, err := l.connectWithRetry(ctx, c)
	if err != nil {
		c.cleanup()
		return nil, fmt.Errorf("connect to server [%s]: %w", serial, err)
	}
	if conn == nil {
		log.Warn().Str("serial", serial).Msgf("⚠️ [%s] Scrcpy server did not accept a video connection", serial)
		c.cleanup()
		l.metrics.RecordLaunch("no_client")
		return nil, nil
	}
	c.conn = conn

	if err := c.handshake(l.MetaTimeout); err != nil {
		log.Warn().Err(err).Str("serial", serial).Msgf("❌ [%s] Handshake failed", serial)
		c.cleanup()
		l.metrics.RecordLaunch("no_client")
		return nil, nil
	}

	c.demux = scrcpy.NewDemuxer(conn)
	l.metrics.RecordLaunch("ok")
	log.Info().Str("serial", serial).Str("codec", c.codec.String()).
		Msgf("🎬 [%s] Scrcpy stream ready - %s @ %dx%d (%s)", serial, c.deviceName, c.width, c.height, c.codec)
	return c, nil
}

// connectWithRetry dials the forwarded port until the server answers with
// its dummy byte. adb accepts the TCP connection before the server is
// listening, so a successful dial alone proves nothing. A nil conn with a
// nil error means the server never answered; the error is ctx's.
func (l *Launcher) connectWithRetry(ctx context.Context, c *ScrcpyClient) (net.Conn, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", c.localPort)
	serial := c.session.Serial()

	for i := 0; i < l.ConnectRetries; i++ {
		select {
		case <-c.exited:
			log.Warn().Str("serial", serial).Msgf("⚠️ [%s] Scrcpy server exited before accepting a connection", serial)
			return nil, nil
		default:
		}

		conn, err := l.Dial(ctx, "tcp", addr)
		if err == nil {
			if err = scrcpy.ReadDummyByte(conn); err == nil {
				return conn, nil
			}
			conn.Close()
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Debug().Err(err).Str("serial", serial).Msgf("⏳ [%s] Connection attempt %d/%d failed, retrying...", serial, i+1, l.ConnectRetries)
		if !sleepCtx(ctx, l.RetryDelay) {
			return nil, ctx.Err()
		}
	}
	return nil, nil
}

func (c *ScrcpyClient) handshake(timeout time.Duration) error {
	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
		defer c.conn.SetReadDeadline(time.Time{})
	}

	name, err := scrcpy.ReadDeviceMeta(c.conn)
	if err != nil {
		return err
	}
	meta, err := scrcpy.ReadCodecMeta(c.conn)
	if err != nil {
		return err
	}

	c.deviceName = name
	c.codec = meta.Codec
	c.width = int(meta.Width)
	c.height = int(meta.Height)
	return nil
}

// VideoStream returns the packet stream. Closing it closes the socket.
func (c *ScrcpyClient) VideoStream() *scrcpy.Demuxer {
	return c.demux
}

// Stop terminates the scrcpy server and cleans up resources
func (c *ScrcpyClient) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanup()
}

// cleanup releases all resources (must be called while holding mutex or
// before the client is shared)
func (c *ScrcpyClient) cleanup() {
	serial := c.session.Serial()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	if c.process != nil {
		log.Info().Str("serial", serial).Msgf("🛑 [%s] Killing scrcpy server process...", serial)
		c.process.Kill()
		select {
		case <-c.exited:
		case <-time.After(2 * time.Second):
			log.Warn().Str("serial", serial).Msgf("⚠️ [%s] Scrcpy server did not exit", serial)
		}
		c.process = nil
	}

	if c.localPort > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info().Str("serial", serial).Msgf("🔌 [%s] Removing ADB forward on port %d...", serial, c.localPort)
		if err := c.session.Conn.RemoveForward(ctx, c.localPort); err != nil {
			log.Warn().Err(err).Str("serial", serial).Msgf("⚠️ [%s] Failed to remove forward", serial)
		}
		c.localPort = 0
	}
}

// GetResolution returns the video size announced in the codec meta
func (c *ScrcpyClient) GetResolution() (width, height int) {
	return c.width, c.height
}

// GetDeviceName returns the device name announced by the server
func (c *ScrcpyClient) GetDeviceName() string {
	return c.deviceName
}

func (c *ScrcpyClient) Codec() scrcpy.CodecID {
	return c.codec
}

// Info summarizes the handshake for status reporting.
func (c *ScrcpyClient) Info() StreamInfo {
	width, height := c.GetResolution()
	return StreamInfo{
		DeviceName: c.GetDeviceName(),
		Codec:      c.Codec().String(),
		Width:      width,
		Height:     height,
	}
}

// findFreePort finds an available TCP port
func findFreePort() int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

// sleepCtx waits d or until ctx is done; it reports whether the full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
