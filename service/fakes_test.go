package service

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"screencopy/adb"
	"screencopy/models"
	"screencopy/scrcpy"
)

type execCall struct {
	command string
	data    []byte
}

type fakeProcess struct {
	done     chan struct{}
	killOnce sync.Once
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{done: make(chan struct{})}
}

func (p *fakeProcess) Pid() int { return 4242 }

func (p *fakeProcess) Wait() error {
	<-p.done
	return nil
}

func (p *fakeProcess) Kill() error {
	p.killOnce.Do(func() { close(p.done) })
	return nil
}

func (p *fakeProcess) killed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

type fakeConn struct {
	serial string
	state  string

	mu           sync.Mutex
	execIns      []execCall
	execErr      error
	screencap    []byte
	screencapErr error
	forwards     []int
	forwardErr   error
	removed      []int
	shells       [][]string
	shellErr     error
	proc         *fakeProcess
	closed       bool
}

func (c *fakeConn) Serial() string { return c.serial }

func (c *fakeConn) State(ctx context.Context) (string, error) {
	if c.state == "" {
		return adb.StateDevice, nil
	}
	return c.state, nil
}

func (c *fakeConn) ExecIn(ctx context.Context, command string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execIns = append(c.execIns, execCall{command: command, data: append([]byte(nil), data...)})
	return c.execErr
}

func (c *fakeConn) ScreenCapture(ctx context.Context) ([]byte, error) {
	return c.screencap, c.screencapErr
}

func (c *fakeConn) Forward(ctx context.Context, localPort int, remoteSocket string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.forwardErr != nil {
		return c.forwardErr
	}
	c.forwards = append(c.forwards, localPort)
	return nil
}

func (c *fakeConn) RemoveForward(ctx context.Context, localPort int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, localPort)
	return nil
}

func (c *fakeConn) StartShell(ctx context.Context, args []string) (adb.Process, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shellErr != nil {
		return nil, c.shellErr
	}
	c.shells = append(c.shells, args)
	if c.proc == nil {
		c.proc = newFakeProcess()
	}
	return c.proc, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) snapshot() (execIns int, shells int, closed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.execIns), len(c.shells), c.closed
}

type fakeRef struct {
	serial     string
	name       string
	product    string
	conn       *fakeConn
	connectErr error

	mu       sync.Mutex
	connects int
}

func newFakeRef(serial, name string) *fakeRef {
	return &fakeRef{serial: serial, name: name, product: "product_" + serial, conn: &fakeConn{serial: serial}}
}

func (r *fakeRef) Serial() string      { return r.serial }
func (r *fakeRef) Name() string        { return r.name }
func (r *fakeRef) ProductName() string { return r.product }
func (r *fakeRef) State() string       { return adb.StateDevice }

func (r *fakeRef) Connect(ctx context.Context) (adb.Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects++
	if r.connectErr != nil {
		return nil, r.connectErr
	}
	return r.conn, nil
}

func (r *fakeRef) connectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects
}

type fakeUSB struct {
	refs []adb.DeviceRef
	err  error

	mu    sync.Mutex
	calls int
}

func newFakeUSB(refs ...*fakeRef) *fakeUSB {
	u := &fakeUSB{}
	for _, r := range refs {
		u.refs = append(u.refs, r)
	}
	return u
}

func (u *fakeUSB) GetDevices(ctx context.Context) ([]adb.DeviceRef, error) {
	u.mu.Lock()
	u.calls++
	u.mu.Unlock()
	if u.err != nil {
		return nil, u.err
	}
	return u.refs, nil
}

type fakePanel struct {
	id    string
	title string

	mu       sync.Mutex
	messages []any
	posted   chan struct{}
	done     chan struct{}
	once     sync.Once
}

func newFakePanel(title string) *fakePanel {
	return &fakePanel{
		id:     uuid.NewString(),
		title:  title,
		posted: make(chan struct{}, 64),
		done:   make(chan struct{}),
	}
}

func (p *fakePanel) ID() string { return p.id }

func (p *fakePanel) PostMessage(message any) error {
	p.mu.Lock()
	p.messages = append(p.messages, message)
	p.mu.Unlock()
	select {
	case p.posted <- struct{}{}:
	default:
	}
	return nil
}

func (p *fakePanel) Done() <-chan struct{} { return p.done }

func (p *fakePanel) Dispose() {
	p.once.Do(func() { close(p.done) })
}

func (p *fakePanel) disposed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *fakePanel) frames() []models.FrameMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.FrameMessage
	for _, m := range p.messages {
		if f, ok := m.(models.FrameMessage); ok {
			out = append(out, f)
		}
	}
	return out
}

type fakeWindow struct {
	pickIndex int
	pickOK    bool
	pickErr   error
	createErr error

	mu     sync.Mutex
	infos  []string
	errs   []string
	picks  [][]models.QuickPickItem
	panels []*fakePanel
}

func newFakeWindow(pickIndex int) *fakeWindow {
	return &fakeWindow{pickIndex: pickIndex, pickOK: true}
}

func (w *fakeWindow) ShowInformationMessage(ctx context.Context, message string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.infos = append(w.infos, message)
}

func (w *fakeWindow) ShowErrorMessage(ctx context.Context, message string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errs = append(w.errs, message)
}

func (w *fakeWindow) ShowQuickPick(ctx context.Context, items []models.QuickPickItem) (int, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.picks = append(w.picks, items)
	if w.pickErr != nil {
		return 0, false, w.pickErr
	}
	if !w.pickOK {
		return -1, false, nil
	}
	return items[w.pickIndex].Index, true, nil
}

func (w *fakeWindow) CreatePanel(ctx context.Context, title string) (Panel, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.createErr != nil {
		return nil, w.createErr
	}
	p := newFakePanel(title)
	w.panels = append(w.panels, p)
	return p, nil
}

func (w *fakeWindow) panel(t *testing.T) *fakePanel {
	t.Helper()
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return len(w.panels) > 0
	}, 2*time.Second, 5*time.Millisecond)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.panels[0]
}

func (w *fakeWindow) state() (infos, errs []string, picks int, panels int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.infos...), append([]string(nil), w.errs...), len(w.picks), len(w.panels)
}

// scriptedServer plays the server side of the video socket.
type scriptedServer func(w net.Conn)

// handshakeThen writes the handshake and packets, then closes the socket.
func handshakeThen(packets ...scrcpy.Packet) scriptedServer {
	return func(w net.Conn) {
		defer w.Close()
		if err := scrcpy.WriteHandshake(w, "Pixel 7", scrcpy.CodecMeta{Codec: scrcpy.CodecH264, Width: 720, Height: 1600}); err != nil {
			return
		}
		for _, p := range packets {
			if err := scrcpy.WritePacket(w, p); err != nil {
				return
			}
		}
	}
}

// handshakeThenHold writes the handshake and one data packet, then keeps
// the socket open until the client closes it.
func handshakeThenHold(w net.Conn) {
	defer w.Close()
	if err := scrcpy.WriteHandshake(w, "Pixel 7", scrcpy.CodecMeta{Codec: scrcpy.CodecH264, Width: 720, Height: 1600}); err != nil {
		return
	}
	if err := scrcpy.WritePacket(w, scrcpy.Packet{Type: scrcpy.PacketData, Data: []byte("A")}); err != nil {
		return
	}
	io.Copy(io.Discard, w)
}

func pipeDialer(server scriptedServer) Dialer {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		client, srv := net.Pipe()
		go server(srv)
		return client, nil
	}
}

func failingDialer(ctx context.Context, network, addr string) (net.Conn, error) {
	return nil, errors.New("connection refused")
}

func newTestLauncher(dial Dialer) *Launcher {
	return &Launcher{
		RemotePath:     scrcpy.DefaultRemotePath,
		Dial:           dial,
		FreePort:       func() int { return 27183 },
		ConnectRetries: 3,
		MetaTimeout:    time.Second,
	}
}

func newTestSession(conn *fakeConn) *Session {
	return &Session{
		ID:       uuid.NewString(),
		Device:   models.Device{Serial: conn.serial, Name: "Pixel"},
		Conn:     conn,
		OpenedAt: time.Now(),
	}
}

func writeServerBinary(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scrcpy-server")
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

// sliceStream replays packets, then returns end.
type sliceStream struct {
	packets []*scrcpy.Packet
	end     error

	mu     sync.Mutex
	closed bool
}

func (s *sliceStream) Next() (*scrcpy.Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, io.ErrClosedPipe
	}
	if len(s.packets) == 0 {
		return nil, s.end
	}
	p := s.packets[0]
	s.packets = s.packets[1:]
	return p, nil
}

func (s *sliceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (s *recordingSink) SendFrame(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, data)
	return nil
}
