package service

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screencopy/scrcpy"
)

func TestLauncherStart(t *testing.T) {
	conn := &fakeConn{serial: "SER1"}
	session := newTestSession(conn)
	l := newTestLauncher(pipeDialer(handshakeThen(scrcpy.Packet{Type: scrcpy.PacketData, Data: []byte("A")})))

	opts := scrcpy.DefaultOptions()
	opts.SCID = 0x1234
	client, err := l.Start(context.Background(), session, opts)
	require.NoError(t, err)
	require.NotNil(t, client)
	defer client.Stop()

	assert.Equal(t, StreamInfo{DeviceName: "Pixel 7", Codec: "h264", Width: 720, Height: 1600}, client.Info())

	require.Len(t, conn.shells, 1)
	args := strings.Join(conn.shells[0], " ")
	assert.Contains(t, args, "CLASSPATH="+scrcpy.DefaultRemotePath)
	assert.Contains(t, args, "scid=00001234")
	assert.Equal(t, []int{27183}, conn.forwards)

	pkt, err := client.VideoStream().Next()
	require.NoError(t, err)
	assert.Equal(t, []byte("A"), pkt.Data)

	client.Stop()
	assert.True(t, conn.proc.killed())
	assert.Equal(t, []int{27183}, conn.removed)
}

func TestLauncherNoClientWhenServerNeverAnswers(t *testing.T) {
	conn := &fakeConn{serial: "SER1"}
	l := newTestLauncher(failingDialer)

	client, err := l.Start(context.Background(), newTestSession(conn), scrcpy.DefaultOptions())
	assert.NoError(t, err)
	assert.Nil(t, client)
	assert.True(t, conn.proc.killed())
	assert.Equal(t, []int{27183}, conn.removed)
}

func TestLauncherNoClientOnBrokenHandshake(t *testing.T) {
	conn := &fakeConn{serial: "SER1"}
	l := newTestLauncher(pipeDialer(func(w net.Conn) {
		defer w.Close()
		w.Write([]byte{0, 'P', 'i'})
	}))

	client, err := l.Start(context.Background(), newTestSession(conn), scrcpy.DefaultOptions())
	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestLauncherStopsRetryingWhenServerExits(t *testing.T) {
	conn := &fakeConn{serial: "SER1", proc: newFakeProcess()}
	conn.proc.Kill()

	dials := 0
	l := newTestLauncher(func(ctx context.Context, network, addr string) (net.Conn, error) {
		dials++
		return nil, errors.New("connection refused")
	})
	l.ConnectRetries = 50
	l.InitDelay = 20 * time.Millisecond

	client, err := l.Start(context.Background(), newTestSession(conn), scrcpy.DefaultOptions())
	assert.NoError(t, err)
	assert.Nil(t, client)
	assert.Zero(t, dials)
}

func TestLauncherLocalFailuresAreErrors(t *testing.T) {
	t.Run("forward", func(t *testing.T) {
		conn := &fakeConn{serial: "SER1", forwardErr: errors.New("cannot bind")}
		_, err := newTestLauncher(failingDialer).Start(context.Background(), newTestSession(conn), scrcpy.DefaultOptions())
		assert.Equal(t, KindLaunchFailure, KindOf(err))
		assert.Empty(t, conn.shells)
	})

	t.Run("shell", func(t *testing.T) {
		conn := &fakeConn{serial: "SER1", shellErr: errors.New("device offline")}
		_, err := newTestLauncher(failingDialer).Start(context.Background(), newTestSession(conn), scrcpy.DefaultOptions())
		assert.Equal(t, KindLaunchFailure, KindOf(err))
		assert.Equal(t, []int{27183}, conn.removed)
	})

	t.Run("no port", func(t *testing.T) {
		l := newTestLauncher(failingDialer)
		l.FreePort = func() int { return 0 }
		_, err := l.Start(context.Background(), newTestSession(&fakeConn{serial: "SER1"}), scrcpy.DefaultOptions())
		assert.Equal(t, KindLaunchFailure, KindOf(err))
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		l := newTestLauncher(failingDialer)
		l.InitDelay = time.Second
		conn := &fakeConn{serial: "SER1"}
		_, err := l.Start(ctx, newTestSession(conn), scrcpy.DefaultOptions())
		assert.Equal(t, KindLaunchFailure, KindOf(err))
		assert.True(t, conn.proc.killed())
	})
}

func TestLauncherCancelledWhileConnecting(t *testing.T) {
	conn := &fakeConn{serial: "SER1"}
	ctx, cancel := context.WithCancel(context.Background())

	dials := 0
	l := newTestLauncher(func(ctx context.Context, network, addr string) (net.Conn, error) {
		dials++
		cancel()
		return nil, errors.New("connection refused")
	})
	l.ConnectRetries = 50

	client, err := l.Start(ctx, newTestSession(conn), scrcpy.DefaultOptions())
	assert.Nil(t, client)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotEqual(t, KindLaunchFailure, KindOf(err))
	assert.Equal(t, 1, dials)
	assert.True(t, conn.proc.killed())
	assert.Equal(t, []int{27183}, conn.removed)
}
