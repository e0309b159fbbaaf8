package scrcpy

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecIDString(t *testing.T) {
	assert.Equal(t, "h264", CodecH264.String())
	assert.Equal(t, "h265", CodecH265.String())
	assert.Equal(t, "av1", CodecAV1.String())
}

func TestHandshakeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	meta := CodecMeta{Codec: CodecH265, Width: 720, Height: 1600}
	require.NoError(t, WriteHandshake(&buf, "Pixel 7", meta))

	require.NoError(t, ReadDummyByte(&buf))
	name, err := ReadDeviceMeta(&buf)
	require.NoError(t, err)
	assert.Equal(t, "Pixel 7", name)

	got, err := ReadCodecMeta(&buf)
	require.NoError(t, err)
	assert.Equal(t, meta, got)
	assert.Zero(t, buf.Len())
}

func TestReadDummyByteOnClosedSocket(t *testing.T) {
	assert.ErrorIs(t, ReadDummyByte(bytes.NewReader(nil)), io.EOF)
}

func TestDemuxerPacketTypes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePacket(&buf, Packet{Type: PacketConfig, Data: []byte{0, 0, 0, 1, 0x67}}))
	require.NoError(t, WritePacket(&buf, Packet{Type: PacketData, PTS: 16666, Keyframe: true, Data: []byte{0, 0, 0, 1, 0x65}}))
	require.NoError(t, WritePacket(&buf, Packet{Type: PacketData, PTS: 33333, Data: []byte{0, 0, 0, 1, 0x41}}))

	d := NewDemuxer(io.NopCloser(&buf))

	p, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, PacketConfig, p.Type)
	assert.Zero(t, p.PTS)

	p, err = d.Next()
	require.NoError(t, err)
	assert.Equal(t, PacketData, p.Type)
	assert.True(t, p.Keyframe)
	assert.Equal(t, int64(16666), p.PTS)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x65}, p.Data)

	p, err = d.Next()
	require.NoError(t, err)
	assert.False(t, p.Keyframe)
	assert.Equal(t, int64(33333), p.PTS)

	_, err = d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDemuxerTruncatedPayload(t *testing.T) {
	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[8:], 10)
	stream := append(header[:], 1, 2, 3)

	_, err := NewDemuxer(io.NopCloser(bytes.NewReader(stream))).Next()
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestDemuxerRejectsOversizedPacket(t *testing.T) {
	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[8:], maxPacketSize+1)

	_, err := NewDemuxer(io.NopCloser(bytes.NewReader(header[:]))).Next()
	assert.ErrorIs(t, err, ErrPacketTooLarge)
}

func TestServerArgs(t *testing.T) {
	opts := DefaultOptions()
	opts.SCID = 0xDEADBEEF
	opts.CodecOptions = "profile=1,level=4096"

	args := opts.ServerArgs(DefaultRemotePath)
	assert.Equal(t, []string{
		"CLASSPATH=" + DefaultRemotePath,
		"app_process",
		"/",
		ServerClass,
		DefaultVersion,
		"scid=5eadbeef",
	}, args[:6])
	assert.Contains(t, args, "tunnel_forward=true")
	assert.Contains(t, args, "control=false")
	assert.Contains(t, args, "video_codec=h264")
	assert.Contains(t, args, "max_size=720")
	assert.Contains(t, args, "video_codec_options=profile=1,level=4096")
	assert.Equal(t, "scrcpy_5eadbeef", opts.SocketName())
}

func TestServerArgsOmitsUnsetTuning(t *testing.T) {
	args := Options{SCID: 1}.ServerArgs("/tmp/s.jar")
	assert.Equal(t, DefaultVersion, args[4])
	for _, a := range args {
		assert.NotContains(t, a, "max_size=")
		assert.NotContains(t, a, "video_codec_options=")
	}
}
