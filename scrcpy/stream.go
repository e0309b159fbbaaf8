package scrcpy

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	deviceNameLength = 64
	codecMetaLength  = 12
	frameHeaderSize  = 12

	flagConfig   = uint64(1) << 63
	flagKeyframe = uint64(1) << 62
	ptsMask      = flagKeyframe - 1

	// Upper bound on a single packet; anything larger is a framing error.
	maxPacketSize = 64 << 20
)

// CodecID is the 4-byte big-endian codec tag sent in the codec meta.
type CodecID uint32

const (
	CodecH264 CodecID = 0x68323634 // "h264"
	CodecH265 CodecID = 0x68323635 // "h265"
	CodecAV1  CodecID = 0x00617631 // "\0av1"
)

func (c CodecID) String() string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(c))
	return string(bytes.Trim(b[:], "\x00 "))
}

// CodecMeta is sent once, before the first packet.
type CodecMeta struct {
	Codec  CodecID
	Width  uint32
	Height uint32
}

// PacketType discriminates video packets.
type PacketType string

const (
	PacketData   PacketType = "data"
	PacketConfig PacketType = "config"
)

// Packet is one framed unit from the video socket.
type Packet struct {
	Type     PacketType
	PTS      int64
	Keyframe bool
	Data     []byte
}

// ReadDummyByte consumes the byte sent on the first forwarded socket. An
// error here means the server was not listening yet.
func ReadDummyByte(r io.Reader) error {
	var b [1]byte
	_, err := io.ReadFull(r, b[:])
	return err
}

// ReadDeviceMeta reads the fixed-size, NUL-padded device name.
func ReadDeviceMeta(r io.Reader) (string, error) {
	buf := make([]byte, deviceNameLength)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read device meta: %w", err)
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf), nil
}

// ReadCodecMeta reads codec id, width and height.
func ReadCodecMeta(r io.Reader) (CodecMeta, error) {
	var buf [codecMetaLength]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return CodecMeta{}, fmt.Errorf("read codec meta: %w", err)
	}
	return CodecMeta{
		Codec:  CodecID(binary.BigEndian.Uint32(buf[0:4])),
		Width:  binary.BigEndian.Uint32(buf[4:8]),
		Height: binary.BigEndian.Uint32(buf[8:12]),
	}, nil
}

// Demuxer splits the video socket into packets.
type Demuxer struct {
	r      *bufio.Reader
	closer io.Closer
}

// NewDemuxer reads packets from rc, which must be positioned after the
// codec meta. Close closes rc.
func NewDemuxer(rc io.ReadCloser) *Demuxer {
	return &Demuxer{r: bufio.NewReaderSize(rc, 1<<16), closer: rc}
}

// ErrPacketTooLarge reports a frame header with an implausible size.
var ErrPacketTooLarge = errors.New("scrcpy: packet too large")

// Next returns the next packet. io.EOF means the server closed the stream
// cleanly between packets.
func (d *Demuxer) Next() (*Packet, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		return nil, err
	}

	ptsFlags := binary.BigEndian.Uint64(header[0:8])
	size := binary.BigEndian.Uint32(header[8:12])
	if size > maxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(d.r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	p := &Packet{Data: data}
	if ptsFlags&flagConfig != 0 {
		p.Type = PacketConfig
	} else {
		p.Type = PacketData
		p.PTS = int64(ptsFlags & ptsMask)
		p.Keyframe = ptsFlags&flagKeyframe != 0
	}
	return p, nil
}

func (d *Demuxer) Close() error {
	return d.closer.Close()
}

// WritePacket frames p the way the server does. Used by tests and tools
// that replay captured streams.
func WritePacket(w io.Writer, p Packet) error {
	var header [frameHeaderSize]byte
	ptsFlags := uint64(p.PTS) & ptsMask
	if p.Type == PacketConfig {
		ptsFlags = flagConfig
	} else if p.Keyframe {
		ptsFlags |= flagKeyframe
	}
	binary.BigEndian.PutUint64(header[0:8], ptsFlags)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(p.Data)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(p.Data)
	return err
}

// WriteHandshake writes the dummy byte, device meta and codec meta.
func WriteHandshake(w io.Writer, deviceName string, meta CodecMeta) error {
	buf := make([]byte, 1+deviceNameLength+codecMetaLength)
	copy(buf[1:1+deviceNameLength], deviceName)
	off := 1 + deviceNameLength
	binary.BigEndian.PutUint32(buf[off:], uint32(meta.Codec))
	binary.BigEndian.PutUint32(buf[off+4:], meta.Width)
	binary.BigEndian.PutUint32(buf[off+8:], meta.Height)
	_, err := w.Write(buf)
	return err
}
