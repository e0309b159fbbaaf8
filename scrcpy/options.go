// Package scrcpy holds the pieces of the scrcpy server protocol this tool
// relies on: server argument rendering and the video socket framing.
package scrcpy

import (
	"fmt"
	"strconv"
)

const (
	DefaultVersion    = "3.3.3"
	DefaultRemotePath = "/data/local/tmp/scrcpy-server.jar"
	ServerClass       = "com.genymobile.scrcpy.Server"
)

// Options is the codec/capture bundle passed to the server.
type Options struct {
	// Version must match the pushed server binary.
	Version string `toml:"version"`
	// SCID selects the abstract socket name; only 31 bits are used.
	SCID uint32 `toml:"-"`

	LogLevel     string `toml:"log_level"`
	MaxSize      int    `toml:"max_size"`
	VideoCodec   string `toml:"video_codec"`
	VideoBitRate int    `toml:"video_bit_rate"`
	MaxFPS       int    `toml:"max_fps"`
	// CodecOptions is passed verbatim as video_codec_options,
	// e.g. "profile=1,level=4096". Empty keeps encoder defaults.
	CodecOptions string `toml:"codec_options"`
}

// DefaultOptions matches what the streaming command has always requested.
func DefaultOptions() Options {
	return Options{
		Version:      DefaultVersion,
		LogLevel:     "info",
		MaxSize:      720,
		VideoCodec:   "h264",
		VideoBitRate: 2000000,
		MaxFPS:       30,
	}
}

// SocketName is the abstract socket the server listens on for this SCID.
func (o Options) SocketName() string {
	return fmt.Sprintf("scrcpy_%08x", o.SCID&0x7FFFFFFF)
}

// ServerArgs renders the app_process command line that starts the server
// pushed to remotePath.
func (o Options) ServerArgs(remotePath string) []string {
	version := o.Version
	if version == "" {
		version = DefaultVersion
	}
	args := []string{
		"CLASSPATH=" + remotePath,
		"app_process",
		"/",
		ServerClass,
		version,
		fmt.Sprintf("scid=%08x", o.SCID&0x7FFFFFFF),
		"tunnel_forward=true",
		"video=true",
		"audio=false",
		"control=false",
		"send_dummy_byte=true",
		"send_device_meta=true",
		"send_codec_meta=true",
		"send_frame_meta=true",
		"cleanup=true",
	}
	if o.LogLevel != "" {
		args = append(args, "log_level="+o.LogLevel)
	}
	if o.MaxSize > 0 {
		args = append(args, "max_size="+strconv.Itoa(o.MaxSize))
	}
	if o.VideoCodec != "" {
		args = append(args, "video_codec="+o.VideoCodec)
	}
	if o.VideoBitRate > 0 {
		args = append(args, "video_bit_rate="+strconv.Itoa(o.VideoBitRate))
	}
	if o.MaxFPS > 0 {
		args = append(args, "max_fps="+strconv.Itoa(o.MaxFPS))
	}
	if o.CodecOptions != "" {
		args = append(args, "video_codec_options="+o.CodecOptions)
	}
	return args
}
