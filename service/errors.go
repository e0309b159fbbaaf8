package service

import (
	"errors"
	"fmt"
)

// Kind classifies flow failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindDiscovery
	KindAuthentication
	KindDeployment
	KindLaunchFailure
	KindStream
	KindCapture
)

func (k Kind) String() string {
	switch k {
	case KindDiscovery:
		return "discovery"
	case KindAuthentication:
		return "authentication"
	case KindDeployment:
		return "deployment"
	case KindLaunchFailure:
		return "launch_failure"
	case KindStream:
		return "stream"
	case KindCapture:
		return "capture"
	default:
		return "unknown"
	}
}

var (
	// ErrNoDevices is returned when discovery finds nothing to pick from.
	ErrNoDevices = errors.New("no devices connected")
	// ErrSelectionCancelled is returned when the pick list is dismissed.
	ErrSelectionCancelled = errors.New("selection cancelled")
	// ErrNoServerClient is the cause recorded for a launch that produced no client.
	ErrNoServerClient = errors.New("scrcpy server did not produce a client")
	// ErrUnknownCommand is returned for a command name nothing implements.
	ErrUnknownCommand = errors.New("unknown command")
)

// Error is a flow failure with its kind and the device it concerns.
type Error struct {
	Kind   Kind
	Op     string
	Serial string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Serial != "" {
		msg += fmt.Sprintf(" [%s]", e.Serial)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op, serial string, err error) *Error {
	return &Error{Kind: kind, Op: op, Serial: serial, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// UserMessage is the short, cause-free text shown for a failure kind.
func UserMessage(kind Kind) string {
	switch kind {
	case KindDiscovery:
		return "Failed to retrieve devices."
	case KindAuthentication:
		return "Failed to connect ADB device."
	case KindDeployment:
		return "Failed to push scrcpy server."
	case KindLaunchFailure:
		return "Failed to start scrcpy server."
	case KindStream:
		return "Video stream ended unexpectedly."
	case KindCapture:
		return "Failed to take screenshot."
	default:
		return "Unexpected error."
	}
}
