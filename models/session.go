package models

import "time"

// Flow outcomes recorded in session history
const (
	OutcomeSuccess   = "success"
	OutcomeNoDevices = "no_devices"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

type SessionRecord struct {
	ID        string     `json:"id"`
	Command   string     `json:"command"`
	Serial    string     `json:"serial,omitempty"`
	Outcome   string     `json:"outcome"`
	ErrorKind string     `json:"error_kind,omitempty"`
	Error     string     `json:"error,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}
