package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionComplete is returned when an utterance arrives for a session whose report is already final
	ErrSessionComplete = errors.New("session is already complete")
	// ErrSessionNotFound is returned when no session exists for an id
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionChannel is returned when a session id is reused from another channel
	ErrSessionChannel = errors.New("session belongs to another channel")
	// ErrReportExists is returned by report sinks asked to write the same session twice
	ErrReportExists = errors.New("report already persisted")
)

// CapabilityError means an extraction, verification or question call failed or
// returned something unusable. It is fatal to the current cycle.
type CapabilityError struct {
	Stage string
	Err   error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s capability failed: %v", e.Stage, e.Err)
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// TransportError means the telephony leg or the recognizer stream could not be used.
// It ends the call.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SynthesisError is logged and otherwise treated as silence
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("speech synthesis failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// PersistenceError is surfaced and logged but never rolls back a completed session
type PersistenceError struct {
	SessionID string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist report for session %s: %v", e.SessionID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
