package compute

import (
	"fmt"
)

// ErrorKind classifies a failed compute call so the API layer can map it to
// the right status code.
type ErrorKind string

const (
	// KindNetwork covers dial failures, resets and unreachable hosts.
	KindNetwork ErrorKind = "network"
	// KindProtocol covers malformed or unexpected compute responses,
	// including version mismatches during the handshake.
	KindProtocol ErrorKind = "protocol"
	// KindConflict covers compute-side 409 responses.
	KindConflict ErrorKind = "conflict"
	// KindTimeout covers deadline exceeded on a compute call.
	KindTimeout ErrorKind = "timeout"
	// KindDriver covers emulator failures the compute reports as 5xx.
	KindDriver ErrorKind = "driver"
)

// Error is a failed call against a compute agent.
type Error struct {
	Kind       ErrorKind
	ComputeID  string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("compute %s: %s", e.ComputeID, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("compute %s: %v", e.ComputeID, e.Err)
	}
	return fmt.Sprintf("compute %s: %s error", e.ComputeID, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Unreachable reports whether the failure means the compute cannot be
// reached at all.
func (e *Error) Unreachable() bool {
	return e.Kind == KindNetwork
}

func newError(kind ErrorKind, computeID string, err error) *Error {
	return &Error{Kind: kind, ComputeID: computeID, Err: err}
}
