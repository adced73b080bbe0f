package telephony

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned once the media stream has ended, and on every
	// call after that.
	ErrClosed = errors.New("telephony: stream closed")

	// ErrInvalidFrame marks a message that cannot be used as audio.
	ErrInvalidFrame = errors.New("telephony: invalid frame")

	// ErrNotStarted is returned when sending before the start event.
	ErrNotStarted = errors.New("telephony: stream not started")

	// ErrUnsupportedFormat is returned by Handshake for non mu-law media.
	ErrUnsupportedFormat = errors.New("telephony: unsupported media format")

	// ErrPacerStopped is returned by Enqueue after the pacer has exited.
	ErrPacerStopped = errors.New("telephony: pacer stopped")
)

// FrameError describes a dropped inbound message.
type FrameError struct {
	Event  string
	Reason string
	Err    error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("telephony: dropped %s message: %s: %v", e.Event, e.Reason, e.Err)
	}
	return fmt.Sprintf("telephony: dropped %s message: %s", e.Event, e.Reason)
}

func (e *FrameError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidFrame, e.Err}
	}
	return []error{ErrInvalidFrame}
}
