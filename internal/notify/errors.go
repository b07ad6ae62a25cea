package notify

import "errors"

var (
	// ErrInvalidRequest: no target, more than one target, or no payload.
	ErrInvalidRequest = errors.New("invalid notification request")
	// ErrNotFound: the target resolved to no active contacts.
	ErrNotFound = errors.New("target not found")
	// ErrChannelSend wraps provider failures for a single unit.
	ErrChannelSend = errors.New("channel send failed")
	// ErrRegulationState marks an internal invariant violation in the regulation engines.
	ErrRegulationState = errors.New("regulation state corruption")
	// ErrDeliveryFailed is returned by Notify when units failed and none were delivered.
	ErrDeliveryFailed = errors.New("no channel delivered")
)
