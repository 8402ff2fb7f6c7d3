package media

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNoDevice         = errors.New("no matching device")
	ErrOverconstrained  = errors.New("constraints cannot be satisfied")
	ErrShareCancelled   = errors.New("screen share cancelled")
	ErrStopped          = errors.New("stream stopped")
)

type AccessErrorKind string

const (
	KindPermissionDenied AccessErrorKind = "permission-denied"
	KindNoDevice         AccessErrorKind = "no-device"
	KindOverconstrained  AccessErrorKind = "overconstrained"
)

// MediaAccessError reports why a capture device could not be opened.
// The session stays usable; callers disable the affected control.
type MediaAccessError struct {
	Kind   AccessErrorKind
	Device string
	Err    error
}

func (e *MediaAccessError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("media access %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("media access %s (%s): %v", e.Kind, e.Device, e.Err)
}

func (e *MediaAccessError) Unwrap() error { return e.Err }

func classify(err error) AccessErrorKind {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return KindPermissionDenied
	case errors.Is(err, ErrOverconstrained):
		return KindOverconstrained
	default:
		return KindNoDevice
	}
}

func accessError(device string, err error) error {
	var mae *MediaAccessError
	if errors.As(err, &mae) {
		return err
	}
	return &MediaAccessError{Kind: classify(err), Device: device, Err: err}
}
