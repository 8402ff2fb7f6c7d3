// Package media acquires local capture streams and records remote ones.
package media

import (
	"context"
	"errors"
)

// Devices is the capture boundary: camera and microphone through
// GetUserMedia, screen through GetDisplayMedia. GetDisplayMedia returns
// ErrShareCancelled when the user dismisses the source picker.
type Devices interface {
	GetUserMedia(ctx context.Context, c Constraints) (*LocalStream, error)
	GetDisplayMedia(ctx context.Context) (*LocalStream, error)
}

// Acquire opens a local stream and normalizes every failure into a
// *MediaAccessError.
func Acquire(ctx context.Context, d Devices, c Constraints) (*LocalStream, error) {
	if err := c.validate(); err != nil {
		return nil, accessError("", err)
	}
	s, err := d.GetUserMedia(ctx, c)
	if err != nil {
		return nil, accessError("user-media", err)
	}
	return s, nil
}

// AcquireDisplay opens a screen capture. A cancelled picker is not an
// error: it returns a nil stream and a nil error.
func AcquireDisplay(ctx context.Context, d Devices) (*LocalStream, error) {
	s, err := d.GetDisplayMedia(ctx)
	if errors.Is(err, ErrShareCancelled) {
		return nil, nil
	}
	if err != nil {
		return nil, accessError("display", err)
	}
	return s, nil
}
