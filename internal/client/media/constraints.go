package media

import (
	"fmt"

	"github.com/dkeye/Classroom/internal/config"
)

// Constraints describe the requested capture. Zero SampleRate or
// ChannelCount accept whatever the device provides.
type Constraints struct {
	Audio            bool
	Video            bool
	SampleRate       uint32
	ChannelCount     uint16
	EchoCancellation bool
	NoiseSuppression bool
}

func ConstraintsFromConfig(c config.Media) Constraints {
	return Constraints{
		Audio:            c.AudioFile != "",
		Video:            c.VideoFile != "",
		SampleRate:       c.SampleRate,
		ChannelCount:     c.ChannelCount,
		EchoCancellation: c.EchoCancellation,
		NoiseSuppression: c.NoiseSuppression,
	}
}

func (c Constraints) validate() error {
	if !c.Audio && !c.Video {
		return fmt.Errorf("%w: neither audio nor video requested", ErrOverconstrained)
	}
	if c.ChannelCount > 2 {
		return fmt.Errorf("%w: %d channels", ErrOverconstrained, c.ChannelCount)
	}
	return nil
}
