package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// Participant configures the headless classroom participant.
type Participant struct {
	Server      string `mapstructure:"server"`
	Room        string `mapstructure:"room"`
	Name        string `mapstructure:"name"`
	Role        string `mapstructure:"role"`
	RecordDir   string `mapstructure:"record_dir"`
	LogLevel    string `mapstructure:"log_level"`
	HandRaiseOn bool   `mapstructure:"raise_hand"`

	Media  Media  `mapstructure:"media"`
	Retry  Retry  `mapstructure:"retry"`
	WebRTC WebRTC `mapstructure:"webrtc"`

	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
}

// Media names the files that stand in for capture devices.
type Media struct {
	AudioFile        string `mapstructure:"audio_file"`
	VideoFile        string `mapstructure:"video_file"`
	ScreenFile       string `mapstructure:"screen_file"`
	SampleRate       uint32 `mapstructure:"sample_rate"`
	ChannelCount     uint16 `mapstructure:"channel_count"`
	EchoCancellation bool   `mapstructure:"echo_cancellation"`
	NoiseSuppression bool   `mapstructure:"noise_suppression"`
}

// Retry is a bounded exponential backoff policy.
type Retry struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

var ErrNoRoom = errors.New("room is required")

// ParticipantFlags declares the command line flags; names match the config keys.
func ParticipantFlags(fs *pflag.FlagSet) {
	fs.String("server", "ws://localhost:8080/api/ws/signal", "signaling websocket URL")
	fs.StringP("room", "r", "", "classroom ID to join")
	fs.StringP("name", "n", "guest", "display name")
	fs.String("role", "guest", "host or guest")
	fs.String("record_dir", "", "directory for remote stream recordings")
	fs.String("log_level", "info", "log level")
	fs.Bool("raise_hand", false, "raise hand after connecting")
	fs.String("media.audio_file", "", "Ogg/Opus file used as microphone")
	fs.String("media.video_file", "", "IVF/VP8 file used as camera")
	fs.String("media.screen_file", "", "IVF/VP8 file used as screen share source")
	fs.Duration("negotiation_timeout", 0, "negotiation timeout")
}

func LoadParticipant(fs *pflag.FlagSet) (*Participant, error) {
	v := newViper("CLASSROOM_PARTICIPANT")

	v.SetDefault("role", "guest")
	v.SetDefault("name", "guest")
	v.SetDefault("log_level", "info")
	v.SetDefault("media.sample_rate", 48000)
	v.SetDefault("media.channel_count", 2)
	v.SetDefault("media.echo_cancellation", true)
	v.SetDefault("media.noise_suppression", true)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "500ms")
	v.SetDefault("retry.max_delay", "5s")
	v.SetDefault("negotiation_timeout", "15s")
	setWebRTCDefaults(v)

	readFile(v, "participant")

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Participant
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.NegotiationTimeout <= 0 {
		cfg.NegotiationTimeout = 15 * time.Second
	}
	if cfg.Room == "" {
		return nil, ErrNoRoom
	}
	return &cfg, nil
}
