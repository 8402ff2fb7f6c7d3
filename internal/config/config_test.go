package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "test-missing")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 10, cfg.RateLimit.Limit)
	assert.Equal(t, 5*time.Second, cfg.RateLimit.Interval)
	require.Len(t, cfg.WebRTC.ICEServers, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.WebRTC.ICEServers[0].URLs)
	assert.False(t, cfg.WebRTC.HasPortRange())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_ENV", "test-missing")
	t.Setenv("CLASSROOM_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
}

func TestLoadParticipantFlags(t *testing.T) {
	t.Setenv("CONFIG_ENV", "test-missing")
	fs := pflag.NewFlagSet("participant", pflag.ContinueOnError)
	ParticipantFlags(fs)
	require.NoError(t, fs.Parse([]string{"--room", "math-101", "-n", "Ada", "--role", "host"}))

	cfg, err := LoadParticipant(fs)
	require.NoError(t, err)
	assert.Equal(t, "math-101", cfg.Room)
	assert.Equal(t, "Ada", cfg.Name)
	assert.Equal(t, "host", cfg.Role)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 15*time.Second, cfg.NegotiationTimeout)
	assert.Equal(t, uint32(48000), cfg.Media.SampleRate)
}

func TestLoadParticipantRequiresRoom(t *testing.T) {
	t.Setenv("CONFIG_ENV", "test-missing")
	fs := pflag.NewFlagSet("participant", pflag.ContinueOnError)
	ParticipantFlags(fs)
	require.NoError(t, fs.Parse(nil))

	_, err := LoadParticipant(fs)
	assert.ErrorIs(t, err, ErrNoRoom)
}
