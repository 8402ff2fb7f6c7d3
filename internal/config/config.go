package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	Metrics    bool          `mapstructure:"metrics"`

	WebRTC    WebRTC    `mapstructure:"webrtc"`
	RateLimit RateLimit `mapstructure:"rate_limit"`
}

type WebRTC struct {
	ICEServers []ICEServer `mapstructure:"ice_servers"`
	// LogLevel is the zerolog level used for pion's internal logs.
	LogLevel string `mapstructure:"log_level"`
	PortMin  uint16 `mapstructure:"port_min"`
	PortMax  uint16 `mapstructure:"port_max"`
	NAT1To1  string `mapstructure:"nat_1to1"`
}

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

// RateLimit bounds how many control events one user may emit per interval.
type RateLimit struct {
	Limit    int           `mapstructure:"limit"`
	Interval time.Duration `mapstructure:"interval"`
}

func (w WebRTC) HasPortRange() bool { return w.PortMin > 0 && w.PortMax >= w.PortMin }

func newViper(prefix string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func readFile(v *viper.Viper, kind string) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/%s.%s.yaml", kind, env)
	v.SetConfigFile(fileName)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}
}

func setWebRTCDefaults(v *viper.Viper) {
	v.SetDefault("webrtc.ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
	v.SetDefault("webrtc.log_level", "warn")
}

func Load() (*Config, error) {
	v := newViper("CLASSROOM")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("metrics", true)
	v.SetDefault("rate_limit.limit", 10)
	v.SetDefault("rate_limit.interval", "5s")
	setWebRTCDefaults(v)

	readFile(v, "config")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("server config")
	return &cfg, nil
}
