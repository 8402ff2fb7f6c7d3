package rtc

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Classroom/internal/config"
)

// API builds peer connections sharing one media engine, interceptor
// registry and setting engine.
type API struct {
	api  *webrtc.API
	conf webrtc.Configuration
}

func Configuration(cfg config.WebRTC) webrtc.Configuration {
	c := webrtc.Configuration{ICEServers: []webrtc.ICEServer{}}
	for _, s := range cfg.ICEServers {
		c.ICEServers = append(c.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return c
}

func NewAPI(cfg config.WebRTC) (*API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, err
	}

	s := webrtc.SettingEngine{LoggerFactory: NewPionLogger(cfg.LogLevel)}
	if cfg.HasPortRange() {
		if err := s.SetEphemeralUDPPortRange(cfg.PortMin, cfg.PortMax); err != nil {
			return nil, err
		}
		log.Info().Str("module", "webrtc").Uint16("min", cfg.PortMin).Uint16("max", cfg.PortMax).Msg("ephemeral UDP port range")
	}
	if cfg.NAT1To1 != "" {
		s.SetNAT1To1IPs([]string{cfg.NAT1To1}, webrtc.ICECandidateTypeHost)
		log.Info().Str("module", "webrtc").Str("ip", cfg.NAT1To1).Msg("NAT 1:1 mapping active")
	}

	return &API{
		api:  webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(s)),
		conf: Configuration(cfg),
	}, nil
}

func (a *API) NewPeerConnection() (*webrtc.PeerConnection, error) {
	return a.api.NewPeerConnection(a.conf)
}
