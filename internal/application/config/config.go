package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	Debug  bool   `env:"DEBUG" envDefault:"false"`
	Domain string `env:"DOMAIN" envDefault:"http://localhost:3000"`

	// JWTSecret verifies marketplace session tokens. Optional: without it
	// every participant is treated as a guest.
	JWTSecret string `env:"JWT_SECRET"`

	Relay  RelayConfig
	Client ClientConfig

	ICE ICEConfig
}

// RelayConfig configures the reference signaling relay.
type RelayConfig struct {
	Port       string `env:"PORT" envDefault:"3001"`
	MetricPort string `env:"METRIC_PORT" envDefault:"9090"`
}

// ClientConfig configures the room client core.
type ClientConfig struct {
	RelayURL   string `env:"RELAY_URL" envDefault:"ws://localhost:3001/api/v1/ws"`
	APIBaseURL string `env:"API_BASE_URL" envDefault:"http://localhost:3001/api/v1"`

	// SessionToken is the marketplace-issued JWT. Empty means guest.
	SessionToken string `env:"SESSION_TOKEN"`

	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`

	// AdmissionTimeout bounds how long a guest waits for the host's decision.
	AdmissionTimeout time.Duration `env:"ADMISSION_TIMEOUT" envDefault:"60s"`

	ReconnectAttempts uint          `env:"RECONNECT_ATTEMPTS" envDefault:"5"`
	ReconnectBackoff  time.Duration `env:"RECONNECT_BACKOFF" envDefault:"500ms"`
}

type ICEConfig struct {
	STUNServers []string `env:"STUN_SERVERS" envDefault:"stun:stun.l.google.com:19302"`

	TurnHost     string `env:"TURN_HOST"`
	TurnUsername string `env:"TURN_USERNAME"`
	TurnPassword string `env:"TURN_PASSWORD"`
}

// Servers assembles the ICE server list handed to the peer connection.
func (i *ICEConfig) Servers() []webrtc.ICEServer {
	servers := []webrtc.ICEServer{
		{URLs: i.STUNServers},
	}

	if i.TurnHost != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{fmt.Sprintf("turn:%s?transport=udp", i.TurnHost)},
			Username:   i.TurnUsername,
			Credential: i.TurnPassword,
		})
	}

	return servers
}

func New() (*Config, error) {
	c, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	return &c, nil
}
