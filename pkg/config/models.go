package config

import (
	"net"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Transport TransportConfig `mapstructure:"transport"`
	Rooms     RoomsConfig     `mapstructure:"rooms"`
	ICE       ICEConfig       `mapstructure:"ice"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string
	Port            int
	CertFile        string                `mapstructure:"certFile"`
	KeyFile         string                `mapstructure:"keyFile"`
	StaticDir       string                `mapstructure:"staticDir"`
	AllowedOrigins  []string              `mapstructure:"allowedOrigins"`
	ShutdownTimeout time.Duration         `mapstructure:"shutdownTimeout"`
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

// Address is the host:port the HTTP server listens on.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// TLSConfigured reports whether both a certificate and a key were given.
func (s ServerConfig) TLSConfigured() bool {
	return s.CertFile != "" && s.KeyFile != ""
}

type ConnectionLimitConfig struct {
	MaxPerIP int    `mapstructure:"maxPerIP"` // 0 disables the limit
	Mode     string `mapstructure:"mode"`     // "reject" or "cycle"
}

const (
	LimitModeReject = "reject"
	LimitModeCycle  = "cycle"
)

type TransportConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval"`
	PongTimeout       time.Duration `mapstructure:"pongTimeout"`
	WriteTimeout      time.Duration `mapstructure:"writeTimeout"`
	SendQueueSize     int           `mapstructure:"sendQueueSize"`
	ReadLimit         int64         `mapstructure:"readLimit"`
	// MessagesPerSecond throttles each peer's inbound messages. 0 means unlimited.
	MessagesPerSecond float64 `mapstructure:"messagesPerSecond"`
	MessageBurst      int     `mapstructure:"messageBurst"`
}

type RoomsConfig struct {
	MaxIDAttempts int `mapstructure:"maxIdAttempts"`
}

type ICEConfig struct {
	Servers []ICEServerConfig `mapstructure:"servers"`
	// ServersJSON, when set, replaces Servers. It holds a JSON array in the
	// RTCIceServer shape.
	ServersJSON string `mapstructure:"serversJSON"`
}

type ICEServerConfig struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
