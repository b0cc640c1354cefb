package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/a-essam23/go-signal/pkg/logging"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "GOSIGNAL"

// flagKeys maps command-line flag names to the config keys they override.
var flagKeys = map[string]string{
	"port":       "server.port",
	"host":       "server.host",
	"cert":       "server.certFile",
	"key":        "server.keyFile",
	"static-dir": "server.staticDir",
	"log-level":  "log.level",
	"log-format": "log.format",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.certFile", "")
	v.SetDefault("server.keyFile", "")
	v.SetDefault("server.staticDir", "./dist")
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.shutdownTimeout", 10*time.Second)
	v.SetDefault("server.connectionLimit.maxPerIP", 0)
	v.SetDefault("server.connectionLimit.mode", LimitModeReject)

	v.SetDefault("transport.heartbeatInterval", 30*time.Second)
	v.SetDefault("transport.pongTimeout", 10*time.Second)
	v.SetDefault("transport.writeTimeout", 10*time.Second)
	v.SetDefault("transport.sendQueueSize", 256)
	v.SetDefault("transport.readLimit", 64*1024)
	v.SetDefault("transport.messagesPerSecond", 0)
	v.SetDefault("transport.messageBurst", 20)

	v.SetDefault("rooms.maxIdAttempts", 16)

	v.SetDefault("ice.servers", []map[string]any{{"urls": DefaultICEServers}})
	v.SetDefault("ice.serversJSON", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logging.FormatText)
}

// Load reads configuration from defaults, an optional file, the environment
// and command-line flags, in increasing order of priority. The plain PORT
// variable beats all of them. flags may be nil.
func Load(logger *slog.Logger, fileName string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// 1. Set default values
	setDefaults(v)

	// 2. Set config file details
	if filepath.Ext(fileName) != "" {
		v.SetConfigFile(fileName)
	} else {
		if fileName == "" {
			fileName = "config"
		}
		v.SetConfigName(fileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".") // look for config in the working directory
	}

	// 3. Set up environment variable handling
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Bind flags that were registered on the command
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag --%s: %w", name, err)
				}
			}
		}
	}

	// 5. Read the configuration file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// Config file was found but another error was produced
			return nil, fmt.Errorf("read config: %w", err)
		}
		logger.Warn("Config file not found. ignoring error and relying on defaults/env vars")
	} else {
		logger.Info("Loaded config file", slog.String("file", v.ConfigFileUsed()))
	}

	if raw := os.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("PORT %q is not a number: %w", raw, err)
		}
		v.Set("server.port", port)
	}

	// 6. Unmarshal the configuration into our struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port %d is out of range", c.Server.Port)
	}
	if (c.Server.CertFile == "") != (c.Server.KeyFile == "") {
		add("server.certFile and server.keyFile must be set together")
	}
	if c.Server.ConnectionLimit.MaxPerIP < 0 {
		add("server.connectionLimit.maxPerIP must not be negative")
	}
	switch c.Server.ConnectionLimit.Mode {
	case LimitModeReject, LimitModeCycle:
	default:
		add("server.connectionLimit.mode %q must be %q or %q", c.Server.ConnectionLimit.Mode, LimitModeReject, LimitModeCycle)
	}

	t := c.Transport
	if t.HeartbeatInterval < 0 {
		add("transport.heartbeatInterval must not be negative")
	}
	if t.PongTimeout <= 0 {
		add("transport.pongTimeout must be positive")
	}
	if t.WriteTimeout <= 0 {
		add("transport.writeTimeout must be positive")
	}
	if t.SendQueueSize <= 0 {
		add("transport.sendQueueSize must be positive")
	}
	if t.ReadLimit <= 0 {
		add("transport.readLimit must be positive")
	}
	if t.MessagesPerSecond < 0 {
		add("transport.messagesPerSecond must not be negative")
	}
	if t.MessagesPerSecond > 0 && t.MessageBurst <= 0 {
		add("transport.messageBurst must be positive when messagesPerSecond is set")
	}

	if c.Rooms.MaxIDAttempts <= 0 {
		add("rooms.maxIdAttempts must be positive")
	}
	if _, err := c.ICE.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case logging.FormatText, logging.FormatJSON:
	default:
		add("log.format %q must be %q or %q", c.Log.Format, logging.FormatText, logging.FormatJSON)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
