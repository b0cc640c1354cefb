package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// DefaultICEServers are public STUN servers handed to clients when nothing
// else is configured.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

// Resolve returns the validated ICE server list served at /config.
func (c ICEConfig) Resolve() ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(c.ServersJSON); raw != "" {
		servers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("ice.serversJSON: %w", err)
		}
		return servers, nil
	}

	out := make([]webrtc.ICEServer, 0, len(c.Servers))
	for i, s := range c.Servers {
		server := toICEServer(s.URLs, s.Username, s.Credential)
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("ice.servers[%d]: %w", i, err)
		}
		out = append(out, server)
	}
	return out, nil
}

type iceServerJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username,omitempty"`
	Credential string              `json:"credential,omitempty"`
}

// accepts both "urls": "stun:..." and "urls": ["stun:...", ...]
type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseICEServersJSON parses and validates a JSON array of ICE servers.
func ParseICEServersJSON(raw string) ([]webrtc.ICEServer, error) {
	var servers []iceServerJSON
	if err := json.Unmarshal([]byte(raw), &servers); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(servers))
	for i, s := range servers {
		server := toICEServer(s.URLs, s.Username, s.Credential)
		if err := validateICEServer(server); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, server)
	}
	return out, nil
}

func toICEServer(urls []string, username, credential string) webrtc.ICEServer {
	trimmed := make([]string, 0, len(urls))
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			trimmed = append(trimmed, u)
		}
	}
	server := webrtc.ICEServer{
		URLs:     trimmed,
		Username: strings.TrimSpace(username),
	}
	if strings.TrimSpace(credential) != "" {
		server.Credential = credential
	}
	return server
}

func validateICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}

	requiresTurnCreds := false
	for _, url := range server.URLs {
		if !isAllowedICEScheme(url) {
			return fmt.Errorf("unsupported url scheme: %q", url)
		}
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			requiresTurnCreds = true
		}
	}

	if requiresTurnCreds {
		if server.Username == "" {
			return errors.New("turn urls require username")
		}
		if cred, ok := server.Credential.(string); !ok || cred == "" {
			return errors.New("turn urls require credential")
		}
	}
	return nil
}

func isAllowedICEScheme(url string) bool {
	for _, scheme := range []string{"stun:", "stuns:", "turn:", "turns:"} {
		if strings.HasPrefix(url, scheme) {
			return true
		}
	}
	return false
}
