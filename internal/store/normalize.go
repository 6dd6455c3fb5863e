package store

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeServer cleans up a user-entered server config. The host field is
// frequently pasted as a full URL ("http://10.0.0.5:8080") or a host:port
// pair; the protocol and port are extracted into their own fields so the
// rest of the system can build URLs uniformly. Returns nil for a nil input.
func NormalizeServer(server *ServerConfig) *ServerConfig {
	if server == nil {
		return nil
	}

	protocol := strings.ToLower(server.Protocol)
	if protocol == "" {
		protocol = "http"
	}
	host := server.Host
	port := server.Port

	switch {
	case strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://"):
		if u, err := url.Parse(host); err == nil {
			if scheme := u.Scheme; scheme != "" {
				protocol = scheme
			}
			if u.Hostname() != "" {
				host = u.Hostname()
			}
			if port == "" && u.Port() != "" {
				port = u.Port()
			}
		}
	case strings.Contains(host, "/") && !strings.Contains(host, "://"):
		if u, err := url.Parse(protocol + "://" + host); err == nil {
			if u.Hostname() != "" {
				host = u.Hostname()
			}
			if port == "" && u.Port() != "" {
				port = u.Port()
			}
		}
	}

	if port == "" && strings.Count(host, ":") == 1 {
		hostname, maybePort, ok := strings.Cut(host, ":")
		if ok && hostname != "" && maybePort != "" {
			host = hostname
			port = maybePort
		}
	}

	return &ServerConfig{Protocol: protocol, Host: host, Port: port}
}

// IsComplete reports whether the config carries enough to reach a backend.
func (s *ServerConfig) IsComplete() bool {
	return s != nil && strings.TrimSpace(s.Host) != "" && s.Port != ""
}

// BaseURL returns the HTTP base URL for the configured backend.
func (s *ServerConfig) BaseURL() string {
	protocol := strings.ToLower(s.Protocol)
	if protocol == "" {
		protocol = "http"
	}
	if s.Port == "" {
		return fmt.Sprintf("%s://%s", protocol, s.Host)
	}
	return fmt.Sprintf("%s://%s:%s", protocol, s.Host, s.Port)
}

// WSURL returns the WebSocket endpoint for the configured backend.
// An https backend is reached over wss.
func (s *ServerConfig) WSURL() string {
	scheme := "ws"
	if strings.ToLower(s.Protocol) == "https" {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%s/ws", scheme, s.Host, s.Port)
}
