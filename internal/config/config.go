package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	// ServerURL is the base URL of the Converse HTTP API.
	ServerURL string
	// SocketURL is the websocket endpoint for the realtime stream. Derived
	// from ServerURL when not set explicitly.
	SocketURL string

	// ConverseHome is the directory where local state (keys, history) lives.
	ConverseHome string
	// SecretKey is the path to the history encryption key file.
	SecretKey string
	// TokenFile is the path to the cached credentials file.
	TokenFile string
	// DeviceFile is the path to the stable device identifier file.
	DeviceFile string

	// Debug enables verbose logging.
	Debug bool
}

// Load loads configuration from environment and defaults
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	converseHome := os.Getenv("CONVERSE_HOME_DIR")
	if converseHome == "" {
		converseHome = filepath.Join(homeDir, ".converse")
	}

	// Ensure converse home exists
	if err := os.MkdirAll(converseHome, 0700); err != nil {
		return nil, fmt.Errorf("failed to create converse home: %w", err)
	}

	serverURL := os.Getenv("CONVERSE_SERVER_URL")
	if serverURL == "" {
		serverURL = "https://api.converse.nuvola.ai" // Default to official server
	}

	socketURL := os.Getenv("CONVERSE_SOCKET_URL")
	if socketURL == "" {
		socketURL, err = deriveSocketURL(serverURL)
		if err != nil {
			return nil, err
		}
	}

	debug := os.Getenv("DEBUG") == "true" || os.Getenv("DEBUG") == "1"
	if !debug {
		debug = os.Getenv("CONVERSE_DEBUG") == "true" || os.Getenv("CONVERSE_DEBUG") == "1"
	}

	return &Config{
		ServerURL:    serverURL,
		SocketURL:    socketURL,
		ConverseHome: converseHome,
		SecretKey:    filepath.Join(converseHome, "secret.key"),
		TokenFile:    filepath.Join(converseHome, "credentials.json"),
		DeviceFile:   filepath.Join(converseHome, "device.id"),
		Debug:        debug,
	}, nil
}

// Save saves configuration to disk (currently just creates directories)
func (c *Config) Save() error {
	return os.MkdirAll(c.ConverseHome, 0700)
}

// deriveSocketURL maps an HTTP API base to its websocket stream endpoint.
func deriveSocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid CONVERSE_SERVER_URL %q: %w", serverURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid CONVERSE_SERVER_URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/v1/stream"
	return u.String(), nil
}
