package config

import (
	"fmt"
	"os"
	"strings"
)

// Default configuration values (production)
const (
	DefaultDomain      = "talk.amigotalk.app"
	DefaultSTUNServers = "stun:stun1.l.google.com:19302,stun:stun2.l.google.com:19302"
	DefaultListenAddr  = ":8090"
)

// Config holds application configuration
type Config struct {
	// Domain is the document-store gateway domain
	Domain string

	// StoreURL is the websocket URL of the store gateway, constructed from domain
	StoreURL string

	// STUNServers are the ICE servers used for NAT traversal. No TURN relay
	// is configured; mesh connectivity is best-effort.
	STUNServers []string

	// DisplayName shown to other call participants
	DisplayName string

	// MicFile is an Ogg/Opus file used as the microphone source. Empty means
	// no local audio (degraded mode).
	MicFile string

	// ScreenFile is an IVF/VP8 file used as the screen-share source.
	ScreenFile string

	// ListenAddr is the bind address for the serve command
	ListenAddr string
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain      string
	STUNServers string
	DisplayName string
	MicFile     string
	ScreenFile  string
	ListenAddr  string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	domain := opts.Domain
	if domain == "" {
		domain = os.Getenv("MESHCALL_DOMAIN")
	}
	if domain == "" {
		domain = DefaultDomain
	}

	stun := opts.STUNServers
	if stun == "" {
		stun = os.Getenv("MESHCALL_STUN_SERVERS")
	}
	if stun == "" {
		stun = DefaultSTUNServers
	}

	name := opts.DisplayName
	if name == "" {
		name = os.Getenv("MESHCALL_DISPLAY_NAME")
	}
	if name == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("no display name and hostname unavailable: %w", err)
		}
		name = host
	}

	listen := opts.ListenAddr
	if listen == "" {
		listen = os.Getenv("MESHCALL_LISTEN_ADDR")
	}
	if listen == "" {
		listen = DefaultListenAddr
	}

	micFile := opts.MicFile
	if micFile == "" {
		micFile = os.Getenv("MESHCALL_MIC_FILE")
	}
	screenFile := opts.ScreenFile
	if screenFile == "" {
		screenFile = os.Getenv("MESHCALL_SCREEN_FILE")
	}

	return &Config{
		Domain:      domain,
		StoreURL:    fmt.Sprintf("wss://%s/store", domain),
		STUNServers: strings.Split(stun, ","),
		DisplayName: name,
		MicFile:     micFile,
		ScreenFile:  screenFile,
		ListenAddr:  listen,
	}, nil
}

// GetCallLink returns the webapp URL for a call ID
func (c *Config) GetCallLink(callID string) string {
	return fmt.Sprintf("https://%s/call/%s", c.Domain, callID)
}
