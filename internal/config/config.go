package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

// Default configuration values (production)
const (
	DefaultDomain   = "warpcall.qzz.io"
	DefaultSTUN     = "stun:stun.l.google.com:19302"
	DefaultTURN     = "turn:warpcall.qzz.io"
	DefaultTURNUser = "warpcall"
	DefaultTURNPass = "warpcall-secret"

	DefaultHeartbeatInterval  = 30 * time.Second
	DefaultReconnectBaseDelay = time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultReconnectAttempts  = 5
	DefaultRingTimeout        = 30 * time.Second

	DefaultRelayListenAddr = ":8080"
	DefaultHistoryFile     = "history.db"
)

// Config holds application configuration
type Config struct {
	// Domain is the relay server domain
	Domain string

	// SignalURL is constructed from domain unless SIGNAL_URL is set
	SignalURL string

	ParticipantID string
	Token         string

	// ICE servers for WebRTC
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string

	// ICEServers, when non-empty, replaces the STUN/TURN fields entirely.
	ICEServers []webrtc.ICEServer
	ForceRelay bool

	HeartbeatInterval  time.Duration
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	ReconnectAttempts  int
	RingTimeout        time.Duration

	HistoryPath string

	RelayListenAddr string
	RelayJWTSecret  string
}

// Options for loading config with CLI flag overrides
type Options struct {
	Domain        string
	SignalURL     string
	ParticipantID string
	Token         string
	STUNServer    string
	TURNServer    string
	TURNUser      string
	TURNPass      string
	ForceRelay    bool
	RingTimeout   time.Duration
	HistoryPath   string
	ListenAddr    string
	JWTSecret     string
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	cfg := &Config{
		Domain:          pick(opts.Domain, "DOMAIN", DefaultDomain),
		ParticipantID:   pick(opts.ParticipantID, "PARTICIPANT_ID", ""),
		Token:           pick(opts.Token, "SIGNAL_TOKEN", ""),
		STUNServer:      pick(opts.STUNServer, "STUN_SERVER", DefaultSTUN),
		TURNServer:      pick(opts.TURNServer, "TURN_SERVER", DefaultTURN),
		TURNUser:        pick(opts.TURNUser, "TURN_USERNAME", DefaultTURNUser),
		TURNPass:        pick(opts.TURNPass, "TURN_PASSWORD", DefaultTURNPass),
		HistoryPath:     pick(opts.HistoryPath, "HISTORY_PATH", ""),
		RelayListenAddr: pick(opts.ListenAddr, "RELAY_LISTEN_ADDR", DefaultRelayListenAddr),
		RelayJWTSecret:  pick(opts.JWTSecret, "RELAY_JWT_SECRET", ""),
	}

	cfg.SignalURL = pick(opts.SignalURL, "SIGNAL_URL", fmt.Sprintf("wss://%s/ws", cfg.Domain))
	if cfg.ParticipantID == "" {
		cfg.ParticipantID = GenerateParticipantID()
	}
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = defaultHistoryPath()
	}

	var err error
	if cfg.ForceRelay, err = envBool("FORCE_RELAY", opts.ForceRelay); err != nil {
		return nil, err
	}
	if cfg.HeartbeatInterval, err = envDuration("HEARTBEAT_INTERVAL", 0, DefaultHeartbeatInterval); err != nil {
		return nil, err
	}
	if cfg.ReconnectBaseDelay, err = envDuration("RECONNECT_BASE_DELAY", 0, DefaultReconnectBaseDelay); err != nil {
		return nil, err
	}
	if cfg.ReconnectMaxDelay, err = envDuration("RECONNECT_MAX_DELAY", 0, DefaultReconnectMaxDelay); err != nil {
		return nil, err
	}
	if cfg.RingTimeout, err = envDuration("RING_TIMEOUT", opts.RingTimeout, DefaultRingTimeout); err != nil {
		return nil, err
	}
	cfg.ReconnectAttempts = DefaultReconnectAttempts
	if raw := strings.TrimSpace(os.Getenv("RECONNECT_MAX_ATTEMPTS")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("RECONNECT_MAX_ATTEMPTS: %w", err)
		}
		cfg.ReconnectAttempts = n
	}

	if raw := strings.TrimSpace(os.Getenv("ICE_SERVERS_JSON")); raw != "" {
		servers, err := ParseICEServersJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("ICE_SERVERS_JSON: %w", err)
		}
		cfg.ICEServers = servers
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the signaling client and call machine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.ParticipantID == "" {
		errs = append(errs, errors.New("participant id must not be empty"))
	}
	if u, err := url.Parse(c.SignalURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, fmt.Errorf("signal url %q must be a ws:// or wss:// url", c.SignalURL))
	}
	for name, d := range map[string]time.Duration{
		"heartbeat interval":   c.HeartbeatInterval,
		"reconnect base delay": c.ReconnectBaseDelay,
		"reconnect max delay":  c.ReconnectMaxDelay,
		"ring timeout":         c.RingTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		errs = append(errs, errors.New("reconnect max delay must not be below the base delay"))
	}
	if c.ReconnectAttempts <= 0 {
		errs = append(errs, fmt.Errorf("reconnect attempts must be positive, got %d", c.ReconnectAttempts))
	}
	return errors.Join(errs...)
}

// GetSTUNServers returns STUN server URLs as strings
func (c *Config) GetSTUNServers() []string {
	if c.STUNServer == "" {
		return nil
	}
	return []string{c.STUNServer}
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", strings.TrimPrefix(c.TURNServer, "turn:")),
	}
}

// GetTURNCredentials returns TURN username and password
func (c *Config) GetTURNCredentials() (string, string) {
	return c.TURNUser, c.TURNPass
}

// PeerICEServers returns the ICE servers handed to every peer connection.
func (c *Config) PeerICEServers() []webrtc.ICEServer {
	if len(c.ICEServers) > 0 {
		return c.ICEServers
	}

	var servers []webrtc.ICEServer
	if stun := c.GetSTUNServers(); len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if turn := c.GetTURNServers(); len(turn) > 0 {
		user, pass := c.GetTURNCredentials()
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   user,
			Credential: pass,
		})
	}
	return servers
}

// HasTURN reports whether any configured ICE server is a relay.
func (c *Config) HasTURN() bool {
	for _, s := range c.PeerICEServers() {
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				return true
			}
		}
	}
	return false
}

func pick(flag, env, def string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func envBool(env string, flag bool) (bool, error) {
	if flag {
		return true, nil
	}
	raw := strings.TrimSpace(os.Getenv(env))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", env, err)
	}
	return v, nil
}

func envDuration(env string, flag, def time.Duration) (time.Duration, error) {
	if flag != 0 {
		return flag, nil
	}
	raw := strings.TrimSpace(os.Getenv(env))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", env, err)
	}
	return d, nil
}

func defaultHistoryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return DefaultHistoryFile
	}
	return dir + string(os.PathSeparator) + "warpcall" + string(os.PathSeparator) + DefaultHistoryFile
}
