// Package config loads and hot-reloads the YAML file describing the set of
// Netezza Performance Server connection profiles nzgo will dial, pool, and
// health-check.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/nzconn/nzgo/internal/handshake"
)

// Config is the top-level configuration for nzgo.
type Config struct {
	API      APIConfig                `yaml:"api"`
	Defaults PoolDefaults             `yaml:"defaults"`
	Profiles map[string]ProfileConfig `yaml:"profiles"`
}

// APIConfig controls the read-only status/metrics server.
type APIConfig struct {
	Port int    `yaml:"port"`
	Bind string `yaml:"bind"`
}

// PoolDefaults defines default pool settings applied when a profile doesn't
// override them.
type PoolDefaults struct {
	MinConnections int           `yaml:"min_connections"`
	MaxConnections int           `yaml:"max_connections"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxLifetime    time.Duration `yaml:"max_lifetime"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
	HealthInterval time.Duration `yaml:"health_interval"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
}

// ProfileConfig is everything nzgo needs to dial and authenticate to one
// Netezza Performance Server host.
type ProfileConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Options  string `yaml:"options"`

	SecurityLevel string `yaml:"security_level"` // preferred_unsecured|only_unsecured|preferred_secured|only_secured
	TLSCACert     string `yaml:"tls_ca_cert"`
	TLSCert       string `yaml:"tls_cert"`
	TLSKey        string `yaml:"tls_key"`
	TLSServerName string `yaml:"tls_server_name"`
	TLSSkipVerify bool   `yaml:"tls_insecure_skip_verify"`

	AppName string `yaml:"app_name"`

	MinConnections *int           `yaml:"min_connections,omitempty"`
	MaxConnections *int           `yaml:"max_connections,omitempty"`
	IdleTimeout    *time.Duration `yaml:"idle_timeout,omitempty"`
	MaxLifetime    *time.Duration `yaml:"max_lifetime,omitempty"`
	AcquireTimeout *time.Duration `yaml:"acquire_timeout,omitempty"`
	HealthInterval *time.Duration `yaml:"health_interval,omitempty"`
	DialTimeout    *time.Duration `yaml:"dial_timeout,omitempty"`
	ReadTimeout    *time.Duration `yaml:"read_timeout,omitempty"`
}

// EffectiveMinConnections returns the profile's min connections or the default.
func (p ProfileConfig) EffectiveMinConnections(defaults PoolDefaults) int {
	if p.MinConnections != nil {
		return *p.MinConnections
	}
	return defaults.MinConnections
}

// EffectiveMaxConnections returns the profile's max connections or the default.
func (p ProfileConfig) EffectiveMaxConnections(defaults PoolDefaults) int {
	if p.MaxConnections != nil {
		return *p.MaxConnections
	}
	return defaults.MaxConnections
}

// EffectiveIdleTimeout returns the profile's idle timeout or the default.
func (p ProfileConfig) EffectiveIdleTimeout(defaults PoolDefaults) time.Duration {
	if p.IdleTimeout != nil {
		return *p.IdleTimeout
	}
	return defaults.IdleTimeout
}

// EffectiveMaxLifetime returns the profile's max connection lifetime or the default.
func (p ProfileConfig) EffectiveMaxLifetime(defaults PoolDefaults) time.Duration {
	if p.MaxLifetime != nil {
		return *p.MaxLifetime
	}
	return defaults.MaxLifetime
}

// EffectiveAcquireTimeout returns the profile's acquire timeout or the default.
func (p ProfileConfig) EffectiveAcquireTimeout(defaults PoolDefaults) time.Duration {
	if p.AcquireTimeout != nil {
		return *p.AcquireTimeout
	}
	return defaults.AcquireTimeout
}

// EffectiveHealthInterval returns the profile's health-check interval or the default.
func (p ProfileConfig) EffectiveHealthInterval(defaults PoolDefaults) time.Duration {
	if p.HealthInterval != nil {
		return *p.HealthInterval
	}
	return defaults.HealthInterval
}

// EffectiveDialTimeout returns the profile's dial timeout or the default.
func (p ProfileConfig) EffectiveDialTimeout(defaults PoolDefaults) time.Duration {
	if p.DialTimeout != nil {
		return *p.DialTimeout
	}
	return defaults.DialTimeout
}

// EffectiveReadTimeout returns the profile's handshake read timeout or the default.
func (p ProfileConfig) EffectiveReadTimeout(defaults PoolDefaults) time.Duration {
	if p.ReadTimeout != nil {
		return *p.ReadTimeout
	}
	return defaults.ReadTimeout
}

// Redacted returns a copy of the ProfileConfig with the password masked, for
// logging and the API's profile listing.
func (p ProfileConfig) Redacted() ProfileConfig {
	c := p
	if c.Password != "" {
		c.Password = "***REDACTED***"
	}
	return c
}

// ResolveSecurityLevel maps the profile's textual security_level onto the
// handshake package's negotiation enum, defaulting to a preference for TLS
// without requiring it.
func (p ProfileConfig) ResolveSecurityLevel() (handshake.SecurityLevel, error) {
	switch p.SecurityLevel {
	case "", "preferred_secured":
		return handshake.SecurityPreferredSecured, nil
	case "preferred_unsecured":
		return handshake.SecurityPreferredUnsecured, nil
	case "only_unsecured":
		return handshake.SecurityOnlyUnsecured, nil
	case "only_secured":
		return handshake.SecurityOnlySecured, nil
	default:
		return 0, fmt.Errorf("unknown security_level %q", p.SecurityLevel)
	}
}

// BuildTLSConfig turns the profile's TLS fields into the material the
// handshake package needs for its in-band upgrade. A nil result means the
// profile supplied no certificate material; the handshake still negotiates
// TLS using the Go runtime's default trust store in that case.
func (p ProfileConfig) BuildTLSConfig() *handshake.TLSConfig {
	if p.TLSCACert == "" && p.TLSCert == "" && p.TLSKey == "" && !p.TLSSkipVerify && p.TLSServerName == "" {
		return nil
	}

	cfg := &handshake.TLSConfig{
		ServerName:         p.TLSServerName,
		InsecureSkipVerify: p.TLSSkipVerify,
	}

	if p.TLSCACert != "" {
		pem, err := os.ReadFile(p.TLSCACert)
		if err == nil {
			pool := x509.NewCertPool()
			if pool.AppendCertsFromPEM(pem) {
				cfg.RootCAs = pool
			}
		}
	}

	if p.TLSCert != "" && p.TLSKey != "" {
		cert, err := tls.LoadX509KeyPair(p.TLSCert, p.TLSKey)
		if err == nil {
			cfg.Certificates = []tls.Certificate{cert}
		}
	}

	return cfg
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.API.Bind == "" {
		cfg.API.Bind = "127.0.0.1"
	}
	if cfg.Defaults.MinConnections == 0 {
		cfg.Defaults.MinConnections = 1
	}
	if cfg.Defaults.MaxConnections == 0 {
		cfg.Defaults.MaxConnections = 10
	}
	if cfg.Defaults.IdleTimeout == 0 {
		cfg.Defaults.IdleTimeout = 5 * time.Minute
	}
	if cfg.Defaults.MaxLifetime == 0 {
		cfg.Defaults.MaxLifetime = 30 * time.Minute
	}
	if cfg.Defaults.AcquireTimeout == 0 {
		cfg.Defaults.AcquireTimeout = 10 * time.Second
	}
	if cfg.Defaults.HealthInterval == 0 {
		cfg.Defaults.HealthInterval = 30 * time.Second
	}
	if cfg.Defaults.DialTimeout == 0 {
		cfg.Defaults.DialTimeout = 5 * time.Second
	}
	if cfg.Defaults.ReadTimeout == 0 {
		cfg.Defaults.ReadTimeout = 30 * time.Second
	}
	for id, p := range cfg.Profiles {
		if p.SecurityLevel == "" {
			p.SecurityLevel = "preferred_secured"
			cfg.Profiles[id] = p
		}
	}
}

var profileIDPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidateProfileID rejects profile names that would be awkward as metric
// labels or API path segments: empty, leading punctuation, or containing
// anything but letters, digits, and underscores.
func ValidateProfileID(id string) error {
	if id == "" {
		return fmt.Errorf("profile id must not be empty")
	}
	if id[0] == '-' || id[0] == '_' {
		return fmt.Errorf("profile id %q must not start with - or _", id)
	}
	if !profileIDPattern.MatchString(id) {
		return fmt.Errorf("profile id %q must contain only letters, digits, and underscores", id)
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Defaults.MinConnections > 0 && cfg.Defaults.MaxConnections > 0 &&
		cfg.Defaults.MinConnections > cfg.Defaults.MaxConnections {
		return fmt.Errorf("defaults: min_connections (%d) exceeds max_connections (%d)",
			cfg.Defaults.MinConnections, cfg.Defaults.MaxConnections)
	}
	if cfg.API.Port != 0 && (cfg.API.Port < 1 || cfg.API.Port > 65535) {
		return fmt.Errorf("api: port %d out of range", cfg.API.Port)
	}

	for id, p := range cfg.Profiles {
		if err := ValidateProfileID(id); err != nil {
			return fmt.Errorf("profile %q: %w", id, err)
		}
		if p.Host == "" {
			return fmt.Errorf("profile %q: host is required", id)
		}
		if strings.Contains(p.Host, ":") {
			return fmt.Errorf("profile %q: host must not contain a port, use the port field", id)
		}
		if p.Port == 0 {
			return fmt.Errorf("profile %q: port is required", id)
		}
		if p.Port < 1 || p.Port > 65535 {
			return fmt.Errorf("profile %q: port %d out of range", id, p.Port)
		}
		if p.Username == "" {
			return fmt.Errorf("profile %q: username is required", id)
		}
		if _, err := p.ResolveSecurityLevel(); err != nil {
			return fmt.Errorf("profile %q: %w", id, err)
		}
		if p.MinConnections != nil && p.MaxConnections != nil && *p.MinConnections > *p.MaxConnections {
			return fmt.Errorf("profile %q: min_connections (%d) exceeds max_connections (%d)",
				id, *p.MinConnections, *p.MaxConnections)
		}
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the
// new config after a debounce window absorbs the burst of events a single
// save can generate.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}

	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
