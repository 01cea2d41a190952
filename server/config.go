package server

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config represents a server config
type Config struct {
	ListenAddr    string     `yaml:"listen_addr"`
	TLSListenAddr string     `yaml:"tls_listen_addr"`
	TLSOnly       bool       `yaml:"tls_only"`
	TLS           *TLSConfig `yaml:"tls"`
	Verbose       bool       `yaml:"verbose"`

	// Backend selects the cache store, "memory" (default) or "duckdb"
	Backend string `yaml:"backend"`
	// SnapshotFile persists the memory backend between runs when set
	SnapshotFile string `yaml:"snapshot_file"`
	// DatabasePath is the duckdb file, empty means in-memory
	DatabasePath string `yaml:"database_path"`

	CleanupInterval  Duration `yaml:"cleanup_interval"`
	SizeCap          int      `yaml:"size_cap"`
	DefaultTTL       Duration `yaml:"default_ttl"`
	PremiumTTL       Duration `yaml:"premium_ttl"`
	RatchetWindow    Duration `yaml:"ratchet_window"`
	PopularThreshold int64    `yaml:"popular_threshold"`
	WarmConcurrency  int      `yaml:"warm_concurrency"`
	ExtractTimeout   Duration `yaml:"extract_timeout"`
}

// TLSConfig represents a TLS configuration
type TLSConfig struct {
	KeyFile  string `yaml:"key_file"`
	CertFile string `yaml:"cert_file"`
}

// LoadFile reads a YAML config file
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	return c, nil
}

// Duration is a time.Duration that YAML (un)marshals as a duration string
type Duration time.Duration

// Std returns the duration as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML is used to parse a duration string from YAML
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", s)
	}
	*d = Duration(parsed)

	return nil
}

// MarshalYAML is used to render the duration as a string
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
