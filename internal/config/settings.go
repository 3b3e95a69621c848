package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ytget/fetchd/internal/platform"
)

// Default values. Invalid or missing settings fall back to these rather
// than rejecting startup.
const (
	DefaultMaxConcurrent  = 2
	DefaultOwnerCap       = 2
	DefaultListenAddr     = ":8090"
	DefaultActiveKeyID    = "k1"
	DefaultSigningSecret  = "dev-only-insecure-secret"
	MinMaxConcurrent      = 1
	MaxMaxConcurrent      = 10
	DefaultConfigFileMode = 0600
)

// Settings is the persisted server configuration
type Settings struct {
	MaxConcurrent int    `yaml:"max_concurrent"`
	ProxyURL      string `yaml:"proxy_url,omitempty"`
	LimitRateKbps int    `yaml:"limit_rate_kbps,omitempty"`
	DownloadDir   string `yaml:"download_dir"`
	DefaultCap    int    `yaml:"default_owner_cap"`
	ListenAddr    string `yaml:"listen_addr"`

	// SigningKeys maps key id to secret; ActiveKey selects the minting
	// key. All listed keys verify, so rotation keeps old tokens alive.
	SigningKeys map[string]string `yaml:"signing_keys,omitempty"`
	ActiveKey   string            `yaml:"active_key,omitempty"`
}

// Defaults returns a settings value with every field at its default
func Defaults() *Settings {
	downloadDir, err := platform.GetHomeDownloadsDir()
	if err != nil {
		downloadDir = "/tmp/downloads"
	}
	return &Settings{
		MaxConcurrent: DefaultMaxConcurrent,
		DownloadDir:   downloadDir,
		DefaultCap:    DefaultOwnerCap,
		ListenAddr:    DefaultListenAddr,
		SigningKeys:   map[string]string{DefaultActiveKeyID: DefaultSigningSecret},
		ActiveKey:     DefaultActiveKeyID,
	}
}

// Load reads settings from the YAML file at path. A missing file or an
// unreadable value yields defaults for the affected fields; only a
// syntactically broken file is reported, and even then usable defaults
// are returned alongside the error.
func Load(path string) (*Settings, error) {
	s := Defaults()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, s); err != nil {
		return Defaults(), fmt.Errorf("parse settings: %w", err)
	}

	s.normalize()
	return s, nil
}

// Save writes the settings back to the YAML file at path
func (s *Settings) Save(path string) error {
	s.normalize()
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.WriteFile(path, data, DefaultConfigFileMode); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// normalize clamps and backfills fields so loaded settings are always usable
func (s *Settings) normalize() {
	switch {
	case s.MaxConcurrent == 0:
		s.MaxConcurrent = DefaultMaxConcurrent
	case s.MaxConcurrent < MinMaxConcurrent:
		s.MaxConcurrent = MinMaxConcurrent
	case s.MaxConcurrent > MaxMaxConcurrent:
		s.MaxConcurrent = MaxMaxConcurrent
	}
	if s.LimitRateKbps < 0 {
		s.LimitRateKbps = 0
	}
	if s.DefaultCap < 1 {
		s.DefaultCap = DefaultOwnerCap
	}
	if s.DownloadDir == "" {
		s.DownloadDir = Defaults().DownloadDir
	}
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if len(s.SigningKeys) == 0 {
		s.SigningKeys = map[string]string{DefaultActiveKeyID: DefaultSigningSecret}
		s.ActiveKey = DefaultActiveKeyID
	}
	if _, ok := s.SigningKeys[s.ActiveKey]; !ok {
		for id := range s.SigningKeys {
			s.ActiveKey = id
			break
		}
	}
}

// KeySet converts the configured signing keys into the byte form the
// token service expects
func (s *Settings) KeySet() map[string][]byte {
	keys := make(map[string][]byte, len(s.SigningKeys))
	for id, secret := range s.SigningKeys {
		keys[id] = []byte(secret)
	}
	return keys
}
