package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "settings.yaml"))
	if err != nil {
		t.Fatalf("Load() on missing file returned error: %v", err)
	}
	if s.MaxConcurrent != DefaultMaxConcurrent {
		t.Errorf("MaxConcurrent = %d, expected default %d", s.MaxConcurrent, DefaultMaxConcurrent)
	}
	if s.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %s, expected default %s", s.ListenAddr, DefaultListenAddr)
	}
	if s.DownloadDir == "" {
		t.Error("DownloadDir should have a default")
	}
	if _, ok := s.SigningKeys[s.ActiveKey]; !ok {
		t.Error("ActiveKey must refer to a configured signing key")
	}
}

func TestLoad_ClampsValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := "max_concurrent: 99\nlimit_rate_kbps: -5\ndefault_owner_cap: 0\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if s.MaxConcurrent != MaxMaxConcurrent {
		t.Errorf("MaxConcurrent = %d, expected clamp to %d", s.MaxConcurrent, MaxMaxConcurrent)
	}
	if s.LimitRateKbps != 0 {
		t.Errorf("LimitRateKbps = %d, expected negative value reset to 0", s.LimitRateKbps)
	}
	if s.DefaultCap != DefaultOwnerCap {
		t.Errorf("DefaultCap = %d, expected fallback %d", s.DefaultCap, DefaultOwnerCap)
	}
}

func TestLoad_BrokenFileFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("max_concurrent: [not: valid"), 0600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	s, err := Load(path)
	if err == nil {
		t.Error("Load() should report a broken file")
	}
	if s == nil || s.MaxConcurrent != DefaultMaxConcurrent {
		t.Error("Load() must still return usable defaults alongside the error")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")

	s := Defaults()
	s.MaxConcurrent = 5
	s.ProxyURL = "socks5://127.0.0.1:9050"
	s.LimitRateKbps = 512
	if err := s.Save(path); err != nil {
		t.Fatalf("Save() returned error: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if loaded.MaxConcurrent != 5 {
		t.Errorf("MaxConcurrent = %d, expected 5", loaded.MaxConcurrent)
	}
	if loaded.ProxyURL != s.ProxyURL {
		t.Errorf("ProxyURL = %s, expected %s", loaded.ProxyURL, s.ProxyURL)
	}
	if loaded.LimitRateKbps != 512 {
		t.Errorf("LimitRateKbps = %d, expected 512", loaded.LimitRateKbps)
	}
}

func TestSettings_KeySet(t *testing.T) {
	s := Defaults()
	keys := s.KeySet()
	if string(keys[DefaultActiveKeyID]) != DefaultSigningSecret {
		t.Error("KeySet() should carry the configured secrets as bytes")
	}
}
