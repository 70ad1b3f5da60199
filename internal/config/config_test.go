package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{DefaultProfile: "work"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultProfile: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestLoadProfileTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.toml")
	content := `
[backend]
base_url = "https://crm.example.com/api"
socket_url = "wss://crm.example.com/ws"

[identity]
user_id = 4
company_id = 12
token = "secret"

[sync]
counters_delay = "250ms"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile() error = %v", err)
	}
	if p.Backend.BaseURL != "https://crm.example.com/api" {
		t.Errorf("base_url = %q", p.Backend.BaseURL)
	}
	if p.Identity.CompanyID != 12 || !p.Identity.Valid() {
		t.Errorf("identity = %+v, want valid company 12", p.Identity)
	}
	if p.Sync.CountersDelay != 250*time.Millisecond {
		t.Errorf("counters_delay = %v, want 250ms", p.Sync.CountersDelay)
	}
	if p.Sync.CountersWindow != 5*time.Second {
		t.Errorf("counters_window = %v, want default 5s", p.Sync.CountersWindow)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadProfileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	content := `
backend:
  base_url: http://localhost:8080
  socket_url: ws://localhost:8080/ws
identity:
  company_id: 3
  token: t
reconnect:
  initial_backoff: 2s
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("LoadProfile() error = %v", err)
	}
	if p.Reconnect.InitialBackoff != 2*time.Second {
		t.Errorf("initial_backoff = %v, want 2s", p.Reconnect.InitialBackoff)
	}
	if p.Reconnect.MaxBackoff != 30*time.Second {
		t.Errorf("max_backoff = %v, want 30s", p.Reconnect.MaxBackoff)
	}
}

func TestProfileValidate(t *testing.T) {
	if err := (Profile{}).Validate(); err == nil {
		t.Error("Validate() expected error for empty profile")
	}
}

func TestIdentityValid(t *testing.T) {
	tests := []struct {
		name string
		id   Identity
		want bool
	}{
		{"complete", Identity{CompanyID: 1, Token: "x"}, true},
		{"no company", Identity{Token: "x"}, false},
		{"no token", Identity{CompanyID: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}
