package profile

import (
	"fmt"
	"os"

	"github.com/matheus3301/crmsync/internal/config"
)

const DefaultProfileName = "main"

// TokenEnv overrides the identity token from the profile file.
const TokenEnv = "CRMSYNC_TOKEN"

// Resolve determines the active profile name using precedence:
// 1. flagOverride (--profile flag)
// 2. config.toml default_profile
// 3. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultProfile != "" {
		return cfg.DefaultProfile
	}
	return DefaultProfileName
}

// Load reads the profile settings and applies the token override.
func Load(name string) (*config.Profile, error) {
	p, err := config.LoadProfile(SettingsPath(name))
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}
	if token := os.Getenv(TokenEnv); token != "" {
		p.Identity.Token = token
	}
	if p.API.SocketPath == "" {
		p.API.SocketPath = SocketPath(name)
	}
	return p, nil
}
