// Package config loads and manages the recordctl configuration file stored at
// ~/.recordtwin/config.yaml: named connection profiles for record stores.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Location of the config file relative to the user's home directory.
const (
	DirName  = ".recordtwin"
	FileName = "config.yaml"
)

// DefaultProfile is the profile used when none is named.
const DefaultProfile = "local"

// DefaultURL points at a twin started with default flags.
const DefaultURL = "http://localhost:8080"

var ErrUnknownProfile = errors.New("unknown profile")

// Profile describes one record store connection.
type Profile struct {
	URL        string        `yaml:"url"`
	Token      string        `yaml:"token,omitempty"`
	APIVersion string        `yaml:"api_version,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	// User is the caller identity minted into a token when Token is empty.
	User string `yaml:"user,omitempty"`
	// EntitySets overrides collection names, e.g. {"person": "people"}.
	EntitySets map[string]string `yaml:"entity_sets,omitempty"`
}

// Validate checks that the profile can be connected to.
func (p Profile) Validate() error {
	u, err := url.Parse(p.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", p.URL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid url %q: expected http(s)://host", p.URL)
	}
	if p.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// Config represents the contents of ~/.recordtwin/config.yaml.
type Config struct {
	Current  string             `yaml:"current"`
	Profiles map[string]Profile `yaml:"profiles"`
}

// Path returns ~/.recordtwin/config.yaml for the current user.
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating config: %w", err)
	}
	return filepath.Join(home, DirName, FileName), nil
}

// LoadFile reads the profiles at path. A missing file is not an error: it
// yields a config holding only the "local" profile. The "local" profile is
// added to any file that lacks it.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]Profile)
	}
	if _, ok := cfg.Profiles[DefaultProfile]; !ok {
		cfg.Profiles[DefaultProfile] = Profile{URL: DefaultURL}
	}
	if cfg.Current == "" {
		cfg.Current = DefaultProfile
	}

	return &cfg, nil
}

// SaveFile writes cfg to path with mode 0600, creating the directory.
func SaveFile(path string, cfg *Config) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("config dir for %s: %w", path, err)
	}
	return os.WriteFile(path, out, 0o600)
}

// Profile returns the named profile, or the current one if name is empty.
func (c *Config) Profile(name string) (Profile, error) {
	if name == "" {
		name = c.Current
	}
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%w %q", ErrUnknownProfile, name)
	}
	return p, nil
}

// SetProfile adds or replaces a profile after validating it.
func (c *Config) SetProfile(name string, p Profile) error {
	if name == "" {
		return fmt.Errorf("profile name is required")
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("profile %q: %w", name, err)
	}
	if c.Profiles == nil {
		c.Profiles = make(map[string]Profile)
	}
	c.Profiles[name] = p
	return nil
}

// Use makes name the current profile.
func (c *Config) Use(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("%w %q", ErrUnknownProfile, name)
	}
	c.Current = name
	return nil
}

// Names returns the profile names, sorted.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func defaultConfig() *Config {
	return &Config{
		Current: DefaultProfile,
		Profiles: map[string]Profile{
			DefaultProfile: {URL: DefaultURL},
		},
	}
}
