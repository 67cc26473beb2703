package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFileFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
current: staging
profiles:
  staging:
    url: https://org.example.com
    token: abc
    api_version: v9.1
    timeout: 45s
    entity_sets:
      person: people
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	p, err := cfg.Profile("")
	if err != nil {
		t.Fatalf("Profile() error: %v", err)
	}
	if p.URL != "https://org.example.com" || p.Token != "abc" || p.APIVersion != "v9.1" {
		t.Errorf("unexpected profile: %+v", p)
	}
	if p.Timeout != 45*time.Second {
		t.Errorf("expected 45s timeout, got %v", p.Timeout)
	}
	if p.EntitySets["person"] != "people" {
		t.Errorf("expected entity set override, got %v", p.EntitySets)
	}
	if _, ok := cfg.Profiles[DefaultProfile]; !ok {
		t.Error("expected local profile to be added")
	}
}

func TestLoadFileMissingReturnsDefault(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	if cfg.Current != DefaultProfile {
		t.Errorf("expected current=%s, got %q", DefaultProfile, cfg.Current)
	}
	p, _ := cfg.Profile("")
	if p.URL != DefaultURL {
		t.Errorf("expected default url, got %q", p.URL)
	}
}

func TestLoadFileInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("profiles: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestSaveFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	if err := cfg.SetProfile("prod", Profile{URL: "https://prod.example.com", Token: "secret", Timeout: time.Minute}); err != nil {
		t.Fatalf("SetProfile() error: %v", err)
	}
	if err := cfg.Use("prod"); err != nil {
		t.Fatalf("Use() error: %v", err)
	}
	if err := SaveFile(path, cfg); err != nil {
		t.Fatalf("SaveFile() error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected 0600 permissions, got %v", info.Mode().Perm())
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error: %v", err)
	}
	p, err := loaded.Profile("")
	if err != nil {
		t.Fatalf("Profile() error: %v", err)
	}
	if p.URL != "https://prod.example.com" || p.Token != "secret" || p.Timeout != time.Minute {
		t.Errorf("unexpected round trip: %+v", p)
	}
}

func TestProfileUnknown(t *testing.T) {
	cfg := defaultConfig()
	if _, err := cfg.Profile("missing"); !errors.Is(err, ErrUnknownProfile) {
		t.Errorf("expected ErrUnknownProfile, got %v", err)
	}
	if err := cfg.Use("missing"); !errors.Is(err, ErrUnknownProfile) {
		t.Errorf("expected ErrUnknownProfile from Use, got %v", err)
	}
}

func TestSetProfileValidates(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
	}{
		{"no scheme", Profile{URL: "org.example.com"}},
		{"ftp", Profile{URL: "ftp://org.example.com"}},
		{"no host", Profile{URL: "https://"}},
		{"negative timeout", Profile{URL: "https://org.example.com", Timeout: -time.Second}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			if err := cfg.SetProfile("x", tt.profile); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	cfg := defaultConfig()
	if err := cfg.SetProfile("", Profile{URL: DefaultURL}); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestNamesSorted(t *testing.T) {
	cfg := defaultConfig()
	cfg.SetProfile("zeta", Profile{URL: "https://z.example.com"})
	cfg.SetProfile("alpha", Profile{URL: "https://a.example.com"})

	got := cfg.Names()
	want := []string{"alpha", "local", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
}
