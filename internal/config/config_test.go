package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"SERVER_URL", "CLIENT_ID", "SCOPE", "TOKEN_KEY", "TOKEN_PATH", "NO_BROWSER"} {
		// Setenv restores the original value on cleanup
		t.Setenv("DEVICELOGIN_"+k, "")
		os.Unsetenv("DEVICELOGIN_" + k)
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ServerURL != DefaultServerURL {
		t.Errorf("ServerURL = %q, want %q", cfg.ServerURL, DefaultServerURL)
	}
	if cfg.ClientID != DefaultClientID {
		t.Errorf("ClientID = %q, want %q", cfg.ClientID, DefaultClientID)
	}
	if base := filepath.Base(cfg.TokenPath); base != "token.json" {
		t.Errorf("token file = %q, want token.json", base)
	}
	if !cfg.BrowserEnabled() {
		t.Error("BrowserEnabled() = false by default")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	clearEnv(t)

	path := writeFile(t, `
server_url = "https://auth.example.com"
client_id = "from-file"
scope = "profile"
open_browser = false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerURL != "https://auth.example.com" || cfg.ClientID != "from-file" || cfg.Scope != "profile" {
		t.Errorf("Load() = %+v, want file values", cfg)
	}
	if cfg.BrowserEnabled() {
		t.Error("BrowserEnabled() = true with open_browser = false")
	}

	t.Setenv("DEVICELOGIN_CLIENT_ID", "from-env")
	t.Setenv("DEVICELOGIN_SERVER_URL", "https://other.example.com")

	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerURL != "https://other.example.com" {
		t.Errorf("ServerURL = %q, want env value", cfg.ServerURL)
	}
	if cfg.ClientID != "from-env" {
		t.Errorf("ClientID = %q, want env value", cfg.ClientID)
	}
	// unset env keeps the file value
	if cfg.Scope != "profile" {
		t.Errorf("Scope = %q, want profile", cfg.Scope)
	}
}

func TestLoadFileIgnoresEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEVICELOGIN_TOKEN_KEY", "from-env")
	t.Setenv("DEVICELOGIN_SCOPE", "from-env")

	path := writeFile(t, `server_url = "https://auth.example.com"`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if diff := cmp.Diff(&Config{ServerURL: "https://auth.example.com"}, cfg); diff != "" {
		t.Errorf("LoadFile() mismatch (-want +got):\n%s", diff)
	}

	missing, err := LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("LoadFile(missing) error = %v", err)
	}
	if diff := cmp.Diff(&Config{}, missing); diff != "" {
		t.Errorf("LoadFile(missing) mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadInvalidFile(t *testing.T) {
	clearEnv(t)

	if _, err := Load(writeFile(t, "server_url = ")); err == nil {
		t.Error("Load() accepted a malformed file")
	}
}

func TestNoBrowserEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEVICELOGIN_NO_BROWSER", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BrowserEnabled() {
		t.Error("BrowserEnabled() = true with DEVICELOGIN_NO_BROWSER set")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "nested", FileName)
	no := false
	want := &Config{ServerURL: "https://auth.example.com", ClientID: "cli", TokenPath: "/tmp/token.json", OpenBrowser: &no}
	if err := Save(path, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	// Unset fields are left out of the file
	raw, _ := os.ReadFile(path)
	for _, key := range []string{"scope", "token_key"} {
		if strings.Contains(string(raw), key) {
			t.Errorf("file contains unset key %q:\n%s", key, raw)
		}
	}
}

func TestTokenStore(t *testing.T) {
	cfg := &Config{TokenPath: filepath.Join(t.TempDir(), "token.json")}
	store, err := cfg.TokenStore()
	if err != nil {
		t.Fatalf("TokenStore() error = %v", err)
	}
	if store.Path() != cfg.TokenPath {
		t.Errorf("Path() = %q, want %q", store.Path(), cfg.TokenPath)
	}

	cfg.TokenKey = "not-a-key"
	if _, err := cfg.TokenStore(); err == nil {
		t.Error("TokenStore() accepted an invalid key")
	}
}
