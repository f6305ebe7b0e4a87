package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.HTTPBase != DefaultHTTPBase {
		t.Errorf("unexpected http base %q", cfg.Server.HTTPBase)
	}
	if cfg.Group.Room != DefaultRoom {
		t.Errorf("unexpected room %q", cfg.Group.Room)
	}
	if len(cfg.Group.Members) != 4 {
		t.Errorf("unexpected members %v", cfg.Group.Members)
	}
	if cfg.RetryDelay() != DefaultRetryDelay {
		t.Errorf("unexpected retry delay %v", cfg.RetryDelay())
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "opcode.toml")
	content := `
[server]
http = "http://chat.example.com"
ws = "ws://chat.example.com"
http_timeout = "5s"

[group]
room = "general"
members = ["alice", "bob"]

[storage]
path = "/tmp/opcode-test.db"

[transport]
retry_delay = "500ms"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.HTTPBase != "http://chat.example.com" {
		t.Errorf("unexpected http base %q", cfg.Server.HTTPBase)
	}
	if cfg.Group.Room != "general" {
		t.Errorf("unexpected room %q", cfg.Group.Room)
	}
	if len(cfg.Group.Members) != 2 || cfg.Group.Members[0] != "alice" {
		t.Errorf("unexpected members %v", cfg.Group.Members)
	}
	if cfg.RetryDelay() != 500*time.Millisecond {
		t.Errorf("unexpected retry delay %v", cfg.RetryDelay())
	}
	if cfg.HTTPTimeout() != 5*time.Second {
		t.Errorf("unexpected http timeout %v", cfg.HTTPTimeout())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OPCODE_WS_BASE", "ws://override:9000")
	t.Setenv("OPCODE_GROUP_MEMBERS", "x, y ,z")
	t.Setenv("OPCODE_RETRY_DELAY", "1s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.WSBase != "ws://override:9000" {
		t.Errorf("env override not applied: %q", cfg.Server.WSBase)
	}
	want := []string{"x", "y", "z"}
	if len(cfg.Group.Members) != 3 {
		t.Fatalf("unexpected members %v", cfg.Group.Members)
	}
	for i, member := range want {
		if cfg.Group.Members[i] != member {
			t.Errorf("member %d: got %q want %q", i, cfg.Group.Members[i], member)
		}
	}
	if cfg.RetryDelay() != time.Second {
		t.Errorf("unexpected retry delay %v", cfg.RetryDelay())
	}
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.HTTPBase != DefaultHTTPBase {
		t.Errorf("expected defaults for missing file, got %q", cfg.Server.HTTPBase)
	}
}

func TestBadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(path, []byte("not [valid"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
