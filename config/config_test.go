package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFile_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "treewatch.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  profiling: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Agent.Profiling {
		t.Fatal("profiling: got false, want true")
	}
	if cfg.Server.Addr != ":7780" || cfg.Server.Path != "/ws" {
		t.Fatalf("server: got %+v", cfg.Server)
	}
	if cfg.Agent.MaxProfiles != 32 || cfg.Agent.InspectDepth != 6 {
		t.Fatalf("agent: got %+v", cfg.Agent)
	}
	if cfg.Store.RetryInterval != 500*time.Millisecond {
		t.Fatalf("retry interval: got %v", cfg.Store.RetryInterval)
	}
	if cfg.Codec != "json" || cfg.Log.Level != "info" || cfg.Prefs.Path != "treewatch.db" {
		t.Fatalf("misc: got %q %q %q", cfg.Codec, cfg.Log.Level, cfg.Prefs.Path)
	}
}

func TestParse_Overrides(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  addr: 127.0.0.1:9000
store:
  retry_interval: 2s
agent:
  id_strategy: ulid
codec: cbor
log:
  level: debug
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("addr: got %q", cfg.Server.Addr)
	}
	if cfg.Store.RetryInterval != 2*time.Second {
		t.Fatalf("retry interval: got %v", cfg.Store.RetryInterval)
	}
	if cfg.Agent.IDStrategy != "ulid" || cfg.Codec != "cbor" {
		t.Fatalf("got %q %q", cfg.Agent.IDStrategy, cfg.Codec)
	}
	if l, _ := ParseLevel(cfg.Log.Level); l != slog.LevelDebug {
		t.Fatalf("level: got %v", l)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := []string{
		"codec: xml\n",
		"agent:\n  id_strategy: snowflake\n",
		"log:\n  level: loud\n",
		"server:\n  path: ws\n",
		"server: [\n",
	}
	for _, c := range cases {
		if _, err := Parse([]byte(c)); err == nil {
			t.Fatalf("Parse(%q): want error", c)
		}
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("want error for missing file")
	}
}
