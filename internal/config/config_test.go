package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dmorcellet/delta-downloads/internal/downloadcfg"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9090" || cfg.Store.Driver != StoreMemory {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.HTTP.Timeout != 30*time.Second || cfg.HTTP.BufferSize != 32<<10 {
		t.Fatalf("unexpected http defaults %+v", cfg.HTTP)
	}
	if cfg.Policy() != downloadcfg.CollisionRename {
		t.Fatalf("policy = %s", cfg.Policy())
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delta.yaml")
	yaml := `
listen_addr: ":8081"
collision_policy: overwrite
http:
  timeout: 5s
store:
  driver: sqlite
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DELTA_LISTEN_ADDR", ":7070")
	t.Setenv("DELTA_API_TOKEN", "sekrit")
	t.Setenv("DELTA_SQLITE_PATH", "/var/lib/delta/delta.db")
	t.Setenv("DELTA_HTTP_BUFFER_SIZE", "1024")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Fatalf("env did not override file: %q", cfg.ListenAddr)
	}
	if cfg.APIToken != "sekrit" || cfg.SQLitePath != "/var/lib/delta/delta.db" {
		t.Fatalf("env values missing: %+v", cfg)
	}
	if cfg.Store.Driver != StoreSQLite || cfg.Log.Level != "debug" {
		t.Fatalf("file values missing: %+v", cfg)
	}
	if cfg.HTTP.Timeout != 5*time.Second || cfg.HTTP.BufferSize != 1024 {
		t.Fatalf("http = %+v", cfg.HTTP)
	}
	if cfg.Policy() != downloadcfg.CollisionOverwrite {
		t.Fatalf("policy = %s", cfg.Policy())
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	t.Setenv("DELTA_STORE_DRIVER", "mysql")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "mysql") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}

func TestPostgresDSN(t *testing.T) {
	cfg := &Config{Postgres: Postgres{Host: "db", Port: "5432", DB: "delta", User: "u", Password: "p@ss/word", SSLMode: "disable"}}
	want := "postgres://u:p%40ss%2Fword@db:5432/delta?sslmode=disable"
	if got := cfg.PostgresDSN(); got != want {
		t.Fatalf("dsn = %q, want %q", got, want)
	}
}
