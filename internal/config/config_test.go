package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/merklejerk/holtburger/internal/config"
)

// writeConfigFile drops a YAML config into a temp dir and returns its
// path.
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "holtburger.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFileOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  addr: "203.0.113.7:9000"
login:
  account: alastor
  password: hunter2
net:
  retransmit_threshold: 450ms
log:
  level: debug
`)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != "203.0.113.7:9000" {
		t.Errorf("server.addr = %q", cfg.Server.Addr)
	}
	if cfg.Login.Account != "alastor" || cfg.Login.Password != "hunter2" {
		t.Errorf("login = %+v", cfg.Login)
	}
	if cfg.Net.RetransmitThreshold != 450*time.Millisecond {
		t.Errorf("retransmit_threshold = %v", cfg.Net.RetransmitThreshold)
	}
	// Unset fields inherit defaults.
	if cfg.Login.ClientVersion != "1802" {
		t.Errorf("client_version default = %q", cfg.Login.ClientVersion)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("metrics.path default = %q", cfg.Metrics.Path)
	}

	ap, err := cfg.ServerAddr()
	if err != nil {
		t.Fatalf("ServerAddr: %v", err)
	}
	if ap.Port() != 9000 {
		t.Errorf("port = %d", ap.Port())
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
server:
  addr: "203.0.113.7:9000"
login:
  account: from-file
`)
	t.Setenv("HOLTBURGER_LOGIN_ACCOUNT", "from-env")
	t.Setenv("HOLTBURGER_LOG_LEVEL", "warn")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Login.Account != "from-env" {
		t.Errorf("login.account = %q, want env override", cfg.Login.Account)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log.level = %q, want env override", cfg.Log.Level)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr error
	}{
		{
			name:    "missing server addr",
			mutate:  func(c *config.Config) { c.Server.Addr = "" },
			wantErr: config.ErrMissingServerAddr,
		},
		{
			name:    "unparsable server addr",
			mutate:  func(c *config.Config) { c.Server.Addr = "no-port" },
			wantErr: config.ErrInvalidServerAddr,
		},
		{
			name:    "missing account",
			mutate:  func(c *config.Config) { c.Login.Account = "" },
			wantErr: config.ErrMissingAccount,
		},
		{
			name:    "negative timer",
			mutate:  func(c *config.Config) { c.Net.AckInterval = -time.Second },
			wantErr: config.ErrNegativeTimer,
		},
		{
			name:   "valid",
			mutate: func(*config.Config) {},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			cfg.Server.Addr = "203.0.113.7:9000"
			cfg.Login.Account = "a"
			tt.mutate(cfg)

			err := config.Validate(cfg)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load of a missing file succeeded")
	}
}
