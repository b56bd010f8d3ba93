package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  enabled: true
  token: abc
logging:
  level: debug
  console: true
reminder:
  max_items: 10
  unique_session: true
storage:
  driver: sqlite
  path: ./items.db
  busy_timeout: 3s
`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Telegram.Enabled || cfg.Telegram.Token != "abc" {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Reminder.MaxItems != 10 || !cfg.Reminder.UniqueSession {
		t.Fatalf("reminder = %+v", cfg.Reminder)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.BusyTimeout != "3s" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Load did not commit the snapshot")
	}
}

func TestLoadJSONConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"logging":{"level":"warn","console":true,"file":{"enabled":false,"path":""}},"storage":{"path":"./items.json"}}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "warn" || cfg.Storage.Path != "./items.json" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestUnknownKeysRejected(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name, file, body string
	}{
		{"yaml", "config.yaml", "logging:\n  level: info\n  verbosity: high\n"},
		{"json", "config.json", `{"logging":{"level":"info"},"loging":{}}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := writeConfig(t, tc.file, tc.body)
			if _, err := NewManager(path).Parse(); err == nil {
				t.Fatal("unknown key accepted")
			}
		})
	}
}

func TestDefaultCommandPrefix(t *testing.T) {
	t.Parallel()
	var r ReminderConfig
	if got := r.Prefix(); got != "/" {
		t.Fatalf("default prefix = %q", got)
	}
	empty := ""
	r.CommandPrefix = &empty
	if got := r.Prefix(); got != "" {
		t.Fatalf("explicit empty prefix = %q", got)
	}
}
