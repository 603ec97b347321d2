package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to config.toml in a fresh temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
[upstream]
base_url = "http://orchestrator.local"
`

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880
static_dir = "public"

[upstream]
base_url = "https://orchestrator.example.com/"
timeout_seconds = 5
idle_connections = 50

[upload]
temp_dir = "/tmp/uploads"
allowed_extensions = [".pdf"]
max_bytes = 1024

[session]
enabled = true
backend = "memory"
ttl_seconds = 60
max_entries = 10

[log]
level = "debug"
format = "pretty"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Server.StaticDir != "public" {
		t.Errorf("Server.StaticDir = %q, want %q", cfg.Server.StaticDir, "public")
	}
	if cfg.Upstream.BaseURL != "https://orchestrator.example.com" {
		t.Errorf("Upstream.BaseURL = %q, want trailing slash trimmed", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.TimeoutSeconds != 5 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 5)
	}
	if cfg.Upload.TempDir != "/tmp/uploads" {
		t.Errorf("Upload.TempDir = %q, want %q", cfg.Upload.TempDir, "/tmp/uploads")
	}
	if len(cfg.Upload.AllowedExtensions) != 1 || cfg.Upload.AllowedExtensions[0] != ".pdf" {
		t.Errorf("Upload.AllowedExtensions = %v, want [.pdf]", cfg.Upload.AllowedExtensions)
	}
	if !cfg.Session.Enabled || cfg.Session.MaxEntries != 10 {
		t.Errorf("Session = %+v, want enabled with 10 entries", cfg.Session)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "pretty" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "pretty")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(cliWithPath(writeConfig(t, minimalConfig)))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 3000)
	}
	if cfg.Server.BodyMaxBytes != 25*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 25*1024*1024)
	}
	if cfg.Upstream.TimeoutSeconds != 10 {
		t.Errorf("default Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 10)
	}
	if got := strings.Join(cfg.Upload.AllowedExtensions, ","); got != ".jpg,.jpeg,.png,.pdf" {
		t.Errorf("default Upload.AllowedExtensions = %q", got)
	}
	if cfg.Upload.TempDir == "" {
		t.Error("default Upload.TempDir is empty")
	}
	if cfg.Session.Enabled {
		t.Error("sessions should be disabled by default")
	}
	if cfg.Session.Backend != "memory" {
		t.Errorf("default Session.Backend = %q, want %q", cfg.Session.Backend, "memory")
	}
	if cfg.Session.CookieName != "docfolder_session" {
		t.Errorf("default Session.CookieName = %q", cfg.Session.CookieName)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(cliWithPath("/nonexistent/path/config.toml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[upstream]
base_url = "http://orchestrator.local"

[log]
level = "info"
`)

	cli := &CLI{
		Config:      path,
		Host:        "127.0.0.1",
		Port:        4000,
		UpstreamURL: "https://other.example.com",
		TempDir:     "/var/tmp/up",
		LogLevel:    "debug",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 4000)
	}
	if cfg.Upstream.BaseURL != "https://other.example.com" {
		t.Errorf("Upstream.BaseURL = %q (CLI override)", cfg.Upstream.BaseURL)
	}
	if cfg.Upload.TempDir != "/var/tmp/up" {
		t.Errorf("Upload.TempDir = %q (CLI override)", cfg.Upload.TempDir)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name:    "missing upstream",
			data:    `[server]` + "\nport = 80\n",
			wantErr: "upstream.base_url is required",
		},
		{
			name:    "ftp upstream",
			data:    "[upstream]\nbase_url = \"ftp://orchestrator.local\"\n",
			wantErr: "http or https",
		},
		{
			name:    "negative port",
			data:    minimalConfig + "[server]\nport = -1\n",
			wantErr: "server.port",
		},
		{
			name:    "negative body limit",
			data:    minimalConfig + "[server]\nbody_max_bytes = -1\n",
			wantErr: "server.body_max_bytes",
		},
		{
			name:    "negative timeout",
			data:    "[upstream]\nbase_url = \"http://orchestrator.local\"\ntimeout_seconds = -5\n",
			wantErr: "upstream.timeout_seconds",
		},
		{
			name:    "extension without dot",
			data:    minimalConfig + "[upload]\nallowed_extensions = [\"pdf\"]\n",
			wantErr: "upload.allowed_extensions",
		},
		{
			name:    "unknown session backend",
			data:    minimalConfig + "[session]\nenabled = true\nbackend = \"memcached\"\n",
			wantErr: "session.backend",
		},
		{
			name:    "redis without addr",
			data:    minimalConfig + "[session]\nenabled = true\nbackend = \"redis\"\n",
			wantErr: "session.redis.addr",
		},
		{
			name:    "invalid log level",
			data:    minimalConfig + "[log]\nlevel = \"verbose\"\n",
			wantErr: "log.level",
		},
		{
			name:    "invalid log format",
			data:    minimalConfig + "[log]\nformat = \"xml\"\n",
			wantErr: "log.format",
		},
		{
			name:    "rate limit without rps",
			data:    minimalConfig + "[server.rate_limit]\nenabled = true\nrequests_per_second = 0\n",
			wantErr: "requests_per_second",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(cliWithPath(writeConfig(t, tt.data)))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_RedisSessionBackend(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[session]
enabled = true
backend = "Redis"

[session.redis]
addr = "localhost:6379"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.Backend != "redis" {
		t.Errorf("Session.Backend = %q, want %q", cfg.Session.Backend, "redis")
	}
	if cfg.Session.Redis.KeyPrefix != "docfolder:" {
		t.Errorf("Session.Redis.KeyPrefix = %q, want default", cfg.Session.Redis.KeyPrefix)
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, minimalConfig+`
[server.rate_limit]
enabled = true
requests_per_second = 50.0
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("RateLimit.Enabled should be true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 50.0 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want 50.0", cfg.Server.RateLimit.RequestsPerSecond)
	}
}

func TestLoad_MetricsPathConflictsWithRoute(t *testing.T) {
	for _, p := range []string{"/auth", "/documents/metrics", "/operators", "/healthz"} {
		t.Run(p, func(t *testing.T) {
			path := writeConfig(t, minimalConfig+"[metrics]\nenabled = true\npath = \""+p+"\"\n")
			_, err := Load(cliWithPath(path))
			if err == nil {
				t.Fatalf("Load() expected error for metrics.path %q, got nil", p)
			}
			if !strings.Contains(err.Error(), "conflicts") {
				t.Errorf("error = %q, want mention of conflict", err)
			}
		})
	}
}

func TestLoad_MetricsDisabledSkipsPathValidation(t *testing.T) {
	path := writeConfig(t, minimalConfig+"[metrics]\nenabled = false\npath = \"no-slash\"\n")
	if _, err := Load(cliWithPath(path)); err != nil {
		t.Fatalf("Load() error = %v; path validation should be skipped when metrics are disabled", err)
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permissions are not enforced on Windows")
	}
	path := writeConfig(t, minimalConfig+"[session.redis]\npassword = \"secret\"\n")
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	var buf bytes.Buffer
	cfg.WarnPermissions(slog.New(slog.NewTextHandler(&buf, nil)))
	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_NoSecret(t *testing.T) {
	path := writeConfig(t, minimalConfig)
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	var buf bytes.Buffer
	cfg.WarnPermissions(slog.New(slog.NewTextHandler(&buf, nil)))
	if buf.Len() != 0 {
		t.Errorf("expected no warning without secrets, got: %q", buf.String())
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	dir := t.TempDir()
	path1 := filepath.Join(dir, "first.toml")
	path2 := filepath.Join(dir, "second.toml")
	for _, p := range []string{path1, path2} {
		if err := os.WriteFile(p, []byte(""), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	if got := findConfigInPaths([]string{"/nonexistent.toml", path1, path2}); got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
	if got := findConfigInPaths([]string{"/nonexistent.toml"}); got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
