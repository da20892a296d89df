package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestFindConfig_Explicit(t *testing.T) {
	path := writeConfig(t, "log_level: debug\n")

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("data_dir: x\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("RELAY_TEST_LLM_KEY", "secret123")
	path := writeConfig(t, "llm:\n  api_key: ${RELAY_TEST_LLM_KEY}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.LLM.APIKey != "secret123" {
		t.Errorf("api_key = %q, want %q", cfg.LLM.APIKey, "secret123")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "data_dir: /var/lib/relay\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.LLM.Model != "models/gemini-1.5-pro-latest" {
		t.Errorf("llm.model = %q", cfg.LLM.Model)
	}
	if cfg.State.Path != filepath.Join("/var/lib/relay", "relay.db") {
		t.Errorf("state.path = %q", cfg.State.Path)
	}
	if cfg.Search.MaxResults != 5 || cfg.Search.Depth != "advanced" {
		t.Errorf("search defaults = %+v", cfg.Search)
	}
	if cfg.TTS.Timeout != time.Hour {
		t.Errorf("tts.timeout = %v, want 1h", cfg.TTS.Timeout)
	}
	if cfg.TTS.Configured() {
		t.Error("tts should not be configured without base_url and token")
	}
}

func TestKeyList(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{"pipe separated", "search:\n  api_keys: \"k1| k2 ||k3 \"\n", []string{"k1", "k2", "k3"}},
		{"sequence", "search:\n  api_keys:\n    - k1\n    - \" \"\n    - k2\n", []string{"k1", "k2"}},
		{"empty string", "search:\n  api_keys: \"\"\n", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.body))
			if err != nil {
				t.Fatalf("Load error: %v", err)
			}
			if len(cfg.Search.APIKeys) != len(tt.want) {
				t.Fatalf("api_keys = %q, want %q", cfg.Search.APIKeys, tt.want)
			}
			for i := range tt.want {
				if cfg.Search.APIKeys[i] != tt.want[i] {
					t.Errorf("api_keys[%d] = %q, want %q", i, cfg.Search.APIKeys[i], tt.want[i])
				}
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("RELAY_TEST_DOTENV=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RELAY_TEST_DOTENV", "")
	os.Unsetenv("RELAY_TEST_DOTENV")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv error: %v", err)
	}
	if got := os.Getenv("RELAY_TEST_DOTENV"); got != "from-file" {
		t.Errorf("RELAY_TEST_DOTENV = %q, want from-file", got)
	}

	if err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.LLM.APIKey = "k"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults with key", func(*Config) {}, false},
		{"missing llm key", func(c *Config) { c.LLM.APIKey = "" }, true},
		{"ollama needs no key", func(c *Config) { c.LLM.Provider = "ollama"; c.LLM.APIKey = "" }, false},
		{"unknown llm provider", func(c *Config) { c.LLM.Provider = "bard" }, true},
		{"unknown state driver", func(c *Config) { c.State.Driver = "etcd" }, true},
		{"redis without addr", func(c *Config) { c.State.Driver = "redis" }, true},
		{"redis with addr", func(c *Config) { c.State.Driver = "redis"; c.State.Redis.Addr = "localhost:6379" }, false},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"bad search provider", func(c *Config) { c.Search.Provider = "bing" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSignalCommandArgs(t *testing.T) {
	c := SignalConfig{Account: "+15550001111"}
	got := c.CommandArgs()
	want := []string{"-a", "+15550001111", "jsonRpc"}
	if len(got) != len(want) {
		t.Fatalf("CommandArgs() = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("CommandArgs()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	c.Args = []string{"--config", "/srv/signal", "jsonRpc"}
	if got := c.CommandArgs(); got[0] != "--config" {
		t.Errorf("explicit args not used: %q", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		err  bool
	}{
		{"", slog.LevelInfo, false},
		{"TRACE", LevelTrace, false},
		{" debug ", slog.LevelDebug, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.err)
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReplaceLogLevelNames(t *testing.T) {
	a := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, LevelTrace))
	if a.Value.String() != "TRACE" {
		t.Errorf("trace level rendered as %q", a.Value.String())
	}
	b := ReplaceLogLevelNames(nil, slog.Any(slog.LevelKey, slog.LevelInfo))
	if b.Value.Any().(slog.Level) != slog.LevelInfo {
		t.Errorf("info level changed: %v", b.Value)
	}
}
