package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/nugget/relay/internal/agent"
	"github.com/nugget/relay/internal/config"
	"github.com/nugget/relay/internal/usage"
)

func TestRun_Version(t *testing.T) {
	var buf bytes.Buffer
	if err := run(context.Background(), &buf, &buf, []string{"version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "relay ") || !strings.Contains(buf.String(), "go_version:") {
		t.Errorf("version output = %q", buf.String())
	}
}

func TestRun_VersionJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := run(context.Background(), &buf, &buf, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(buf.Bytes(), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if info["version"] == "" {
		t.Error("version missing from JSON output")
	}
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var buf bytes.Buffer
		if err := run(context.Background(), &buf, &buf, args); err != nil {
			t.Fatalf("run(%q): %v", args, err)
		}
		if !strings.Contains(buf.String(), "Usage: relay") {
			t.Errorf("run(%q) output = %q", args, buf.String())
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"frobnicate"}, "unknown command"},
		{[]string{"--bogus"}, "unknown flag"},
		{[]string{"-o", "yaml", "version"}, "unknown output format"},
		{[]string{"ask"}, "usage: relay ask"},
		{[]string{"-config", "/nonexistent/relay.yaml", "serve"}, "config file not found"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		err := run(context.Background(), &buf, &buf, tt.args)
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("run(%q) error = %v, want %q", tt.args, err, tt.want)
		}
	}
}

// clearUmask makes file permission assertions deterministic.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func TestRunInit_FreshDirectory(t *testing.T) {
	clearUmask(t)
	dir := filepath.Join(t.TempDir(), "relay")
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	for name, perm := range map[string]os.FileMode{"config.yaml": 0o600, "persona.md": 0o644} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("%s not created: %v", name, err)
		}
		if got := info.Mode().Perm(); got != perm {
			t.Errorf("%s permissions = %o, want %o", name, got, perm)
		}
	}
	if info, err := os.Stat(filepath.Join(dir, "data")); err != nil || !info.IsDir() {
		t.Errorf("data directory not created: %v", err)
	}

	// The example config must load and validate once a key is supplied.
	t.Setenv("GEMINI_API_KEY", "k")
	cfg, err := config.Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("example config does not validate: %v", err)
	}
}

func TestRunInit_KeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	custom := []byte("log_level: debug\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), custom, 0o600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if !bytes.Equal(got, custom) {
		t.Error("existing config.yaml was overwritten")
	}
	if !strings.Contains(buf.String(), "skipped") {
		t.Errorf("output should note the skipped file: %q", buf.String())
	}
}

func TestLinkArgs(t *testing.T) {
	tests := []struct {
		cfg  config.SignalConfig
		want []string
	}{
		{config.SignalConfig{Account: "+1555"}, []string{"jsonRpc"}},
		{config.SignalConfig{Args: []string{"--config", "/srv/sig", "-a", "+1555", "jsonRpc"}}, []string{"--config", "/srv/sig", "jsonRpc"}},
	}
	for _, tt := range tests {
		got := linkArgs(tt.cfg)
		if strings.Join(got, " ") != strings.Join(tt.want, " ") {
			t.Errorf("linkArgs(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}

func TestRenderQR(t *testing.T) {
	qr, err := renderQR("sgnl://linkdevice?uuid=abc&pub_key=xyz")
	if err != nil {
		t.Fatalf("renderQR: %v", err)
	}
	if lines := strings.Count(qr, "\n"); lines < 10 {
		t.Errorf("QR code has %d lines, want a full code", lines)
	}
}

func TestStateConfig(t *testing.T) {
	got := stateConfig(config.StateConfig{
		Driver: "redis",
		Path:   "/x.db",
		Redis:  config.RedisConfig{Addr: "r:6379", Password: "p", DB: 2, Prefix: "relay:"},
	})
	if got.Driver != "redis" || got.RedisAddr != "r:6379" || got.RedisPassword != "p" || got.RedisDB != 2 || got.RedisPrefix != "relay:" || got.Path != "/x.db" {
		t.Errorf("stateConfig = %+v", got)
	}
}

func TestConsoleOutbox(t *testing.T) {
	var buf bytes.Buffer
	var out agent.Outbox = &consoleOutbox{w: &buf}
	ctx := context.Background()

	h, _ := out.Send(ctx, "cli", "✍️ Buscando: clima")
	_ = out.Edit(ctx, "cli", h, "Hace sol.")
	_ = out.SendAudio(ctx, "cli", agent.Audio{Data: []byte("abc"), MIMEType: "audio/mpeg"})

	want := "[1] ✍️ Buscando: clima\n[1, edited] Hace sol.\n[audio] audio/mpeg, 3 bytes\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}

func TestUsageReport(t *testing.T) {
	store, err := usage.NewStore(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now()
	for _, r := range []usage.Record{
		{Timestamp: now.Add(-time.Hour), ConversationID: "c1", Model: "gemini", Provider: "openai", InputTokens: 100, OutputTokens: 10, Attempt: 1, Kind: usage.KindSearch},
		{Timestamp: now.Add(-time.Hour), ConversationID: "c1", Model: "gemini", Provider: "openai", InputTokens: 300, OutputTokens: 50, Attempt: 2, Kind: usage.KindAnswer},
		{Timestamp: now.Add(-48 * time.Hour), ConversationID: "c2", Model: "old", Provider: "openai", InputTokens: 1, OutputTokens: 1, Attempt: 1, Kind: usage.KindAnswer},
	} {
		if err := store.Record(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	rep, err := buildUsageReport(store, now.Add(-24*time.Hour), now.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if rep.Total.TotalRecords != 2 || rep.Total.TotalInputTokens != 400 || rep.Total.TotalOutputTokens != 60 {
		t.Errorf("total = %+v", rep.Total)
	}
	if _, ok := rep.ByModel["old"]; ok {
		t.Error("record outside the window counted")
	}
	if rep.ByKind[usage.KindSearch] == nil || rep.ByKind[usage.KindAnswer] == nil {
		t.Errorf("by kind = %v", rep.ByKind)
	}

	var buf bytes.Buffer
	writeUsageReport(&buf, rep)
	for _, want := range []string{"total", "By model:", "gemini", "By kind:", "search", "answer"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("report missing %q:\n%s", want, buf.String())
		}
	}
}

// chatServer answers every chat completion with reply.
func chatServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","created":1,"model":"test-model",`+
			`"choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}],`+
			`"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeTestConfig(t *testing.T, llmURL string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`data_dir: %s
log_level: error
state:
  driver: sqlite
llm:
  provider: openai
  base_url: %s
  api_key: test-key
  model: test-model
`, filepath.Join(dir, "data"), llmURL)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path, dir
}

func TestRunAsk_EndToEnd(t *testing.T) {
	srv := chatServer(t, "**Hola**, ¿en qué te ayudo?")
	cfgPath, dir := writeTestConfig(t, srv.URL)

	var buf bytes.Buffer
	if err := run(context.Background(), &buf, &buf, []string{"-config", cfgPath, "ask", "hola"}); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(buf.String(), "[1] Hola, ¿en qué te ayudo?") {
		t.Errorf("ask output = %q", buf.String())
	}

	// History persisted in SQLite is cleared by a second invocation.
	buf.Reset()
	if err := run(context.Background(), &buf, &buf, []string{"-config", cfgPath, "ask", "/clear"}); err != nil {
		t.Fatalf("ask /clear: %v", err)
	}
	if !strings.Contains(buf.String(), "historial de conversación ha sido eliminado") {
		t.Errorf("clear output = %q", buf.String())
	}

	// Usage was recorded for the model call.
	buf.Reset()
	if err := run(context.Background(), &buf, &buf, []string{"-config", cfgPath, "-o", "json", "usage"}); err != nil {
		t.Fatalf("usage: %v", err)
	}
	var rep struct {
		Total usage.Summary `json:"total"`
	}
	if err := json.Unmarshal(buf.Bytes(), &rep); err != nil {
		t.Fatalf("usage output: %v\n%s", err, buf.String())
	}
	if rep.Total.TotalRecords != 1 || rep.Total.TotalInputTokens != 12 {
		t.Errorf("usage total = %+v", rep.Total)
	}

	if _, err := os.Stat(filepath.Join(dir, "data", "relay.db")); err != nil {
		t.Errorf("state database not created: %v", err)
	}
}
