package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/nugget/relay/internal/llm"
	"github.com/nugget/relay/internal/state"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) state.Store {
	t.Helper()
	s, err := state.NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type brokenStore struct{ state.Store }

func (brokenStore) Get(context.Context, string, string) (string, error) {
	return "", errors.New("permission denied")
}

// flakyStore fails reads while down is set.
type flakyStore struct {
	state.Store
	down bool
}

func (f *flakyStore) Get(ctx context.Context, ns, key string) (string, error) {
	if f.down {
		return "", errors.New("database is locked")
	}
	return f.Store.Get(ctx, ns, key)
}

func TestHistory_LoadEmpty(t *testing.T) {
	h := NewHistory(testStore(t), discardLogger())
	if got := h.Load(context.Background(), "+1555"); len(got) != 0 {
		t.Errorf("Load on new conversation = %v, want empty", got)
	}
}

func TestHistory_AppendOrder(t *testing.T) {
	ctx := context.Background()
	h := NewHistory(testStore(t), discardLogger())

	h.Append(ctx, "c", "hola", "¡Hola!")
	h.Append(ctx, "c", "¿qué tal?", "Bien.")

	got := h.Load(ctx, "c")
	want := []llm.Message{
		{Role: llm.RoleUser, Content: "hola"},
		{Role: llm.RoleAssistant, Content: "¡Hola!"},
		{Role: llm.RoleUser, Content: "¿qué tal?"},
		{Role: llm.RoleAssistant, Content: "Bien."},
	}
	if len(got) != len(want) {
		t.Fatalf("Load = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("turn %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestHistory_Cap(t *testing.T) {
	ctx := context.Background()
	h := NewHistory(testStore(t), discardLogger())

	for i := range 15 {
		if err := h.Append(ctx, "c", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		got := h.Load(ctx, "c")
		if len(got) > HistoryLimit {
			t.Fatalf("after %d appends len = %d", i+1, len(got))
		}
		last := got[len(got)-2:]
		if last[0].Content != fmt.Sprintf("q%d", i) || last[1].Content != fmt.Sprintf("a%d", i) {
			t.Errorf("history does not end with latest pair: %v", last)
		}
	}

	got := h.Load(ctx, "c")
	if len(got) != HistoryLimit {
		t.Errorf("len = %d, want %d", len(got), HistoryLimit)
	}
	if got[0].Content != "q5" || got[0].Role != llm.RoleUser {
		t.Errorf("oldest kept = %+v, want user q5", got[0])
	}
}

func TestHistory_ClearIdempotent(t *testing.T) {
	ctx := context.Background()
	h := NewHistory(testStore(t), discardLogger())

	if err := h.Clear(ctx, "c"); err != nil {
		t.Fatalf("Clear on empty: %v", err)
	}
	h.Append(ctx, "c", "q", "a")
	if err := h.Clear(ctx, "c"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if got := h.Load(ctx, "c"); len(got) != 0 {
		t.Errorf("Load after Clear = %v", got)
	}
}

func TestHistory_ConversationsIsolated(t *testing.T) {
	ctx := context.Background()
	h := NewHistory(testStore(t), discardLogger())
	h.Append(ctx, "a", "qa", "aa")
	h.Append(ctx, "b", "qb", "ab")
	h.Clear(ctx, "a")

	if got := h.Load(ctx, "b"); len(got) != 2 {
		t.Errorf("conversation b = %v, want untouched", got)
	}
}

func TestHistory_ReadFailureIsEmpty(t *testing.T) {
	h := NewHistory(brokenStore{state.NewMemoryStore()}, discardLogger())
	if got := h.Load(context.Background(), "c"); got != nil {
		t.Errorf("Load with broken store = %v, want nil", got)
	}
}

func TestHistory_AppendKeepsHistoryWhenReadFails(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: state.NewMemoryStore()}
	h := NewHistory(store, discardLogger())

	for i := range 5 {
		if err := h.Append(ctx, "c", fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i)); err != nil {
			t.Fatal(err)
		}
	}

	store.down = true
	if err := h.Append(ctx, "c", "q5", "a5"); err == nil {
		t.Error("Append with unreadable history should fail")
	}

	store.down = false
	got := h.Load(ctx, "c")
	if len(got) != 10 {
		t.Fatalf("history length after read failure = %d, want 10", len(got))
	}
	if got[0].Content != "q0" || got[9].Content != "a4" {
		t.Errorf("history changed: first %q, last %q", got[0].Content, got[9].Content)
	}
}

func TestHistory_CorruptRecordIsEmpty(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	store.Set(ctx, HistoryNamespace, "c", "not json")
	h := NewHistory(store, discardLogger())

	if got := h.Load(ctx, "c"); got != nil {
		t.Errorf("Load corrupt = %v", got)
	}
	if err := h.Append(ctx, "c", "q", "a"); err != nil {
		t.Fatalf("Append over corrupt record: %v", err)
	}
	if got := h.Load(ctx, "c"); len(got) != 2 {
		t.Errorf("Load after repair = %v", got)
	}
}

func TestRecord_StateExclusivity(t *testing.T) {
	var r Record
	if r.AwaitingModelChoice() {
		t.Fatal("zero record awaiting")
	}

	r.BeginModelChoice(nil)
	if r.AwaitingModelChoice() || r.State != "" {
		t.Errorf("empty list entered awaiting state: %+v", r)
	}

	r.BeginModelChoice([]ModelChoice{{ID: "v1", Name: "Laura"}, {ID: "v2", Name: "Diego"}})
	if !r.AwaitingModelChoice() || len(r.AvailableModels) != 2 {
		t.Errorf("BeginModelChoice: %+v", r)
	}

	if c, ok := r.Choice(2); !ok || c.ID != "v2" {
		t.Errorf("Choice(2) = %+v, %v", c, ok)
	}
	for _, n := range []int{0, 3, -1} {
		if _, ok := r.Choice(n); ok {
			t.Errorf("Choice(%d) resolved", n)
		}
	}

	r.EndModelChoice()
	if r.AwaitingModelChoice() || r.State != "" || r.AvailableModels != nil {
		t.Errorf("EndModelChoice: %+v", r)
	}
}

func TestPreferences_RoundTripKeepsTTSModel(t *testing.T) {
	ctx := context.Background()
	p := NewPreferences(testStore(t), discardLogger())

	rec := p.Load(ctx, "c")
	rec.TTSModel = "es_ES-davefx"
	rec.BeginModelChoice([]ModelChoice{{ID: "x", Name: "X"}})
	if err := p.Save(ctx, "c", rec); err != nil {
		t.Fatal(err)
	}

	got := p.Load(ctx, "c")
	if got.TTSModel != "es_ES-davefx" || !got.AwaitingModelChoice() {
		t.Errorf("Load = %+v", got)
	}
}

func TestPreferences_WireFormat(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	p := NewPreferences(store, discardLogger())

	p.Save(ctx, "c", Record{TTSModel: "v"})
	raw, _ := store.Get(ctx, PreferencesNamespace, "c")
	if raw != `{"tts_model":"v"}` {
		t.Errorf("idle record = %s", raw)
	}
}

func TestPreferences_NormalizesBrokenInvariant(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	store.Set(ctx, PreferencesNamespace, "c", `{"tts_model":"v","state":"awaiting_model_choice"}`)

	got := NewPreferences(store, discardLogger()).Load(ctx, "c")
	if got.AwaitingModelChoice() || got.State != "" {
		t.Errorf("awaiting without models not normalized: %+v", got)
	}
	if got.TTSModel != "v" {
		t.Errorf("tts_model lost: %+v", got)
	}
}

func TestPreferences_ReadFailureIsDefault(t *testing.T) {
	p := NewPreferences(brokenStore{state.NewMemoryStore()}, discardLogger())
	if got := p.Load(context.Background(), "c"); got.TTSModel != "" || got.State != "" {
		t.Errorf("Load = %+v, want zero", got)
	}
}

func TestPreferences_ReadReportsStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: state.NewMemoryStore()}
	p := NewPreferences(store, discardLogger())
	if err := p.Save(ctx, "c", Record{TTSModel: "es-laura"}); err != nil {
		t.Fatal(err)
	}

	store.down = true
	if _, err := p.Read(ctx, "c"); err == nil {
		t.Error("Read with unreadable store should fail")
	}

	store.down = false
	rec, err := p.Read(ctx, "c")
	if err != nil || rec.TTSModel != "es-laura" {
		t.Errorf("Read = %+v, %v", rec, err)
	}
}

func TestPreferences_ReadCorruptIsDefault(t *testing.T) {
	ctx := context.Background()
	store := state.NewMemoryStore()
	store.Set(ctx, PreferencesNamespace, "c", "{broken")

	rec, err := NewPreferences(store, discardLogger()).Read(ctx, "c")
	if err != nil {
		t.Fatalf("Read corrupt: %v", err)
	}
	if rec.TTSModel != "" || rec.State != "" {
		t.Errorf("Read corrupt = %+v, want zero", rec)
	}
}
