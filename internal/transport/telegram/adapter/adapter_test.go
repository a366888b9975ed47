package adapter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	kit "crouswatch/internal/transport"
	logx "crouswatch/pkg/logx"
)

func TestChunkText(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("ligne de test\n", 700) // 9800 runes
	tests := []struct {
		name  string
		in    string
		limit int
		wantN int
	}{
		{name: "short", in: "bonjour", limit: 10, wantN: 1},
		{name: "exact", in: "0123456789", limit: 10, wantN: 1},
		{name: "hard cut", in: strings.Repeat("x", 25), limit: 10, wantN: 3},
		{name: "multibyte hard cut", in: strings.Repeat("é", 15), limit: 10, wantN: 2},
		{name: "line packing", in: long, limit: telegramTextLimit, wantN: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := chunkText(tt.in, tt.limit)
			if len(got) != tt.wantN {
				t.Fatalf("chunks = %d, want %d", len(got), tt.wantN)
			}
			for _, c := range got {
				if utf8.RuneCountInString(c) > tt.limit {
					t.Fatalf("chunk too long: %d runes", utf8.RuneCountInString(c))
				}
			}
		})
	}
}

func TestChunkTextKeepsLinesWhole(t *testing.T) {
	t.Parallel()
	in := "<b>titre</b>\n<i>ligne deux</i>\nfin"
	got := chunkText(in, 20)
	want := []string{"<b>titre</b>", "<i>ligne deux</i>", "fin"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("chunks = %q, want %q", got, want)
	}
}

// fakeBotAPI answers sendMessage and records the decoded requests.
type fakeBotAPI struct {
	mu    sync.Mutex
	sent  []map[string]any
	paths []string
}

func (f *fakeBotAPI) calls(suffix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.paths {
		if strings.HasSuffix(p, suffix) {
			n++
		}
	}
	return n
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		f.mu.Lock()
		f.sent = append(f.sent, req)
		id := len(f.sent)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": map[string]any{
				"message_id": id,
				"date":       0,
				"chat":       map[string]any{"id": 42, "type": "private"},
				"text":       req["text"],
			},
		})
	case strings.HasSuffix(r.URL.Path, "/setMyCommands"):
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	default:
		_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
	}
}

func newTestAdapter(t *testing.T) (*Adapter, *fakeBotAPI) {
	t.Helper()
	api := &fakeBotAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	a, err := New(Config{Token: "123:abc", APIURL: srv.URL, Offline: true}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, api
}

func TestSendTextSplitsLongMessages(t *testing.T) {
	t.Parallel()
	a, api := newTestAdapter(t)

	text := strings.Repeat("x", telegramTextLimit+10)
	ref, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 42, ThreadID: 3}, text, &kit.SendOptions{ParseMode: "HTML"})
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if ref.MessageID != 1 || ref.ChatID != 42 || ref.ThreadID != 3 {
		t.Fatalf("ref = %+v", ref)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.sent) != 2 {
		t.Fatalf("sendMessage calls = %d, want 2", len(api.sent))
	}
	if api.sent[0]["parse_mode"] != "HTML" {
		t.Fatalf("parse_mode = %v", api.sent[0]["parse_mode"])
	}
}

func TestSendTextHonoursContext(t *testing.T) {
	t.Parallel()
	a, api := newTestAdapter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.SendText(ctx, kit.ChatTarget{ChatID: 42}, "hi", nil); err == nil {
		t.Fatalf("expected context error")
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.sent) != 0 {
		t.Fatalf("nothing must be sent after cancel")
	}
}

func TestUpdatesAreForwardedOrDropped(t *testing.T) {
	t.Parallel()
	a, _ := newTestAdapter(t)

	// Not started: no consumer, nothing happens.
	a.forward(kit.Update{Kind: kit.UpdateMessage})

	out := make(chan kit.Update, 1)
	a.mu.Lock()
	a.out = out
	a.mu.Unlock()
	a.forward(kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{Text: "/status"}})
	a.forward(kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{Text: "/check"}})

	if up := <-out; up.Message.Text != "/status" {
		t.Fatalf("update = %+v", up.Message)
	}
	if got := a.dropped.Load(); got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
}

func TestUpdateMenuCommandsSkipsUnchanged(t *testing.T) {
	t.Parallel()
	a, api := newTestAdapter(t)
	cmds := []kit.BotCommand{{Command: "status", Description: "état"}}
	if err := a.UpdateMenuCommands(context.Background(), cmds); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := a.UpdateMenuCommands(context.Background(), cmds); err != nil {
		t.Fatalf("second update: %v", err)
	}
	if got := api.calls("/setMyCommands"); got != 1 {
		t.Fatalf("setMyCommands calls = %d, want 1", got)
	}
	cmds = append(cmds, kit.BotCommand{Command: "check"})
	if err := a.UpdateMenuCommands(context.Background(), cmds); err != nil {
		t.Fatalf("third update: %v", err)
	}
	if got := api.calls("/setMyCommands"); got != 2 {
		t.Fatalf("setMyCommands calls = %d, want 2", got)
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatalf("expected error")
	}
}
