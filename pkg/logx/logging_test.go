package logx

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	kit "crouswatch/internal/transport"
)

func TestNopAndZeroLoggerNeverPanic(t *testing.T) {
	t.Parallel()
	var zero Logger
	if !zero.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	zero.Info("dropped", String("k", "v"))
	Nop().With(String("comp", "test")).Error("dropped", Err(errors.New("boom")))
	if Nop().IsZero() {
		t.Fatalf("Nop should not be zero")
	}
}

func TestWriterLoggerKeepsFixedAndCallFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "engine"))
	log.Info("cycle done", Int("new", 2), Err(nil))

	line := buf.String()
	for _, want := range []string{`"comp":"engine"`, `"new":2`, `"message":"cycle done"`, `"caller":"logging_test.go:`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line %q missing %s", line, want)
		}
	}
	if strings.Contains(line, `"err"`) {
		t.Fatalf("nil error should not be rendered: %s", line)
	}
}

func TestEnabledRespectsLevel(t *testing.T) {
	t.Parallel()
	log := NewWriter(&bytes.Buffer{}, "warn")
	if log.Enabled(LevelInfo) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !log.Enabled(LevelError) {
		t.Fatalf("error should be enabled at warn level")
	}
}

func TestRenderLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "fields sorted and escaped",
			in:   `{"level":"warn","message":"fetch <failed>","zeta":1,"alpha":"a&b","time":"t"}` + "\n",
			want: "⚠️ <b>WARN fetch &lt;failed&gt;</b>\n<code>alpha</code> a&amp;b\n<code>zeta</code> 1",
		},
		{
			name: "no icon for info",
			in:   `{"level":"info","message":"ok"}`,
			want: "<b>INFO ok</b>",
		},
		{
			name: "not json",
			in:   "plain <text>",
			want: "plain &lt;text&gt;",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := renderLine([]byte(tt.in)); got != tt.want {
				t.Fatalf("renderLine = %q, want %q", got, tt.want)
			}
		})
	}
}

type recordingSender struct{ texts chan string }

func (r *recordingSender) SendText(_ context.Context, _ kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil || opt.ParseMode != "HTML" {
		text = "bad parse mode: " + text
	}
	r.texts <- text
	return kit.MessageRef{}, nil
}

func TestTelegramSinkFiltersByLevel(t *testing.T) {
	sender := &recordingSender{texts: make(chan string, 4)}
	svc, log := New(Config{Level: "debug", Telegram: TelegramConfig{Enabled: true, ChatID: 42, MinLevel: "warn", RatePerSec: 10}}, sender)
	defer svc.Close()

	log.Info("quiet")
	log.Error("loud")

	select {
	case got := <-sender.texts:
		if !strings.HasPrefix(got, "🛑 <b>ERROR loud</b>") {
			t.Fatalf("unexpected telegram log %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no telegram log sent")
	}
	select {
	case extra := <-sender.texts:
		t.Fatalf("unexpected extra message %q", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestApplyKeepsAndSwitchesLogFile(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.log")
	second := filepath.Join(dir, "b.log")

	svc, log := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}}, nil)
	defer svc.Close()
	log.Info("one")
	svc.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}})
	log.Info("two")
	svc.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: second}})
	log.Info("three")
	log.Debug("hidden")

	a, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("read %s: %v", first, err)
	}
	if !strings.Contains(string(a), `"one"`) || !strings.Contains(string(a), `"two"`) || strings.Contains(string(a), `"three"`) {
		t.Fatalf("first file = %s", a)
	}
	b, err := os.ReadFile(second)
	if err != nil {
		t.Fatalf("read %s: %v", second, err)
	}
	if !strings.Contains(string(b), `"three"`) || strings.Contains(string(b), "hidden") {
		t.Fatalf("second file = %s", b)
	}
}

func TestParseLevelDefaults(t *testing.T) {
	t.Parallel()
	if parseLevel("nonsense", zerolog.WarnLevel) != zerolog.WarnLevel {
		t.Fatalf("unknown level should fall back to default")
	}
	if parseLevel(" WARNING ", zerolog.InfoLevel) != zerolog.WarnLevel {
		t.Fatalf("WARNING alias not recognised")
	}
}
