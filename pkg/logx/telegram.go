package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "crouswatch/internal/transport"
	"crouswatch/pkg/tgui"
)

const (
	telegramQueue   = 256
	telegramTimeout = 10 * time.Second
	telegramMaxText = 3500
	telegramMaxVal  = 300
)

// telegramSink is a zerolog.LevelWriter. Writes never block: lines above
// the rate or past a full queue are dropped.
type telegramSink struct {
	sender kit.Sender
	queue  chan telegramLine

	mu       sync.Mutex
	to       kit.ChatTarget
	minLevel zerolog.Level
	limiter  *rate.Limiter

	start  sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

type telegramLine struct {
	to   kit.ChatTarget
	text string
}

func newTelegramSink(sender kit.Sender) *telegramSink {
	return &telegramSink{sender: sender, queue: make(chan telegramLine, telegramQueue)}
}

// configure with a zero ChatID mutes the sink.
func (t *telegramSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	t.mu.Lock()
	t.to = kit.ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID}
	t.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	t.mu.Unlock()

	if cfg.ChatID != 0 && t.sender != nil {
		t.start.Do(t.run)
	}
}

func (t *telegramSink) run() {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go func() {
		defer close(t.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ln := <-t.queue:
				sctx, c := context.WithTimeout(ctx, telegramTimeout)
				_, _ = t.sender.SendText(sctx, ln.to, ln.text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
				c()
			}
		}
	}()
}

func (t *telegramSink) stop() {
	t.start.Do(func() {}) // no start after stop; also orders the read of cancel
	if t.cancel != nil {
		t.cancel()
		<-t.done
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.InfoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	to, minLevel, lim := t.to, t.minLevel, t.limiter
	t.mu.Unlock()

	if to.ChatID == 0 || level < minLevel || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	select {
	case t.queue <- telegramLine{to: to, text: renderLine(p)}:
	default:
	}
	return len(p), nil
}

var levelIcon = map[string]string{
	"warn":  "⚠️",
	"error": "🛑",
	"fatal": "💀",
	"panic": "💀",
}

// renderLine turns one zerolog JSON line into a short HTML message: level
// and message in bold, then the other fields sorted by key.
func renderLine(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return string(tgui.Esc(tgui.TruncRunes(raw, telegramMaxText)))
	}
	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)
	delete(m, "level")
	delete(m, "message")
	delete(m, "time")

	head := tgui.B(strings.ToUpper(lvl) + " " + msg)
	if icon, ok := levelIcon[lvl]; ok {
		head = tgui.H(icon+" ") + head
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := []tgui.H{head}
	for _, k := range keys {
		v := tgui.TruncRunes(fmt.Sprint(m[k]), telegramMaxVal)
		parts = append(parts, tgui.Code(k)+tgui.H(" ")+tgui.Esc(v))
	}
	out := string(tgui.JoinH("\n", parts...))
	if len([]rune(out)) > telegramMaxText {
		// Cutting HTML could leave an open tag; fall back to the headline.
		return string(head)
	}
	return out
}
