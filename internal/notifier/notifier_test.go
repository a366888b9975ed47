package notifier

import (
	"bufio"
	"context"
	"errors"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"crouswatch/internal/eventbus"
	"crouswatch/internal/listing"
	"crouswatch/internal/storage"
	kit "crouswatch/internal/transport"
	"crouswatch/internal/watch"
	"crouswatch/pkg/logx"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sample(kind watch.Kind) watch.Notification {
	return watch.Notification{
		CycleID: "cycle-1",
		Kind:    kind,
		At:      at,
		Listing: watch.Tracked{
			ID: "Studio_12m_1_Rue_A",
			Record: listing.Record{
				Title:   "Studio <12m²>",
				Address: "1 Rue A",
				Price:   "300 €",
				Details: []string{"Individuel", "12 m²"},
				Link:    "https://trouverunlogement.lescrous.fr/tools/41/accommodations/7",
			},
		},
	}
}

type fakeChannel struct {
	name string
	err  error

	mu   sync.Mutex
	sent []watch.Notification
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(ctx context.Context, n watch.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return f.err
}

func TestHeadline(t *testing.T) {
	t.Parallel()
	rem := sample(watch.KindReminder)
	rem.LastNotifiedAt = at.Add(-15 * time.Minute)
	tests := []struct {
		name string
		n    watch.Notification
		want string
	}{
		{name: "new", n: sample(watch.KindNew), want: "🆕 NOUVEAU LOGEMENT CROUS"},
		{name: "reminder with elapsed", n: rem, want: "🔔 RAPPEL LOGEMENT CROUS (il y a 15 min)"},
		{name: "reminder never notified", n: sample(watch.KindReminder), want: "🔔 RAPPEL LOGEMENT CROUS"},
		{name: "disappeared", n: sample(watch.KindDisappeared), want: "🚪 LOGEMENT RETIRÉ"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Headline(tt.n); got != tt.want {
				t.Fatalf("Headline = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTelegramTextEscapesAndDerives(t *testing.T) {
	t.Parallel()
	got := TelegramText(sample(watch.KindNew))
	for _, want := range []string{
		"<b>🆕 NOUVEAU LOGEMENT CROUS</b>",
		"🏠 Studio &lt;12m²&gt;",
		"📐 12 m²",
		"🏷️ Individuel",
		"🔧 Équipements voir détail",
		`🔗 <a href="https://trouverunlogement.lescrous.fr/tools/41/accommodations/7">`,
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("message missing %q:\n%s", want, got)
		}
	}
}

func TestEmailBodies(t *testing.T) {
	t.Parallel()
	htmlBody, textBody := EmailBodies(sample(watch.KindNew), "Lyon")
	if !strings.Contains(htmlBody, "<h2>🎉 Nouveau logement disponible dans Lyon !</h2>") {
		t.Fatalf("html heading: %s", htmlBody)
	}
	if !strings.Contains(htmlBody, "Voir sur le site CROUS") || !strings.Contains(textBody, "🔗 https://") {
		t.Fatalf("link missing")
	}
	if strings.Contains(textBody, "&lt;") {
		t.Fatalf("plain text must not be escaped: %s", textBody)
	}
	if got := Subject(sample(watch.KindReminder)); got != "🔔 RAPPEL logement CROUS: Studio <12m²>" {
		t.Fatalf("Subject = %q", got)
	}
}

func TestDispatchAllChannelsAndJoinErrors(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "j.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	defer st.Close()

	ok := &fakeChannel{name: "telegram"}
	bad := &fakeChannel{name: "email", err: errors.New("smtp down")}
	s := New(Config{RatePerSec: 100}, logx.Nop(), bus, st, ok, bad)

	err = s.Dispatch(context.Background(), sample(watch.KindNew))
	if err == nil || !strings.Contains(err.Error(), "email: smtp down") {
		t.Fatalf("err = %v", err)
	}
	if len(ok.sent) != 1 || len(bad.sent) != 1 {
		t.Fatalf("every channel must be tried: ok=%d bad=%d", len(ok.sent), len(bad.sent))
	}

	h := s.History(0)
	if len(h) != 2 || h[0].Channel != "email" || h[0].OK || !h[1].OK {
		t.Fatalf("history = %+v", h)
	}
	journal, err := st.RecentDeliveries(context.Background(), 10)
	if err != nil || len(journal) != 2 || journal[0].CycleID != "cycle-1" {
		t.Fatalf("journal = %+v, %v", journal, err)
	}

	want := []string{eventbus.NotifySent, eventbus.NotifyFailed}
	for _, typ := range want {
		select {
		case ev := <-events:
			if ev.Type != typ {
				t.Fatalf("event = %q, want %q", ev.Type, typ)
			}
			if de, _ := ev.Data.(DeliveryEvent); de.Kind != watch.KindNew {
				t.Fatalf("event data = %+v", ev.Data)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing %q", typ)
		}
	}
}

func TestDispatchWithoutChannels(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop(), nil, nil)
	if err := s.Dispatch(context.Background(), sample(watch.KindNew)); !errors.Is(err, ErrNoChannels) {
		t.Fatalf("err = %v, want ErrNoChannels", err)
	}
	s.SetChannels(&fakeChannel{name: "telegram"})
	if err := s.Dispatch(context.Background(), sample(watch.KindNew)); err != nil {
		t.Fatalf("err = %v", err)
	}
	if got := s.Channels(); len(got) != 1 || got[0] != "telegram" {
		t.Fatalf("Channels = %v", got)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	t.Parallel()
	s := New(Config{RatePerSec: 1000, HistorySize: 3}, logx.Nop(), nil, nil, &fakeChannel{name: "telegram"})
	for i := 0; i < 5; i++ {
		n := sample(watch.KindNew)
		n.CycleID = strconv.Itoa(i)
		if err := s.Dispatch(context.Background(), n); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}
	h := s.History(0)
	if len(h) != 3 || h[0].CycleID != "4" || h[2].CycleID != "2" {
		t.Fatalf("history = %+v", h)
	}
	if got := s.History(1); len(got) != 1 {
		t.Fatalf("History(1) = %d items", len(got))
	}
}

type recordingSender struct {
	to   kit.ChatTarget
	text string
	opt  *kit.SendOptions
}

func (r *recordingSender) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	r.to, r.text, r.opt = to, text, opt
	return kit.MessageRef{}, nil
}

func TestTelegramChannel(t *testing.T) {
	t.Parallel()
	rs := &recordingSender{}
	ch := NewTelegramChannel(rs, kit.ChatTarget{ChatID: 42, ThreadID: 7})
	if err := ch.Send(context.Background(), sample(watch.KindNew)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if rs.to.ChatID != 42 || rs.to.ThreadID != 7 || rs.opt == nil || rs.opt.ParseMode != "HTML" {
		t.Fatalf("sent to %+v with %+v", rs.to, rs.opt)
	}
	if err := NewTelegramChannel(rs, kit.ChatTarget{}).Send(context.Background(), sample(watch.KindNew)); err == nil {
		t.Fatalf("expected error without chat id")
	}
}

// fakeSMTP accepts one plain SMTP session and returns the DATA payload.
func fakeSMTP(t *testing.T) (addr string, data <-chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }
		reply("220 localhost ready")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 localhost")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				reply("250 ok")
			case cmd == "DATA":
				reply("354 go ahead")
				var b strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					b.WriteString(l)
				}
				out <- b.String()
				reply("250 queued")
			case cmd == "QUIT":
				reply("221 bye")
				return
			default:
				reply("250 ok")
			}
		}
	}()
	return ln.Addr().String(), out
}

func TestEmailChannelSendsMultipart(t *testing.T) {
	t.Parallel()
	addr, data := fakeSMTP(t)
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)

	ch := NewEmailChannel(EmailConfig{
		Host:     host,
		Port:     port,
		TLS:      "none",
		From:     "bot@example.org",
		FromName: "CROUS Watch",
		To:       []string{"student@example.org"},
	}, func() string { return "Lyon" })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ch.Send(ctx, sample(watch.KindNew)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case msg := <-data:
		for _, want := range []string{
			"To: student@example.org",
			"Subject: =?utf-8?q?",
			"multipart/alternative",
			"text/plain; charset=\"UTF-8\"",
			"text/html; charset=\"UTF-8\"",
			"dans Lyon",
		} {
			if !strings.Contains(msg, want) {
				t.Fatalf("message missing %q:\n%s", want, msg)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no DATA received")
	}
}

func TestEmailConfigEnabled(t *testing.T) {
	t.Parallel()
	if (EmailConfig{Host: "smtp", From: "a@b"}).Enabled() {
		t.Fatalf("no recipients must disable email")
	}
	if !(EmailConfig{Host: "smtp", From: "a@b", To: []string{"c@d"}}).Enabled() {
		t.Fatalf("complete config must enable email")
	}
	if err := NewEmailChannel(EmailConfig{}, nil).Send(context.Background(), sample(watch.KindNew)); err == nil {
		t.Fatalf("expected error for unconfigured channel")
	}
}
