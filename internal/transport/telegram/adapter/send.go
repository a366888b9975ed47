package adapter

import (
	"context"
	"strings"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	kit "crouswatch/internal/transport"
)

// telegramTextLimit stays under the 4096 rune cap of sendMessage.
const telegramTextLimit = 4000

// chunkText packs whole lines into chunks of at most limit runes. A line
// longer than limit is cut on rune boundaries. HTML built by tgui closes
// its tags on the line that opens them, so line packing never splits a tag
// pair.
func chunkText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	if utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}
	var (
		chunks []string
		cur    strings.Builder
		n      int
	)
	flush := func() {
		if n > 0 {
			chunks = append(chunks, strings.TrimRight(cur.String(), "\n"))
		}
		cur.Reset()
		n = 0
	}
	for _, line := range strings.SplitAfter(s, "\n") {
		ln := utf8.RuneCountInString(line)
		if n+ln > limit {
			flush()
		}
		for ln > limit {
			rs := []rune(line)
			chunks = append(chunks, string(rs[:limit]))
			line = string(rs[limit:])
			ln -= limit
		}
		cur.WriteString(line)
		n += ln
	}
	flush()
	return chunks
}

// SendText sends text, split over several messages when needed. The ref
// is the first message.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	var o kit.SendOptions
	if opt != nil {
		o = *opt
	}
	send := &tele.SendOptions{
		ParseMode:             o.ParseMode,
		DisableWebPagePreview: o.DisablePreview,
		ThreadID:              to.ThreadID,
	}
	chat := &tele.Chat{ID: to.ChatID}

	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID}
	for i, part := range chunkText(text, telegramTextLimit) {
		if err := ctx.Err(); err != nil {
			return ref, err
		}
		m, err := a.bot.Send(chat, part, send)
		if err != nil {
			return ref, err
		}
		if i == 0 {
			ref.MessageID = m.ID
		}
	}
	return ref, nil
}
