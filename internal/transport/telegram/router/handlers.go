package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"crouswatch/internal/watch"
	"crouswatch/pkg/tgui"
)

const (
	listingsPerPage = 10
	titleMaxRunes   = 80
	historyDefault = 10
	historyMax     = 50
	timeLayout     = "02/01 15:04:05"
)

func (m *CommandManager) builtinCommands() []Command {
	return []Command{
		{
			Name:        "status",
			Aliases:     []string{"start"},
			Description: "état de la surveillance",
			Access:      AccessEveryone,
			Handle:      m.handleStatus,
		},
		{
			Name:        "listings",
			Aliases:     []string{"logements"},
			Description: "logements actuellement suivis",
			Usage:       "/listings [page]",
			Access:      AccessOwnerOnly,
			Handle:      m.handleListings,
		},
		{
			Name:        "check",
			Description: "lancer une vérification maintenant",
			Access:      AccessOwnerOnly,
			Timeout:     2 * time.Minute,
			Handle:      m.handleCheck,
		},
		{
			Name:        "reset",
			Description: "oublier les logements suivis et les rappels",
			Access:      AccessOwnerOnly,
			Timeout:     2 * time.Minute,
			Handle:      m.handleReset,
		},
		{
			Name:        "history",
			Description: "derniers envois",
			Usage:       "/history [n]",
			Access:      AccessOwnerOnly,
			Handle:      m.handleHistory,
		},
	}
}

func (m *CommandManager) helpCommand() Command {
	return Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "aide",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			m.reply(ctx, req.Chat, m.helpText())
			return nil
		},
	}
}

func (m *CommandManager) helpText() string {
	lines := []string{"📚 <b>Commandes</b>"}
	m.mu.RLock()
	for _, bc := range m.menuLocked() {
		c := m.commands[bc.Command]
		usage := "/" + c.Name
		if c.Usage != "" {
			usage = c.Usage
		}
		prefix := "• "
		if c.Access == AccessOwnerOnly {
			prefix = "• 🔒 "
		}
		lines = append(lines, prefix+string(tgui.Code(usage))+" : "+string(tgui.Esc(c.Description)))
	}
	m.mu.RUnlock()
	return strings.Join(lines, "\n")
}

func (m *CommandManager) handleStatus(ctx context.Context, req *Request) error {
	st := m.ops.Status()
	var b strings.Builder
	fmt.Fprintf(&b, "📊 %s\n", tgui.B(st.Status))
	fmt.Fprintf(&b, "📍 Zone : %s\n", tgui.Esc(st.Zone))
	fmt.Fprintf(&b, "🏠 Logements suivis : %d\n", st.Tracked)
	fmt.Fprintf(&b, "🔔 Rappel toutes les %s\n", tgui.Esc(st.ReminderInterval))
	if st.LastCycle != nil {
		lc := st.LastCycle
		fmt.Fprintf(&b, "🕒 Dernière vérification : %s (%s, %s)\n",
			lc.StartedAt.Local().Format(timeLayout), tgui.Esc(lc.Outcome), lc.Duration.Round(time.Millisecond))
		if lc.Error != "" {
			fmt.Fprintf(&b, "⚠️ %s\n", tgui.Esc(lc.Error))
		}
	} else {
		b.WriteString("🕒 Aucune vérification pour l'instant\n")
	}
	if st.NextCheck != nil {
		fmt.Fprintf(&b, "⏭ Prochaine : %s\n", st.NextCheck.Local().Format(timeLayout))
	}
	if len(st.Channels) > 0 {
		fmt.Fprintf(&b, "📣 Canaux : %s\n", tgui.Esc(strings.Join(st.Channels, ", ")))
	}
	if st.URL != "" {
		fmt.Fprintf(&b, "🔗 %s", tgui.Link("recherche surveillée", st.URL))
	}
	m.reply(ctx, req.Chat, strings.TrimRight(b.String(), "\n"))
	return nil
}

func (m *CommandManager) handleListings(ctx context.Context, req *Request) error {
	page := 1
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n <= 0 {
			m.reply(ctx, req.Chat, "Usage : "+string(tgui.Code("/listings [page]")))
			return nil
		}
		page = n
	}
	m.reply(ctx, req.Chat, formatListings(m.ops.Listings(), page))
	return nil
}

// formatListings renders one page (1-based) of the tracked listings.
func formatListings(snap watch.Snapshot, page int) string {
	if len(snap.Listings) == 0 {
		return "Aucun logement suivi pour l'instant."
	}
	p := tgui.Paginate(snap.Listings, page-1, listingsPerPage)
	var b strings.Builder
	fmt.Fprintf(&b, "🏠 <b>%d logement(s) suivi(s)</b>", p.Total)
	if p.Pages > 1 {
		fmt.Fprintf(&b, "\n%s", tgui.Esc(p.Label()))
	}
	for _, e := range p.Items {
		r := e.Record
		seen := "vu depuis " + e.FirstSeenAt.Local().Format(timeLayout)
		if e.LastNotifiedAt != nil {
			seen += ", alerte " + e.LastNotifiedAt.Local().Format(timeLayout)
		}
		fmt.Fprintf(&b, "\n• %s\n  %s\n  %s",
			tgui.B(tgui.TruncRunes(r.Title, titleMaxRunes)),
			tgui.JoinH(" · ", tgui.Esc(r.Price), tgui.Esc(r.Address)),
			tgui.I(seen))
		if r.Link != "" {
			fmt.Fprintf(&b, "\n  %s", tgui.Link("voir", r.Link))
		}
	}
	if p.HasNext {
		fmt.Fprintf(&b, "\n\nSuite : %s", tgui.Code(fmt.Sprintf("/listings %d", p.Index+2)))
	}
	return b.String()
}

func (m *CommandManager) handleCheck(ctx context.Context, req *Request) error {
	m.reply(ctx, req.Chat, "🔄 Vérification en cours…")
	rep, err := m.ops.Check(ctx, req.Actor())
	if err != nil {
		m.reply(ctx, req.Chat, "❌ Échec : "+string(tgui.Esc(err.Error())))
		return err
	}
	m.reply(ctx, req.Chat, formatReport(rep))
	return nil
}

func formatReport(rep watch.Report) string {
	return fmt.Sprintf("✅ Vérification terminée en %s\n%d observé(s), %d nouveau(x), %d rappel(s), %d retiré(s), %d échec(s) d'envoi",
		rep.Duration.Round(time.Millisecond), rep.Observed, rep.New, rep.Reminders, rep.Disappeared, rep.DispatchFails)
}

func (m *CommandManager) handleReset(ctx context.Context, req *Request) error {
	n, err := m.ops.Reset(ctx, req.Actor())
	if err != nil {
		m.reply(ctx, req.Chat, "❌ Échec : "+string(tgui.Esc(err.Error())))
		return err
	}
	m.reply(ctx, req.Chat, fmt.Sprintf("🧹 État réinitialisé : %d logement(s) oublié(s).", n))
	return nil
}

func (m *CommandManager) handleHistory(ctx context.Context, req *Request) error {
	limit := historyDefault
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n <= 0 {
			m.reply(ctx, req.Chat, "Usage : "+string(tgui.Code("/history [n]")))
			return nil
		}
		limit = min(n, historyMax)
	}
	items, err := m.ops.Deliveries(ctx, limit)
	if err != nil {
		m.reply(ctx, req.Chat, "❌ Échec : "+string(tgui.Esc(err.Error())))
		return err
	}
	if len(items) == 0 {
		m.reply(ctx, req.Chat, "Aucun envoi pour l'instant.")
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📨 <b>%d dernier(s) envoi(s)</b>", len(items))
	for _, d := range items {
		mark := "✅"
		if !d.OK {
			mark = "❌"
		}
		fmt.Fprintf(&b, "\n%s %s %s %s · %s", mark, d.At.Local().Format(timeLayout),
			tgui.Esc(d.Channel), tgui.Esc(d.Kind), tgui.Esc(tgui.TruncRunes(d.Title, titleMaxRunes)))
		if d.Error != "" {
			fmt.Fprintf(&b, "\n   %s", tgui.Esc(d.Error))
		}
	}
	m.reply(ctx, req.Chat, b.String())
	return nil
}
