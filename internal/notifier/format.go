package notifier

import (
	"fmt"
	"html"
	"strings"

	"crouswatch/internal/watch"
	"crouswatch/pkg/tgui"
)

// Headline is the first line of a chat message.
func Headline(n watch.Notification) string {
	switch n.Kind {
	case watch.KindNew:
		return "🆕 NOUVEAU LOGEMENT CROUS"
	case watch.KindReminder:
		if m, ok := n.ElapsedMinutes(); ok {
			return fmt.Sprintf("🔔 RAPPEL LOGEMENT CROUS (il y a %d min)", m)
		}
		return "🔔 RAPPEL LOGEMENT CROUS"
	case watch.KindDisappeared:
		return "🚪 LOGEMENT RETIRÉ"
	default:
		return string(n.Kind)
	}
}

// Subject is the email subject line.
func Subject(n watch.Notification) string {
	title := n.Listing.Record.Title
	switch n.Kind {
	case watch.KindNew:
		return "🆕 NOUVEAU logement CROUS: " + title
	case watch.KindReminder:
		return "🔔 RAPPEL logement CROUS: " + title
	case watch.KindDisappeared:
		return "🚪 Logement CROUS retiré: " + title
	default:
		return title
	}
}

type line struct{ icon, value string }

func lines(n watch.Notification) []line {
	r := n.Listing.Record
	d := r.Derived()
	return []line{
		{"🏠", r.Title},
		{"📍", r.Address},
		{"💰", r.Price},
		{"📐", d.Surface},
		{"🏷️", d.UnitType},
		{"🔧", d.Amenities},
	}
}

// TelegramText renders n for a chat using HTML parse mode.
func TelegramText(n watch.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", tgui.B(Headline(n)))
	for _, l := range lines(n) {
		fmt.Fprintf(&b, "%s %s\n", l.icon, tgui.Esc(l.value))
	}
	if link := n.Listing.Record.Link; link != "" {
		fmt.Fprintf(&b, "🔗 %s", tgui.Link(link, link))
	}
	return strings.TrimRight(b.String(), "\n")
}

func emailHeading(n watch.Notification, zone string) string {
	switch n.Kind {
	case watch.KindNew:
		return fmt.Sprintf("🎉 Nouveau logement disponible dans %s !", zone)
	case watch.KindReminder:
		if m, ok := n.ElapsedMinutes(); ok {
			return fmt.Sprintf("🔔 Rappel dans %s (dernière alerte il y a %d min)", zone, m)
		}
		return fmt.Sprintf("🔔 Rappel dans %s !", zone)
	default:
		return fmt.Sprintf("🚪 Logement retiré dans %s", zone)
	}
}

// EmailBodies renders the HTML and plain-text parts of an email.
func EmailBodies(n watch.Notification, zone string) (htmlBody, textBody string) {
	heading := emailHeading(n, zone)

	var h, t strings.Builder
	fmt.Fprintf(&h, "<h2>%s</h2>\n", html.EscapeString(heading))
	t.WriteString(heading + "\n\n")
	for _, l := range lines(n) {
		fmt.Fprintf(&h, "<p>%s %s</p>\n", l.icon, html.EscapeString(l.value))
		fmt.Fprintf(&t, "%s %s\n", l.icon, l.value)
	}
	if link := n.Listing.Record.Link; link != "" {
		fmt.Fprintf(&h, "<p><a href=\"%s\">Voir sur le site CROUS</a></p>\n", html.EscapeString(link))
		fmt.Fprintf(&t, "🔗 %s\n", link)
	}
	return h.String(), t.String()
}
