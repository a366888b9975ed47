package watch

import (
	"time"

	"crouswatch/internal/listing"
)

// Ledger maps an identity to the last time it was notified.
// A missing key means never notified since it entered tracking.
type Ledger map[listing.Identity]time.Time

// Clone returns an independent copy.
func (l Ledger) Clone() Ledger {
	out := make(Ledger, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// Stamp records now for every scheduled identity. Other entries are untouched.
func (l Ledger) Stamp(ns []Notification, now time.Time) {
	for _, n := range ns {
		if n.Kind == KindNew || n.Kind == KindReminder {
			l[n.Listing.ID] = now
		}
	}
}

// Schedule decides which observed listings are notified this cycle.
//
// New listings always get a NEW notice. Still-present listings get a REMINDER
// when they were never notified or when now-last >= interval; the boundary is
// due and a zero interval makes every cycle due. Disappeared listings are
// never scheduled here. Notifications follow the observed order.
func Schedule(d DiffResult, ledger Ledger, now time.Time, interval time.Duration) []Notification {
	fresh := make(map[listing.Identity]struct{}, len(d.New))
	for _, t := range d.New {
		fresh[t.ID] = struct{}{}
	}

	var out []Notification
	for _, id := range d.Order {
		t := d.Next[id]
		if _, ok := fresh[id]; ok {
			out = append(out, Notification{Kind: KindNew, Listing: t, At: now})
			continue
		}
		last, notified := ledger[id]
		if !notified || now.Sub(last) >= interval {
			out = append(out, Notification{Kind: KindReminder, Listing: t, At: now, LastNotifiedAt: last})
		}
	}
	return out
}
