package watch

import (
	"sort"
	"time"

	"crouswatch/internal/listing"
)

// DiffResult classifies one observed snapshot against the tracked set.
type DiffResult struct {
	New         []Tracked // encounter order
	Still       []Tracked // encounter order
	Disappeared []Tracked // sorted by identity
	// Order lists every observed identity once, in encounter order.
	Order []listing.Identity
	// Next is the tracked set rebuilt from the observed snapshot only.
	Next map[listing.Identity]Tracked
}

// Resolve attaches identities to fetched records.
func Resolve(records []listing.Record) []Observed {
	out := make([]Observed, 0, len(records))
	for _, r := range records {
		out = append(out, Observed{ID: listing.Resolve(r), Record: r})
	}
	return out
}

// Diff compares observed against prev. The next generation is built wholesale
// from observed: identities not re-observed are dropped, observed ones are
// created or refreshed with LastSeenAt = now.
//
// Several records with one identity collapse into a single listing: the last
// record's fields win and the first encounter keeps its position.
func Diff(prev map[listing.Identity]Tracked, observed []Observed, now time.Time) DiffResult {
	next := make(map[listing.Identity]Tracked, len(observed))
	order := make([]listing.Identity, 0, len(observed))

	for _, o := range observed {
		t, seen := next[o.ID]
		if !seen {
			order = append(order, o.ID)
			t = Tracked{ID: o.ID, FirstSeenAt: now}
			if p, ok := prev[o.ID]; ok {
				t.FirstSeenAt = p.FirstSeenAt
			}
		}
		t.Record = o.Record
		t.LastSeenAt = now
		next[o.ID] = t
	}

	res := DiffResult{Order: order, Next: next}
	for _, id := range order {
		t := next[id]
		if _, ok := prev[id]; ok {
			res.Still = append(res.Still, t)
		} else {
			res.New = append(res.New, t)
		}
	}
	for id, t := range prev {
		if _, ok := next[id]; !ok {
			res.Disappeared = append(res.Disappeared, t)
		}
	}
	sort.Slice(res.Disappeared, func(i, j int) bool { return res.Disappeared[i].ID < res.Disappeared[j].ID })
	return res
}

// IDs returns the identities of ts in order.
func IDs(ts []Tracked) []listing.Identity {
	out := make([]listing.Identity, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}
