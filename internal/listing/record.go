// Package listing holds the housing offer records extracted from the source
// page and the rules that derive display fields and identity from them.
package listing

import "strings"

// Record is one housing offer as observed on a single fetch.
type Record struct {
	Title   string   `json:"title"`
	Address string   `json:"address"`
	Price   string   `json:"price"`
	Details []string `json:"details"`
	Link    string   `json:"link"`
}

// Field names a value derived from the detail lines.
type Field int

const (
	FieldSurface Field = iota
	FieldUnitType
	FieldAmenities
)

func (f Field) String() string {
	switch f {
	case FieldSurface:
		return "surface"
	case FieldUnitType:
		return "unit_type"
	case FieldAmenities:
		return "amenities"
	default:
		return "unknown"
	}
}

// Rule selects the first detail line containing any of Contains.
// Sentinel is used when no line matches.
type Rule struct {
	Field    Field
	Contains []string
	Sentinel string
}

// Match reports whether line satisfies the rule.
func (r Rule) Match(line string) bool {
	for _, s := range r.Contains {
		if strings.Contains(line, s) {
			return true
		}
	}
	return false
}

// Pick returns the first matching line, or the sentinel.
func (r Rule) Pick(details []string) string {
	for _, d := range details {
		if r.Match(d) {
			return d
		}
	}
	return r.Sentinel
}

// DefaultRules is the fixed evaluation order for derived fields.
var DefaultRules = []Rule{
	{Field: FieldSurface, Contains: []string{"m²"}, Sentinel: "Surface non spécifiée"},
	{Field: FieldUnitType, Contains: []string{"Individuel", "Collectif"}, Sentinel: "Type non spécifié"},
	{Field: FieldAmenities, Contains: []string{"WC", "Douche", "Frigo"}, Sentinel: "Équipements voir détail"},
}

// Derived is the set of values computed from the detail lines.
type Derived struct {
	Surface   string `json:"surface"`
	UnitType  string `json:"unit_type"`
	Amenities string `json:"amenities"`
}

// Derive applies rules in order. Each rule scans the detail lines on its own,
// so one line may feed several fields.
func Derive(details []string, rules []Rule) Derived {
	var d Derived
	for _, r := range rules {
		v := r.Pick(details)
		switch r.Field {
		case FieldSurface:
			d.Surface = v
		case FieldUnitType:
			d.UnitType = v
		case FieldAmenities:
			d.Amenities = v
		}
	}
	return d
}

// Derived returns the record's derived fields using DefaultRules.
func (r Record) Derived() Derived { return Derive(r.Details, DefaultRules) }

// DetailsLine joins the detail lines the way the source page displays them.
func (r Record) DetailsLine() string { return strings.Join(r.Details, " | ") }
