package listing

import "testing"

func TestResolve(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		rec  Record
		want Identity
	}{
		{name: "basic", rec: Record{Title: "Studio 12m²", Address: "1 Rue A"}, want: "Studio_12m_1_Rue_A"},
		{name: "whitespace runs collapse", rec: Record{Title: "T1  bis", Address: "2\tRue\n B"}, want: "T1_bis_2_Rue_B"},
		{name: "accents kept in both cases", rec: Record{Title: "Résidence Élysée", Address: "Côte-d'Or"}, want: "Résidence_Élysée_CôtedOr"},
		{name: "punctuation stripped", rec: Record{Title: "Logement #3 (RDC)", Address: "5, av. X"}, want: "Logement_3_RDC_5_av_X"},
		{name: "empty fields", rec: Record{}, want: "_"},
		{name: "only symbols", rec: Record{Title: "€€", Address: "!!"}, want: "_"},
		{name: "no-break and zero-width no-break spaces separate", rec: Record{Title: "T2\u00a0meublé\ufeff", Address: "\ufeff3\u202fRue C"}, want: "T2_meublé_3_Rue_C"},
		{name: "next-line control is dropped", rec: Record{Title: "Chambre\u0085A", Address: "4 Rue D"}, want: "ChambreA_4_Rue_D"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Resolve(tt.rec); got != tt.want {
				t.Fatalf("Resolve(%+v) = %q, want %q", tt.rec, got, tt.want)
			}
		})
	}
}

func TestResolveIsDeterministicAndIgnoresOtherFields(t *testing.T) {
	t.Parallel()
	a := Record{Title: "Studio", Address: "1 Rue A", Price: "300 €", Link: "/a"}
	b := Record{Title: "Studio", Address: "1 Rue A", Price: "310 €", Details: []string{"18 m²"}, Link: "/b"}
	if Resolve(a) != Resolve(a) {
		t.Fatalf("Resolve is not stable across calls")
	}
	if Resolve(a) != Resolve(b) {
		t.Fatalf("records with equal title+address must share identity: %q vs %q", Resolve(a), Resolve(b))
	}
}

func TestResolveTrailingWhitespaceInAddress(t *testing.T) {
	t.Parallel()
	a := Record{Title: "Studio 12m²", Address: "1 Rue A"}
	b := Record{Title: "Studio 12m²", Address: "1 Rue A   "}
	if Resolve(a) != Resolve(b) {
		t.Fatalf("trailing whitespace changed identity: %q vs %q", Resolve(a), Resolve(b))
	}
}

func TestDeriveFirstMatchAndSentinels(t *testing.T) {
	t.Parallel()
	d := Derive([]string{"Individuel", "18 m²", "25 m²", "WC, Douche"}, DefaultRules)
	if d.Surface != "18 m²" {
		t.Fatalf("Surface = %q, want first matching line", d.Surface)
	}
	if d.UnitType != "Individuel" {
		t.Fatalf("UnitType = %q", d.UnitType)
	}
	if d.Amenities != "WC, Douche" {
		t.Fatalf("Amenities = %q", d.Amenities)
	}

	empty := Derive(nil, DefaultRules)
	if empty.Surface != "Surface non spécifiée" || empty.UnitType != "Type non spécifié" || empty.Amenities != "Équipements voir détail" {
		t.Fatalf("unexpected sentinels: %+v", empty)
	}
}

func TestDeriveSameLineFeedsSeveralFields(t *testing.T) {
	t.Parallel()
	line := "Collectif 9 m² Frigo"
	d := Record{Details: []string{line}}.Derived()
	if d.Surface != line || d.UnitType != line || d.Amenities != line {
		t.Fatalf("one line should satisfy every rule independently: %+v", d)
	}
}

func TestRuleOrderIsFixed(t *testing.T) {
	t.Parallel()
	want := []Field{FieldSurface, FieldUnitType, FieldAmenities}
	if len(DefaultRules) != len(want) {
		t.Fatalf("rules = %d, want %d", len(DefaultRules), len(want))
	}
	for i, f := range want {
		if DefaultRules[i].Field != f {
			t.Fatalf("rule %d is %s, want %s", i, DefaultRules[i].Field, f)
		}
	}
}
