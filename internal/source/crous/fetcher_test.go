package crous

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"crouswatch/pkg/logx"
)

const resultsPage = `<!doctype html>
<html><body>
<h1>2 logements trouvés</h1>
<ul class="fr-grid-row fr-grid-row--gutters">
  <li class="fr-col-12">
    <div class="fr-card">
      <h3 class="fr-card__title"><a href="/tools/41/accommodations/101">Résidence Les Tilleuls</a></h3>
      <p class="fr-card__desc">12 rue des Lilas 90000 Belfort</p>
      <p class="fr-badge">312,50 €</p><p class="fr-badge">Meublé</p>
      <p class="fr-card__detail">Individuel</p>
      <p class="fr-card__detail">  </p>
      <p class="fr-card__detail">18 m²</p>
      <p class="fr-card__detail">WC, Douche</p>
    </div>
  </li>
  <li class="fr-col-12"><div class="promo">not a card</div></li>
  <li class="fr-col-12">
    <div class="fr-card">
      <h3 class="fr-card__title"><a>Studio Centre</a></h3>
      <p class="fr-card__desc"> 3 avenue Foch </p>
      <p class="fr-badge">250 €</p>
    </div>
  </li>
</ul>
</body></html>`

const emptyPage = `<html><body><div class="fr-container"><p>Aucun logement ne correspond à votre recherche.</p></div></body></html>`

const brokenPage = `<html><body><div class="maintenance">Service indisponible</div></body></html>`

const footerGridPage = `<html><body><main><div class="results-v2"></div></main>
<footer><div class="fr-grid-row fr-grid-row--gutters"><ul><li class="fr-col-12"><a href="/mentions">Mentions légales</a></li></ul></div></footer>
</body></html>`

const emptyGridPage = `<html><body><ul class="fr-grid-row fr-grid-row--gutters"></ul></body></html>`

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Errorf("missing user agent")
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchExtractsCards(t *testing.T) {
	t.Parallel()
	srv := serve(t, http.StatusOK, resultsPage)
	searchURL := srv.URL + "/tools/41/search?bounds=1_2_3_4"
	f := New(Config{URL: searchURL, BaseURL: "https://trouverunlogement.lescrous.fr"}, logx.Nop())

	recs, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(recs), recs)
	}

	first := recs[0]
	if first.Title != "Résidence Les Tilleuls" || first.Address != "12 rue des Lilas 90000 Belfort" || first.Price != "312,50 €" {
		t.Fatalf("first = %+v", first)
	}
	if want := []string{"Individuel", "18 m²", "WC, Douche"}; !reflect.DeepEqual(first.Details, want) {
		t.Fatalf("details = %q, want %q", first.Details, want)
	}
	if first.Link != "https://trouverunlogement.lescrous.fr/tools/41/accommodations/101" {
		t.Fatalf("link = %q", first.Link)
	}

	second := recs[1]
	if second.Address != "3 avenue Foch" || second.Link != searchURL || len(second.Details) != 0 {
		t.Fatalf("second = %+v", second)
	}
}

func TestFetchEmptyResultIsSuccess(t *testing.T) {
	t.Parallel()
	srv := serve(t, http.StatusOK, emptyPage)
	recs, err := New(Config{URL: srv.URL}, logx.Nop()).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("got %d records, want none", len(recs))
	}
}

func TestFetchUnrecognisedPageFails(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
	}{
		{"maintenance", brokenPage},
		{"layout grid without cards", footerGridPage},
		{"empty grid without marker", emptyGridPage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := serve(t, http.StatusOK, tt.body)
			recs, err := New(Config{URL: srv.URL}, logx.Nop()).Fetch(context.Background())
			if !errors.Is(err, ErrUnexpectedPage) {
				t.Fatalf("records = %d, err = %v; want ErrUnexpectedPage", len(recs), err)
			}
		})
	}
}

func TestFetchStatusError(t *testing.T) {
	t.Parallel()
	srv := serve(t, http.StatusServiceUnavailable, resultsPage)
	_, err := New(Config{URL: srv.URL}, logx.Nop()).Fetch(context.Background())
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("err = %v, want ErrStatus", err)
	}
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	f := New(Config{URL: srv.URL, Timeout: 50 * time.Millisecond}, logx.Nop())
	start := time.Now()
	if _, err := f.Fetch(context.Background()); err == nil {
		t.Fatalf("expected timeout error")
	}
	if took := time.Since(start); took > 5*time.Second {
		t.Fatalf("fetch not bounded by timeout: %s", took)
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()
	f := New(Config{}, logx.Nop())
	cfg := f.Config()
	if cfg.URL != DefaultURL || cfg.BaseURL != DefaultBaseURL || cfg.Timeout != DefaultTimeout || cfg.UserAgent == "" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	f.Apply(Config{URL: "https://example.org/search?bounds=2.3_48.8_2.4_48.9"})
	if got := f.Zone(); got != "Paris/Île-de-France" {
		t.Fatalf("Zone = %q", got)
	}
}

func TestZoneFromURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		url  string
		want string
	}{
		{url: "https://x/search?bounds=2.2_48.9_2.4_48.8", want: "Paris/Île-de-France"},
		{url: "https://x/search?bounds=5.3_43.3_5.5_43.2", want: "Aix-en-Provence/Marseille"},
		{url: "https://x/search?bounds=4.8_45.7_4.9_45.8", want: "Lyon"},
		{url: "https://x/search?bounds=1.4_43.6_1.5_43.5", want: "Toulouse"},
		{url: "https://x/search?bounds=-1.6_47.2_-1.5_47.1", want: "Nantes"},
		{url: "https://x/search?bounds=-0.6_44.9_-0.5_44.8", want: "Bordeaux"},
		{url: DefaultURL, want: "Coordonnées: 47.6713057,6.7872143"},
		{url: "https://x/search?bounds=6.1_47.2", want: "Coordonnées: 47.2,6.1"},
		{url: "https://x/search?q=studio", want: ZoneUnknown},
		{url: "https://x/search?bounds=7", want: ZoneUnknown},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			if got := ZoneFromURL(tt.url); got != tt.want {
				t.Fatalf("ZoneFromURL(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}
