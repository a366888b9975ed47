// Package crous fetches a CROUS housing search page and extracts its listing
// cards.
package crous

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"crouswatch/internal/listing"
	"crouswatch/pkg/logx"
)

var (
	// ErrStatus wraps a non-success HTTP status from the source.
	ErrStatus = errors.New("crous: unexpected status")
	// ErrUnexpectedPage means the page has neither listing cards nor an
	// explicit "no results" message, so extraction cannot be trusted.
	ErrUnexpectedPage = errors.New("crous: unrecognised results page")
)

const (
	DefaultURL       = "https://trouverunlogement.lescrous.fr/tools/41/search?bounds=6.7872143_47.6713057_6.8948707_47.6203259"
	DefaultBaseURL   = "https://trouverunlogement.lescrous.fr"
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	DefaultTimeout   = 10 * time.Second
)

const (
	selGrid    = ".fr-grid-row.fr-grid-row--gutters"
	selItem    = "li.fr-col-12"
	selCard    = ".fr-card"
	selTitle   = ".fr-card__title a"
	selAddress = ".fr-card__desc"
	selPrice   = ".fr-badge"
	selDetail  = ".fr-card__detail"
)

var reEmpty = regexp.MustCompile(`(?i)aucun (logement|résultat)|\b0 logements? trouvés?`)

// Config selects the page to watch.
type Config struct {
	URL       string
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.URL) == "" {
		c.URL = DefaultURL
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	if strings.TrimSpace(c.UserAgent) == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Fetcher implements watch.Fetcher for one search URL.
type Fetcher struct {
	cfg atomic.Pointer[Config]
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Fetcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	f := &Fetcher{log: log.With(logx.String("comp", "crous"))}
	f.Apply(cfg)
	return f
}

// Apply swaps the configuration for the next fetch.
func (f *Fetcher) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	f.cfg.Store(&cfg)
}

// Config returns the active configuration with defaults applied.
func (f *Fetcher) Config() Config { return *f.cfg.Load() }

// Zone labels the area watched by the configured URL.
func (f *Fetcher) Zone() string { return ZoneFromURL(f.Config().URL) }

// SearchURL is the page being watched.
func (f *Fetcher) SearchURL() string { return f.Config().URL }

type page struct {
	cardsSeen bool
	emptySeen bool
	status    int
	records   []listing.Record
}

// Fetch downloads the search page and returns its listings in page order.
// A successful empty result is a nil error with no records.
func (f *Fetcher) Fetch(ctx context.Context) ([]listing.Record, error) {
	cfg := f.Config()
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("crous: base url: %w", err)
	}

	c := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.StdlibContext(ctx),
		colly.AllowURLRevisit(),
	)
	c.SetRequestTimeout(cfg.Timeout)

	var p page
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "fr-FR,fr;q=0.9,en;q=0.8")
	})
	c.OnResponse(func(r *colly.Response) { p.status = r.StatusCode })
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			p.status = r.StatusCode
		}
	})
	c.OnHTML("body", func(e *colly.HTMLElement) {
		if reEmpty.MatchString(e.Text) {
			p.emptySeen = true
		}
	})
	// The grid class also styles footer rows; only items holding a card count.
	c.OnHTML(selGrid, func(grid *colly.HTMLElement) {
		grid.ForEach(selItem, func(_ int, item *colly.HTMLElement) {
			if item.DOM.Find(selCard).Length() == 0 {
				return
			}
			p.cardsSeen = true
			p.records = append(p.records, extract(item, base, cfg.URL))
		})
	})

	start := time.Now()
	if err := c.Visit(cfg.URL); err != nil {
		if p.status >= 300 {
			return nil, fmt.Errorf("%w: %d", ErrStatus, p.status)
		}
		return nil, fmt.Errorf("crous: fetch %s: %w", cfg.URL, err)
	}
	c.Wait()
	if p.status != 0 && (p.status < 200 || p.status >= 300) {
		return nil, fmt.Errorf("%w: %d", ErrStatus, p.status)
	}
	if !p.cardsSeen && !p.emptySeen {
		return nil, ErrUnexpectedPage
	}
	f.log.Debug("page fetched",
		logx.Int("status", p.status),
		logx.Int("listings", len(p.records)),
		logx.Bool("empty_marker", p.emptySeen),
		logx.Duration("took", time.Since(start)),
	)
	return p.records, nil
}

func extract(item *colly.HTMLElement, base *url.URL, fallback string) listing.Record {
	title := item.DOM.Find(selTitle).First()
	r := listing.Record{
		Title:   strings.TrimSpace(title.Text()),
		Address: strings.TrimSpace(item.DOM.Find(selAddress).First().Text()),
		Price:   strings.TrimSpace(item.DOM.Find(selPrice).First().Text()),
		Link:    fallback,
	}
	if href, ok := title.Attr("href"); ok && strings.TrimSpace(href) != "" {
		r.Link = resolveLink(base, href, fallback)
	}
	item.ForEach(selDetail, func(_ int, d *colly.HTMLElement) {
		if t := strings.TrimSpace(d.Text); t != "" {
			r.Details = append(r.Details, t)
		}
	})
	return r
}

func resolveLink(base *url.URL, href, fallback string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return fallback
	}
	return base.ResolveReference(ref).String()
}
