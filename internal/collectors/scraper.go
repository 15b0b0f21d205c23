package collectors

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"golang.org/x/net/html"

	"github.com/joelkehle/gamerank/internal/browser"
	"github.com/joelkehle/gamerank/internal/fetch"
	"github.com/joelkehle/gamerank/internal/game"
	"github.com/joelkehle/gamerank/internal/logging"
)

// Fetcher returns the HTML of a page.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// HTTPFetcher fetches static pages through the paced client.
type HTTPFetcher struct {
	client *fetch.Client
}

func NewHTTPFetcher(client *fetch.Client) *HTTPFetcher {
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	body, err := f.client.Get(ctx, pageURL, map[string]string{
		"Accept":          "text/html,application/xhtml+xml",
		"Accept-Language": "ja,en;q=0.8",
	})
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ChromeFetcher renders pages in headless Chromium, for calendars that build
// their listing client-side.
type ChromeFetcher struct {
	UserAgent string
	Timeout   time.Duration
}

func (f *ChromeFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	taskCtx, cancel := browser.NewContext(ctx, f.Timeout, f.UserAgent)
	defer cancel()
	var doc string
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &doc, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("render %s: %w", pageURL, err)
	}
	return doc, nil
}

// ScrapeSource describes one release calendar page.
type ScrapeSource struct {
	Name             string
	URL              string
	BaseURL          string
	ItemSelector     string
	TitleSelector    string
	DateSelector     string
	PlatformSelector string
	Type             game.GameType
}

// Scraper reads release calendars that have no API.
type Scraper struct {
	sources []ScrapeSource
	fetcher Fetcher
	delay   time.Duration
	log     *logging.Logger
	sleep   func(context.Context, time.Duration) error
}

func NewScraper(sources []ScrapeSource, fetcher Fetcher, delay time.Duration, log *logging.Logger) *Scraper {
	return &Scraper{
		sources: sources,
		fetcher: fetcher,
		delay:   delay,
		log:     logging.OrNop(log).With("source", "scraper"),
		sleep:   fetch.SleepCtx,
	}
}

func (s *Scraper) Name() string { return "scraper" }

func (s *Scraper) Collect(ctx context.Context, _ Window) []game.CandidateRecord {
	var out []game.CandidateRecord
	for i, src := range s.sources {
		if i > 0 {
			if err := s.sleep(ctx, s.delay); err != nil {
				break
			}
		}
		page, err := s.fetcher.Fetch(ctx, src.URL)
		if err != nil {
			s.log.Warn("collectors scrape_failed", "site", src.Name, "err", err)
			continue
		}
		recs, err := ParseReleasePage(page, src)
		if err != nil {
			s.log.Warn("collectors parse_failed", "site", src.Name, "err", err)
			continue
		}
		if len(recs) == 0 {
			s.log.Info("collectors scrape_empty", "site", src.Name)
		}
		out = append(out, recs...)
	}
	return out
}

// ParseReleasePage extracts one record per item element. Items without a
// title are skipped.
func ParseReleasePage(page string, src ScrapeSource) ([]game.CandidateRecord, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	base, _ := url.Parse(src.BaseURL)
	if base == nil || base.Host == "" {
		base, _ = url.Parse(src.URL)
	}
	typ := src.Type
	if typ == "" {
		typ = game.TypeConsumer
	}
	provider := src.Name
	if provider == "" {
		provider = "scraper"
	}

	sels, err := compileSelectors(src)
	if err != nil {
		return nil, err
	}

	var out []game.CandidateRecord
	for _, item := range sels.item.MatchAll(doc) {
		title := nodeText(first(item, sels.title))
		if title == "" {
			continue
		}
		rec := game.CandidateRecord{
			Title:       title,
			Type:        typ,
			ReleaseDate: game.NormalizeDate(nodeText(first(item, sels.date))),
			Provider:    provider,
		}
		if platform := nodeText(first(item, sels.platform)); platform != "" {
			rec.Platforms = []string{platform}
		}
		if a := linkSelector.MatchFirst(item); a != nil {
			rec.SourceURL = resolveLink(base, attr(a, "href"))
		}
		out = append(out, rec)
	}
	return out, nil
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
