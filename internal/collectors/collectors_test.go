package collectors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/joelkehle/gamerank/internal/fetch"
	"github.com/joelkehle/gamerank/internal/game"
)

func testClient(srv *httptest.Server) *fetch.Client {
	return fetch.New(fetch.Config{Name: "test", HTTPClient: srv.Client(), MaxAttempts: 1})
}

func noSleep(context.Context, time.Duration) error { return nil }

var testWindow = DefaultWindow(time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC))

func TestRAWGCollectsUpcomingAndRecent(t *testing.T) {
	var orderings []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/games" || r.URL.Query().Get("key") != "k" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		orderings = append(orderings, r.URL.Query().Get("ordering"))
		if r.URL.Query().Get("ordering") == "-released" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"results":[
			{"id":42,"slug":"astro","name":"Astro Quest","released":"2024-12-20","metacritic":88,
			 "platforms":[{"platform":{"name":"PC"}},{"platform":{"name":"PC"}}],
			 "developers":[{"name":"Dev A"}],"publishers":[{"name":"Pub A"}],"genres":[{"name":"Action"}],
			 "description_raw":"<p>Fly</p>"},
			{"id":43,"name":" "}
		]}`))
	}))
	defer srv.Close()

	c := NewRAWG(RAWGConfig{APIKey: "k", BaseURL: srv.URL}, testClient(srv), nil)
	recs := c.Collect(context.Background(), testWindow)
	if len(orderings) != 2 {
		t.Fatalf("expected both queries, got %v", orderings)
	}
	if len(recs) != 1 {
		t.Fatalf("expected one record despite failing recent query, got %d", len(recs))
	}
	rec := recs[0]
	if rec.NativeID != "42" || rec.Provider != RAWGProvider || rec.Type != game.TypeConsumer {
		t.Fatalf("unexpected identity fields %+v", rec)
	}
	if rec.QualitySignal == nil || *rec.QualitySignal != 88 {
		t.Fatalf("expected metacritic quality signal, got %v", rec.QualitySignal)
	}
	if len(rec.Platforms) != 1 || rec.Description != "Fly" || rec.SourceURL != "https://rawg.io/games/astro" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestRAWGWithoutKeyYieldsNothing(t *testing.T) {
	c := NewRAWG(RAWGConfig{}, fetch.New(fetch.Config{Name: "test"}), nil)
	if recs := c.Collect(context.Background(), testWindow); len(recs) != 0 {
		t.Fatalf("expected no records, got %d", len(recs))
	}
}

func TestSteamKeepsLatestUpdateNews(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ISteamNews/GetNewsForApp/v2/", func(w http.ResponseWriter, r *http.Request) {
		since := testWindow.Since.Unix()
		_ = json.NewEncoder(w).Encode(map[string]any{"appnews": map[string]any{
			"appid": 730,
			"newsitems": []map[string]any{
				{"gid": "1", "title": "Community spotlight", "date": since + 100},
				{"gid": "2", "title": "Release Notes: Patch v1.2.3", "url": "https://news/2", "contents": "Fixes", "date": since + 200},
				{"gid": "3", "title": "Old update", "date": since - 100},
			},
		}})
	})
	mux.HandleFunc("/appdetails", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"730":{"success":true,"data":{"name":"Counter Strike","developers":["Valve"],"publishers":["Valve"],"header_image":"img"}}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewSteam(SteamConfig{APIURL: srv.URL, StoreURL: srv.URL, AppIDs: []int{730}}, testClient(srv), nil)
	s.sleep = noSleep
	recs := s.Collect(context.Background(), testWindow)
	if len(recs) != 1 {
		t.Fatalf("expected one update, got %d", len(recs))
	}
	rec := recs[0]
	if rec.EvaluationType() != game.EvaluationUpdate || rec.Version != "1.2.3" || rec.SourceURL != "https://news/2" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.NativeID != "730" || rec.Title != "Counter Strike" {
		t.Fatalf("unexpected identity %+v", rec)
	}
}

func TestSteamFailingAppDoesNotStopOthers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	s := NewSteam(SteamConfig{APIURL: srv.URL, StoreURL: srv.URL, AppIDs: []int{1, 2}}, testClient(srv), nil)
	s.sleep = noSleep
	if recs := s.Collect(context.Background(), testWindow); len(recs) != 0 {
		t.Fatalf("expected no records, got %d", len(recs))
	}
}

func TestIsUpdateTitleAndVersion(t *testing.T) {
	if !IsUpdateTitle("大型アップデート配信") || !IsUpdateTitle("HOTFIX today") || IsUpdateTitle("Winter sale") {
		t.Fatal("unexpected update classification")
	}
	if v := ExtractVersion("Update 2.10. is live"); v != "2.10" {
		t.Fatalf("unexpected version %q", v)
	}
	if v := ExtractVersion("No numbers"); v != "" {
		t.Fatalf("expected empty version, got %q", v)
	}
}

// The classifier is a substring heuristic; these cases pin its behavior, not
// ground truth about what is social.
func TestSocialClassifierIsApproximate(t *testing.T) {
	c := NewSocialClassifier([]string{"Gacha", "ギルド", "RPG"}, []string{"Offline"})
	cases := []struct {
		name string
		in   SocialSignals
		want bool
	}{
		{"free with keyword", SocialSignals{Title: "Star GACHA Heroes", Free: true}, true},
		{"localized keyword", SocialSignals{Title: "冒険", Description: "ギルドで協力", Free: true}, true},
		{"paid", SocialSignals{Title: "Gacha Life", Free: false}, false},
		{"negative wins", SocialSignals{Title: "Offline RPG", Free: true}, false},
		{"no keyword", SocialSignals{Title: "Puzzle", Free: true}, false},
		{"substring false positive", SocialSignals{Title: "Turpgeist", Free: true}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.IsSocialCandidate(tc.in); got != tc.want {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestPlayStoreFiltersSocialCandidates(t *testing.T) {
	updated := testWindow.Now.Add(-24 * time.Hour).UnixMilli()
	stale := testWindow.Since.Add(-24 * time.Hour).UnixMilli()
	mux := http.NewServeMux()
	mux.HandleFunc("/apps", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("collection") {
		case "NEW_FREE":
			_, _ = w.Write([]byte(`{"results":[
				{"appId":"a.rpg","title":"Guild RPG","summary":"online raid","free":true,"developer":"D"},
				{"appId":"b.puzzle","title":"Puzzle","summary":"relax","free":true},
				{"appId":"a.rpg","title":"Guild RPG","summary":"online raid","free":true}
			]}`))
		case "TOP_FREE":
			_, _ = w.Write([]byte(`{"results":[{"appId":"c.card"},{"appId":"d.old"}]}`))
		}
	})
	mux.HandleFunc("/apps/c.card", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"appId": "c.card", "title": "Card Battle", "description": "deck gacha", "free": true, "updated": updated, "version": "3.1"})
	})
	mux.HandleFunc("/apps/d.old", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"appId": "d.old", "title": "Old RPG", "free": true, "updated": stale})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewPlayStore(PlayStoreConfig{BaseURL: srv.URL, Categories: []string{"GAME_ROLE_PLAYING", "GAME_CARD"}}, testClient(srv),
		NewSocialClassifier([]string{"rpg", "deck"}, []string{"offline"}), nil)
	p.sleep = noSleep
	recs := p.Collect(context.Background(), testWindow)
	if len(recs) != 2 {
		t.Fatalf("expected release plus update, got %+v", recs)
	}
	if recs[0].NativeID != "a.rpg" || recs[0].Type != game.TypeSocial || recs[0].EvaluationType() != game.EvaluationNewRelease {
		t.Fatalf("unexpected release %+v", recs[0])
	}
	if recs[1].NativeID != "c.card" || recs[1].EvaluationType() != game.EvaluationUpdate || recs[1].UpdateTitle != "Version 3.1" {
		t.Fatalf("unexpected update %+v", recs[1])
	}
	if !strings.Contains(recs[0].SourceURL, "id=a.rpg") {
		t.Fatalf("expected play url, got %q", recs[0].SourceURL)
	}
}

const releasePage = `<html><body>
<div class="release-item"><span class="title">星の冒険</span><span class="date">2024年12月20日</span>
<span class="platform">Switch</span><a href="/games/1">詳細</a></div>
<div class="release-item"><span class="date">2024年12月21日</span></div>
<div class="release-item highlight"><span class="title">Blade Saga</span><span class="date">TBA</span></div>
</body></html>`

func TestParseReleasePage(t *testing.T) {
	src := ScrapeSource{Name: "4gamer", URL: "https://example.jp/release/", BaseURL: "https://example.jp",
		ItemSelector: ".release-item", TitleSelector: ".title", DateSelector: ".date", PlatformSelector: "span.platform"}
	recs, err := ParseReleasePage(releasePage, src)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected two titled items, got %d", len(recs))
	}
	first := recs[0]
	if first.Title != "星の冒険" || first.ReleaseDate != "2024-12-20" || first.SourceURL != "https://example.jp/games/1" {
		t.Fatalf("unexpected first record %+v", first)
	}
	if len(first.Platforms) != 1 || first.Platforms[0] != "Switch" || first.Provider != "4gamer" {
		t.Fatalf("unexpected platforms %+v", first)
	}
	if recs[1].ReleaseDate != "" || recs[1].Type != game.TypeConsumer {
		t.Fatalf("unexpected second record %+v", recs[1])
	}
}

func TestParseReleasePageCompoundSelectors(t *testing.T) {
	page := `<html><body><ul class="releases">
<li data-kind="game"><h3><span class="title">Astro Quest</span></h3><time class="d">2025-01-09</time><a href="https://x/astro">x</a></li>
<li data-kind="ad"><span class="title">Sponsored</span></li>
</ul><ul class="other"><li><span class="title">Elsewhere</span></li></ul></body></html>`
	src := ScrapeSource{Name: "calendar", URL: "https://x/",
		ItemSelector: `ul.releases li[data-kind="game"]`, TitleSelector: "h3 > span.title", DateSelector: "time.d"}
	recs, err := ParseReleasePage(page, src)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Title != "Astro Quest" || recs[0].ReleaseDate != "2025-01-09" || recs[0].SourceURL != "https://x/astro" {
		t.Fatalf("unexpected records %+v", recs)
	}
}

func TestParseReleasePageRejectsBadSelectors(t *testing.T) {
	for _, src := range []ScrapeSource{
		{ItemSelector: "li[", TitleSelector: ".title"},
		{ItemSelector: "li", TitleSelector: ""},
	} {
		if _, err := ParseReleasePage(releasePage, src); err == nil {
			t.Fatalf("expected selector error for %+v", src)
		}
	}
}

type staticFetcher map[string]string

func (f staticFetcher) Fetch(_ context.Context, u string) (string, error) {
	page, ok := f[u]
	if !ok {
		return "", &fetch.StatusError{Provider: "test", Code: http.StatusNotFound}
	}
	return page, nil
}

func TestScraperSkipsFailingSites(t *testing.T) {
	sources := []ScrapeSource{
		{Name: "down", URL: "https://down"},
		{Name: "up", URL: "https://up", ItemSelector: ".release-item", TitleSelector: ".title", DateSelector: ".date"},
	}
	s := NewScraper(sources, staticFetcher{"https://up": releasePage}, 0, nil)
	s.sleep = noSleep
	if recs := s.Collect(context.Background(), testWindow); len(recs) != 2 {
		t.Fatalf("expected records from healthy site, got %d", len(recs))
	}
}

type fakeCollector struct {
	name  string
	recs  []game.CandidateRecord
	panic bool
}

func (f fakeCollector) Name() string { return f.name }

func (f fakeCollector) Collect(context.Context, Window) []game.CandidateRecord {
	if f.panic {
		panic("boom")
	}
	return f.recs
}

func TestSetCollectsInPriorityOrderAndIsolatesPanics(t *testing.T) {
	set := NewSet(nil,
		fakeCollector{name: "first", recs: []game.CandidateRecord{{Title: "A"}}},
		fakeCollector{name: "broken", panic: true},
		fakeCollector{name: "last", recs: []game.CandidateRecord{{Title: "B"}}},
	)
	recs := set.CollectAll(context.Background(), testWindow)
	if len(recs) != 2 || recs[0].Title != "A" || recs[1].Title != "B" {
		t.Fatalf("unexpected records %+v", recs)
	}
	if got := strings.Join(set.Names(), ","); got != "first,broken,last" {
		t.Fatalf("unexpected names %q", got)
	}
}
