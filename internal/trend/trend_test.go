package trend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/joelkehle/gamerank/internal/fetch"
)

type fakeProvider struct {
	name  string
	score float64
	err   error
	calls []string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Score(_ context.Context, kw string) (float64, error) {
	f.calls = append(f.calls, kw)
	return f.score, f.err
}

func TestResolverStopsAtFirstPositiveProvider(t *testing.T) {
	a := &fakeProvider{name: "rawg", score: 4.2}
	b := &fakeProvider{name: "wikipedia-en", score: 9}
	c := &fakeProvider{name: "wikipedia-ja", score: 9}
	r := NewResolver(nil, []Provider{a, b, c})

	res := r.Resolve(context.Background(), "Astro Quest")
	if res.Score != 4.2 || res.Provider != "rawg" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(b.calls) != 0 || len(c.calls) != 0 {
		t.Fatalf("later providers consulted: en=%v ja=%v", b.calls, c.calls)
	}
}

func TestResolverFallsThroughMissesAndErrors(t *testing.T) {
	a := &fakeProvider{name: "rawg"}
	b := &fakeProvider{name: "wikipedia-en", err: errors.New("timeout")}
	c := &fakeProvider{name: "wikipedia-ja", score: 25}
	var outcomes []string
	r := NewResolver(nil, []Provider{a, b, c}, WithObserver(func(p, o string, _ time.Duration) {
		outcomes = append(outcomes, p+"="+o)
	}))

	res := r.Resolve(context.Background(), "Astro Quest")
	if res.Score != MaxScore || res.Provider != "wikipedia-ja" {
		t.Fatalf("expected clamped ja score, got %+v", res)
	}
	if got := strings.Join(outcomes, ","); got != "rawg=miss,wikipedia-en=error,wikipedia-ja=hit" {
		t.Fatalf("unexpected outcomes %q", got)
	}
}

func TestResolverNoDataIsZero(t *testing.T) {
	r := NewResolver(nil, []Provider{&fakeProvider{name: "rawg"}})
	res := r.Resolve(context.Background(), "Nothing")
	if res.Score != 0 || res.Provider != "" {
		t.Fatalf("expected zero score, got %+v", res)
	}
}

func TestResolverTriesExactlyOneKeyword(t *testing.T) {
	p := &fakeProvider{name: "rawg"}
	r := NewResolver(nil, []Provider{p})
	r.Resolve(context.Background(), "Legend of Heroes: Trails Through Daybreak II")
	if len(p.calls) != 1 || p.calls[0] != "Legend" {
		t.Fatalf("unexpected keyword calls %v", p.calls)
	}
}

func TestKeyword(t *testing.T) {
	cases := map[string]string{
		"Short Title": "Short Title",
		"ファイナルファンタジー：ブレイブエクスヴィアス 幻影戦争 リマスター版 特別編": "ファイナルファンタジー",
		"Exactly thirty characters long": "Exactly thirty characters long",
		"  Padded  ": "Padded",
	}
	for in, want := range cases {
		if got := Keyword(in, 30); got != want {
			t.Errorf("Keyword(%q)=%q want %q", in, got, want)
		}
	}
}

func TestWikipediaScoresAverageDailyViews(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.EscapedPath())
		if strings.Contains(r.URL.Path, "en.wikipedia") {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"views":1000},{"views":2000}]}`))
	}))
	defer srv.Close()

	now := func() time.Time { return time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC) }
	client := fetch.New(fetch.Config{Name: "wiki", HTTPClient: srv.Client(), MaxAttempts: 1})
	en := &Wikipedia{Lang: "en", Divisor: 1000, BaseURL: srv.URL, Client: client, Now: now}
	ja := &Wikipedia{Lang: "ja", Divisor: 500, BaseURL: srv.URL, Client: client, Now: now}

	score, err := en.Score(context.Background(), "Star Saga")
	if err != nil || score != 0 {
		t.Fatalf("expected not found as no data, got %v %v", score, err)
	}
	score, err = ja.Score(context.Background(), "Star Saga")
	if err != nil || score != 3 {
		t.Fatalf("expected 1500/500=3, got %v %v", score, err)
	}
	if !strings.Contains(paths[1], "/per-article/ja.wikipedia/all-access/user/Star_Saga/daily/20241201/20241231") {
		t.Fatalf("unexpected path %s", paths[1])
	}
}

func TestRAWGWishlistScalesAdds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("search") != "Astro" {
			t.Errorf("unexpected search %q", r.URL.Query().Get("search"))
		}
		_, _ = w.Write([]byte(`{"results":[{"added":25000},{"added":90000}]}`))
	}))
	defer srv.Close()
	p := &RAWGWishlist{APIKey: "k", BaseURL: srv.URL, Client: fetch.New(fetch.Config{Name: "rawg", HTTPClient: srv.Client()})}
	score, err := p.Score(context.Background(), "Astro")
	if err != nil || score != 2.5 {
		t.Fatalf("expected 2.5, got %v %v", score, err)
	}
}

func TestRedditSumsRecentScores(t *testing.T) {
	now := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recent := now.Add(-48 * time.Hour).Unix()
		old := now.AddDate(0, -2, 0).Unix()
		_, _ = w.Write([]byte(`{"data":{"children":[` +
			`{"data":{"score":300,"created_utc":` + itoa(recent) + `}},` +
			`{"data":{"score":200,"created_utc":` + itoa(recent) + `}},` +
			`{"data":{"score":900,"created_utc":` + itoa(old) + `}}]}}`))
	}))
	defer srv.Close()
	p := &Reddit{SearchURL: srv.URL, Client: fetch.New(fetch.Config{Name: "reddit", HTTPClient: srv.Client()}), Now: func() time.Time { return now }}
	score, err := p.Score(context.Background(), "Astro")
	if err != nil || score != 5 {
		t.Fatalf("expected 5, got %v %v", score, err)
	}
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func TestBuildChain(t *testing.T) {
	chain, err := BuildChain(ChainConfig{Names: []string{"rawg", "Wikipedia-EN", "wikipedia-ja", "reddit"}})
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, p := range chain {
		names = append(names, p.Name())
	}
	if got := strings.Join(names, ","); got != "rawg,wikipedia-en,wikipedia-ja,reddit" {
		t.Fatalf("unexpected chain %q", got)
	}
	if _, err := BuildChain(ChainConfig{Names: []string{"twitter"}}); err == nil {
		t.Fatal("expected unknown provider error")
	}
}
