package collectors

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joelkehle/gamerank/internal/fetch"
	"github.com/joelkehle/gamerank/internal/game"
	"github.com/joelkehle/gamerank/internal/logging"
)

const (
	RAWGProvider       = "rawg"
	DefaultRAWGBaseURL = "https://api.rawg.io/api"
)

type RAWGConfig struct {
	APIKey    string
	BaseURL   string
	Platforms string
	PageSize  int
}

// RAWG collects upcoming and recently released console/PC games from the
// RAWG catalog.
type RAWG struct {
	cfg    RAWGConfig
	client *fetch.Client
	log    *logging.Logger
}

func NewRAWG(cfg RAWGConfig, client *fetch.Client, log *logging.Logger) *RAWG {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultRAWGBaseURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 40
	}
	return &RAWG{cfg: cfg, client: client, log: logging.OrNop(log).With("source", RAWGProvider)}
}

func (r *RAWG) Name() string { return RAWGProvider }

type rawgNamed struct {
	Name string `json:"name"`
}

type rawgGame struct {
	ID              int         `json:"id"`
	Slug            string      `json:"slug"`
	Name            string      `json:"name"`
	Released        string      `json:"released"`
	BackgroundImage string      `json:"background_image"`
	Metacritic      *int        `json:"metacritic"`
	Added           int         `json:"added"`
	DescriptionRaw  string      `json:"description_raw"`
	Description     string      `json:"description"`
	Developers      []rawgNamed `json:"developers"`
	Publishers      []rawgNamed `json:"publishers"`
	Genres          []rawgNamed `json:"genres"`
	Platforms       []struct {
		Platform rawgNamed `json:"platform"`
	} `json:"platforms"`
}

type rawgSearchResponse struct {
	Count   int        `json:"count"`
	Results []rawgGame `json:"results"`
}

func (r *RAWG) Collect(ctx context.Context, w Window) []game.CandidateRecord {
	if strings.TrimSpace(r.cfg.APIKey) == "" {
		r.log.Warn("collectors source_skipped", "reason", "RAWG api key not configured")
		return nil
	}
	var out []game.CandidateRecord
	upcoming, err := r.list(ctx, w.Now, w.Until, "-added")
	if err != nil {
		r.log.Error("collectors upcoming_failed", "err", err)
	}
	out = append(out, upcoming...)

	recent, err := r.list(ctx, w.Since, w.Now, "-released")
	if err != nil {
		r.log.Error("collectors recent_failed", "err", err)
	}
	out = append(out, recent...)
	return out
}

func (r *RAWG) list(ctx context.Context, from, to time.Time, ordering string) ([]game.CandidateRecord, error) {
	q := url.Values{}
	q.Set("key", r.cfg.APIKey)
	q.Set("dates", from.Format(game.DateLayout)+","+to.Format(game.DateLayout))
	if r.cfg.Platforms != "" {
		q.Set("platforms", r.cfg.Platforms)
	}
	q.Set("ordering", ordering)
	q.Set("page_size", strconv.Itoa(r.cfg.PageSize))

	var resp rawgSearchResponse
	if err := r.client.GetJSON(ctx, strings.TrimRight(r.cfg.BaseURL, "/")+"/games?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("rawg games ordering=%s: %w", ordering, err)
	}
	out := make([]game.CandidateRecord, 0, len(resp.Results))
	for _, g := range resp.Results {
		if strings.TrimSpace(g.Name) == "" {
			continue
		}
		out = append(out, rawgRecord(g))
	}
	return out, nil
}

func rawgRecord(g rawgGame) game.CandidateRecord {
	rec := game.CandidateRecord{
		Title:       strings.TrimSpace(g.Name),
		Type:        game.TypeConsumer,
		ReleaseDate: game.NormalizeDate(g.Released),
		Developer:   joinNames(g.Developers),
		Publisher:   joinNames(g.Publishers),
		Genres:      names(g.Genres),
		ImageURL:    g.BackgroundImage,
		Provider:    RAWGProvider,
	}
	if g.ID > 0 {
		rec.NativeID = strconv.Itoa(g.ID)
	}
	if g.Slug != "" {
		rec.SourceURL = "https://rawg.io/games/" + g.Slug
	}
	for _, p := range g.Platforms {
		rec.Platforms = append(rec.Platforms, p.Platform.Name)
	}
	rec.Platforms = game.UniqueStrings(rec.Platforms)
	desc := g.DescriptionRaw
	if desc == "" {
		desc = g.Description
	}
	rec.Description = game.CleanDescription(desc, game.MaxDescriptionChars)
	if g.Metacritic != nil && *g.Metacritic > 0 {
		v := float64(*g.Metacritic)
		rec.QualitySignal = &v
	}
	return rec
}

func names(in []rawgNamed) []string {
	out := make([]string, 0, len(in))
	for _, n := range in {
		out = append(out, n.Name)
	}
	return game.UniqueStrings(out)
}

func joinNames(in []rawgNamed) string {
	return strings.Join(names(in), ", ")
}
