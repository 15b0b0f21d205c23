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

const PlayStoreProvider = "googleplay"

// PlayStoreConfig points at a google-play-scraper compatible JSON service
// exposing /apps?collection=&category= listings and /apps/{appId} details.
type PlayStoreConfig struct {
	BaseURL     string
	Categories  []string
	Lang        string
	Country     string
	NewListSize int
	TopListSize int
	Limit       int
	Delay       time.Duration
	DetailDelay time.Duration
}

// PlayStore collects free-to-play social titles from the Play Store, both
// fresh releases and recently updated top titles.
type PlayStore struct {
	cfg        PlayStoreConfig
	client     *fetch.Client
	classifier *SocialClassifier
	log        *logging.Logger
	sleep      func(context.Context, time.Duration) error
}

func NewPlayStore(cfg PlayStoreConfig, client *fetch.Client, classifier *SocialClassifier, log *logging.Logger) *PlayStore {
	if cfg.NewListSize <= 0 {
		cfg.NewListSize = 20
	}
	if cfg.TopListSize <= 0 {
		cfg.TopListSize = 50
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 20
	}
	if cfg.Lang == "" {
		cfg.Lang = "ja"
	}
	if cfg.Country == "" {
		cfg.Country = "jp"
	}
	return &PlayStore{
		cfg:        cfg,
		client:     client,
		classifier: classifier,
		log:        logging.OrNop(log).With("source", PlayStoreProvider),
		sleep:      fetch.SleepCtx,
	}
}

func (p *PlayStore) Name() string { return PlayStoreProvider }

type playApp struct {
	AppID       string   `json:"appId"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	Developer   string   `json:"developer"`
	Icon        string   `json:"icon"`
	Screenshots []string `json:"screenshots"`
	URL         string   `json:"url"`
	Genre       string   `json:"genre"`
	Free        bool     `json:"free"`
	Version     string   `json:"version"`
	Released    string   `json:"released"`
	// Updated is unix milliseconds.
	Updated int64 `json:"updated"`
}

type playListResponse struct {
	Results []playApp `json:"results"`
}

func (p *PlayStore) Collect(ctx context.Context, w Window) []game.CandidateRecord {
	if strings.TrimSpace(p.cfg.BaseURL) == "" {
		p.log.Warn("collectors source_skipped", "reason", "play store service url not configured")
		return nil
	}
	out := p.newReleases(ctx)
	out = append(out, p.recentUpdates(ctx, w.Since)...)
	return out
}

func (p *PlayStore) newReleases(ctx context.Context) []game.CandidateRecord {
	var out []game.CandidateRecord
	seen := map[string]struct{}{}
	for i, category := range p.cfg.Categories {
		if i > 0 {
			if err := p.sleep(ctx, p.cfg.Delay); err != nil {
				break
			}
		}
		apps, err := p.list(ctx, "NEW_FREE", category, p.cfg.NewListSize)
		if err != nil {
			p.log.Warn("collectors category_failed", "category", category, "err", err)
			continue
		}
		for _, app := range apps {
			if _, dup := seen[app.AppID]; dup {
				continue
			}
			if !p.classifier.IsSocialCandidate(SocialSignals{Title: app.Title, Description: app.Summary, Free: app.Free}) {
				continue
			}
			seen[app.AppID] = struct{}{}
			out = append(out, playRecord(app, false))
		}
	}
	if len(out) > p.cfg.Limit {
		out = out[:p.cfg.Limit]
	}
	return out
}

func (p *PlayStore) recentUpdates(ctx context.Context, since time.Time) []game.CandidateRecord {
	apps, err := p.list(ctx, "TOP_FREE", "GAME", p.cfg.TopListSize)
	if err != nil {
		p.log.Warn("collectors top_list_failed", "err", err)
		return nil
	}
	var out []game.CandidateRecord
	for i, app := range apps {
		if len(out) >= p.cfg.Limit || ctx.Err() != nil {
			break
		}
		if i > 0 {
			if err := p.sleep(ctx, p.cfg.DetailDelay); err != nil {
				break
			}
		}
		details, err := p.details(ctx, app.AppID)
		if err != nil {
			p.log.Warn("collectors details_failed", "app_id", app.AppID, "err", err)
			continue
		}
		if details.Updated <= 0 || time.UnixMilli(details.Updated).Before(since) {
			continue
		}
		if !p.classifier.IsSocialCandidate(SocialSignals{Title: details.Title, Description: details.Description, Free: details.Free}) {
			continue
		}
		out = append(out, playRecord(details, true))
	}
	return out
}

func (p *PlayStore) list(ctx context.Context, collection, category string, num int) ([]playApp, error) {
	q := url.Values{}
	q.Set("collection", collection)
	q.Set("category", category)
	q.Set("num", strconv.Itoa(num))
	q.Set("lang", p.cfg.Lang)
	q.Set("country", p.cfg.Country)
	var resp playListResponse
	if err := p.client.GetJSON(ctx, strings.TrimRight(p.cfg.BaseURL, "/")+"/apps?"+q.Encode(), nil, &resp); err != nil {
		return nil, fmt.Errorf("play list %s/%s: %w", collection, category, err)
	}
	return resp.Results, nil
}

func (p *PlayStore) details(ctx context.Context, appID string) (playApp, error) {
	q := url.Values{}
	q.Set("lang", p.cfg.Lang)
	q.Set("country", p.cfg.Country)
	var app playApp
	if err := p.client.GetJSON(ctx, strings.TrimRight(p.cfg.BaseURL, "/")+"/apps/"+url.PathEscape(appID)+"?"+q.Encode(), nil, &app); err != nil {
		return playApp{}, fmt.Errorf("play details %s: %w", appID, err)
	}
	if app.AppID == "" {
		app.AppID = appID
	}
	return app, nil
}

func playRecord(app playApp, update bool) game.CandidateRecord {
	title := strings.TrimSpace(app.Title)
	if title == "" {
		title = "Unknown"
	}
	desc := app.Description
	if desc == "" {
		desc = app.Summary
	}
	rec := game.CandidateRecord{
		Title:       title,
		Type:        game.TypeSocial,
		ReleaseDate: game.NormalizeDate(app.Released),
		Version:     app.Version,
		Developer:   app.Developer,
		Publisher:   app.Developer,
		Platforms:   []string{"Android"},
		Genres:      game.UniqueStrings([]string{app.Genre}),
		Description: game.CleanDescription(desc, game.MaxDescriptionChars),
		ImageURL:    app.Icon,
		SourceURL:   app.URL,
		Provider:    PlayStoreProvider,
		NativeID:    app.AppID,
	}
	if rec.ImageURL == "" && len(app.Screenshots) > 0 {
		rec.ImageURL = app.Screenshots[0]
	}
	if rec.SourceURL == "" && app.AppID != "" {
		rec.SourceURL = "https://play.google.com/store/apps/details?id=" + url.QueryEscape(app.AppID)
	}
	if update && app.Updated > 0 {
		rec.UpdateDate = game.DateFromUnixMillis(app.Updated)
		rec.UpdateTitle = "Version " + app.Version
		if app.Version == "" {
			rec.UpdateTitle = "Update"
		}
	}
	if rec.ReleaseDate == "" && app.Updated > 0 {
		rec.ReleaseDate = game.DateFromUnixMillis(app.Updated)
	}
	return rec
}
