package collectors

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joelkehle/gamerank/internal/fetch"
	"github.com/joelkehle/gamerank/internal/game"
	"github.com/joelkehle/gamerank/internal/logging"
)

const SteamProvider = "steam"

type SteamConfig struct {
	APIURL   string
	StoreURL string
	AppIDs   []int
	// Delay spaces consecutive apps on top of the client's pacing.
	Delay time.Duration
}

// Steam collects recent update announcements for a watched list of apps.
type Steam struct {
	cfg    SteamConfig
	client *fetch.Client
	log    *logging.Logger
	sleep  func(context.Context, time.Duration) error
}

func NewSteam(cfg SteamConfig, client *fetch.Client, log *logging.Logger) *Steam {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.steampowered.com"
	}
	if cfg.StoreURL == "" {
		cfg.StoreURL = "https://store.steampowered.com/api"
	}
	return &Steam{cfg: cfg, client: client, log: logging.OrNop(log).With("source", SteamProvider), sleep: fetch.SleepCtx}
}

func (s *Steam) Name() string { return SteamProvider }

var (
	updateTitleTerms = []string{"update", "patch", "hotfix", "アップデート", "パッチ"}
	versionPattern   = regexp.MustCompile(`v?(\d+\.[\d.]+)`)
)

type steamNewsItem struct {
	GID      string `json:"gid"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Contents string `json:"contents"`
	Date     int64  `json:"date"`
}

type steamNewsResponse struct {
	AppNews struct {
		AppID     int             `json:"appid"`
		NewsItems []steamNewsItem `json:"newsitems"`
	} `json:"appnews"`
}

type steamAppDetails struct {
	Success bool `json:"success"`
	Data    struct {
		Name        string   `json:"name"`
		Developers  []string `json:"developers"`
		Publishers  []string `json:"publishers"`
		HeaderImage string   `json:"header_image"`
		Genres      []struct {
			Description string `json:"description"`
		} `json:"genres"`
		ReleaseDate struct {
			Date string `json:"date"`
		} `json:"release_date"`
	} `json:"data"`
}

func (s *Steam) Collect(ctx context.Context, w Window) []game.CandidateRecord {
	var out []game.CandidateRecord
	for i, appID := range s.cfg.AppIDs {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && s.cfg.Delay > 0 {
			if err := s.sleep(ctx, s.cfg.Delay); err != nil {
				break
			}
		}
		rec, ok, err := s.collectApp(ctx, appID, w.Since)
		if err != nil {
			s.log.Warn("collectors app_failed", "app_id", appID, "err", err)
			continue
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out
}

// collectApp returns the newest qualifying update for appID, if any.
func (s *Steam) collectApp(ctx context.Context, appID int, since time.Time) (game.CandidateRecord, bool, error) {
	q := url.Values{}
	q.Set("appid", strconv.Itoa(appID))
	q.Set("count", "10")
	q.Set("maxlength", "500")
	q.Set("format", "json")
	var news steamNewsResponse
	if err := s.client.GetJSON(ctx, strings.TrimRight(s.cfg.APIURL, "/")+"/ISteamNews/GetNewsForApp/v2/?"+q.Encode(), nil, &news); err != nil {
		return game.CandidateRecord{}, false, fmt.Errorf("steam news: %w", err)
	}
	var latest *steamNewsItem
	for i := range news.AppNews.NewsItems {
		item := &news.AppNews.NewsItems[i]
		if item.Date < since.Unix() || !IsUpdateTitle(item.Title) {
			continue
		}
		if latest == nil || item.Date > latest.Date {
			latest = item
		}
	}
	if latest == nil {
		return game.CandidateRecord{}, false, nil
	}

	details, err := s.details(ctx, appID)
	if err != nil {
		return game.CandidateRecord{}, false, err
	}
	if !details.Success || strings.TrimSpace(details.Data.Name) == "" {
		return game.CandidateRecord{}, false, nil
	}

	rec := game.CandidateRecord{
		Title:       strings.TrimSpace(details.Data.Name),
		Type:        game.TypeConsumer,
		UpdateDate:  game.DateFromUnix(latest.Date),
		UpdateTitle: strings.TrimSpace(latest.Title),
		Version:     ExtractVersion(latest.Title),
		Developer:   strings.Join(game.UniqueStrings(details.Data.Developers), ", "),
		Publisher:   strings.Join(game.UniqueStrings(details.Data.Publishers), ", "),
		Platforms:   []string{"PC"},
		Description: game.CleanDescription(latest.Contents, game.MaxDescriptionChars),
		ImageURL:    details.Data.HeaderImage,
		SourceURL:   latest.URL,
		Provider:    SteamProvider,
		NativeID:    strconv.Itoa(appID),
	}
	for _, g := range details.Data.Genres {
		rec.Genres = append(rec.Genres, g.Description)
	}
	if rec.SourceURL == "" {
		rec.SourceURL = fmt.Sprintf("https://store.steampowered.com/app/%d", appID)
	}
	return rec, true, nil
}

func (s *Steam) details(ctx context.Context, appID int) (steamAppDetails, error) {
	q := url.Values{}
	q.Set("appids", strconv.Itoa(appID))
	q.Set("l", "japanese")
	var resp map[string]steamAppDetails
	if err := s.client.GetJSON(ctx, strings.TrimRight(s.cfg.StoreURL, "/")+"/appdetails?"+q.Encode(), nil, &resp); err != nil {
		return steamAppDetails{}, fmt.Errorf("steam appdetails: %w", err)
	}
	return resp[strconv.Itoa(appID)], nil
}

// IsUpdateTitle reports whether a news headline announces an update or patch.
func IsUpdateTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, term := range updateTitleTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// ExtractVersion pulls the first dotted version number out of text.
func ExtractVersion(text string) string {
	m := versionPattern.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimRight(m[1], ".")
}
