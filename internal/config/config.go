// Package config defines the process configuration and how it is layered
// from defaults, an optional YAML file and GAMERANK_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	Database  DatabaseConfig  `koanf:"database"`
	RAWG      RAWGConfig      `koanf:"rawg"`
	Steam     SteamConfig     `koanf:"steam"`
	PlayStore PlayStoreConfig `koanf:"playstore"`
	Scraper   ScraperConfig   `koanf:"scraper"`
	Social    SocialConfig    `koanf:"social"`
	Trend     TrendConfig     `koanf:"trend"`
	Oracle    OracleConfig    `koanf:"oracle"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Notify    NotifyConfig    `koanf:"notify"`
	HTTP      HTTPConfig      `koanf:"http"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

type DatabaseConfig struct {
	// DSN is either a sqlite path ("sqlite://data/gamerank.db" or a bare
	// path) or a postgres URL.
	DSN string `koanf:"dsn"`
}

type RAWGConfig struct {
	APIKey    string        `koanf:"api_key"`
	BaseURL   string        `koanf:"base_url"`
	Platforms string        `koanf:"platforms"`
	PageSize  int           `koanf:"page_size"`
	Delay     time.Duration `koanf:"delay"`
}

type SteamConfig struct {
	Enabled  bool          `koanf:"enabled"`
	APIURL   string        `koanf:"api_url"`
	StoreURL string        `koanf:"store_url"`
	AppIDs   []int         `koanf:"app_ids"`
	Delay    time.Duration `koanf:"delay"`
}

type PlayStoreConfig struct {
	Enabled     bool          `koanf:"enabled"`
	BaseURL     string        `koanf:"base_url"`
	Categories  []string      `koanf:"categories"`
	Lang        string        `koanf:"lang"`
	Country     string        `koanf:"country"`
	NewListSize int           `koanf:"new_list_size"`
	TopListSize int           `koanf:"top_list_size"`
	Limit       int           `koanf:"limit"`
	Delay       time.Duration `koanf:"delay"`
	DetailDelay time.Duration `koanf:"detail_delay"`
}

type ScraperConfig struct {
	Enabled    bool           `koanf:"enabled"`
	Renderer   string         `koanf:"renderer"`
	UserAgent  string         `koanf:"user_agent"`
	Delay      time.Duration  `koanf:"delay"`
	MaxRetries int            `koanf:"max_retries"`
	Sources    []ScrapeSource `koanf:"sources"`
}

// ScrapeSource describes one release calendar page. Selectors are simple
// ".class" or "tag" selectors.
type ScrapeSource struct {
	Name             string `koanf:"name"`
	URL              string `koanf:"url"`
	BaseURL          string `koanf:"base_url"`
	ItemSelector     string `koanf:"item_selector"`
	TitleSelector    string `koanf:"title_selector"`
	DateSelector     string `koanf:"date_selector"`
	PlatformSelector string `koanf:"platform_selector"`
	GameType         string `koanf:"game_type"`
}

type SocialConfig struct {
	PositiveKeywords []string `koanf:"positive_keywords"`
	NegativeKeywords []string `koanf:"negative_keywords"`
}

type TrendConfig struct {
	Chain            []string      `koanf:"chain"`
	KeywordMaxChars  int           `koanf:"keyword_max_chars"`
	Delay            time.Duration `koanf:"delay"`
	WikipediaBaseURL string        `koanf:"wikipedia_base_url"`
	RedditURL        string        `koanf:"reddit_url"`
	UserAgent        string        `koanf:"user_agent"`
	WindowDays       int           `koanf:"window_days"`
}

type OracleConfig struct {
	APIKey      string        `koanf:"api_key"`
	Model       string        `koanf:"model"`
	MaxAttempts int           `koanf:"max_attempts"`
	Delay       time.Duration `koanf:"delay"`
}

type PipelineConfig struct {
	LookbackDays      int           `koanf:"lookback_days"`
	QualityThreshold  float64       `koanf:"quality_threshold"`
	TrendScoredSlots  int           `koanf:"trend_scored_slots"`
	TrendTargetLimit  int           `koanf:"trend_target_limit"`
	TypeRankingLimit  int           `koanf:"type_ranking_limit"`
	OverallLimit      int           `koanf:"overall_limit"`
	NotificationDelay time.Duration `koanf:"notification_delay"`
}

type NotifyConfig struct {
	SlackWebhookURL string `koanf:"slack_webhook_url"`
}

type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

type TelemetryConfig struct {
	ServiceName  string `koanf:"service_name"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`
}

// New returns the defaults.
func New() *Config {
	return &Config{
		Log:      LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{DSN: "data/gamerank.db"},
		RAWG: RAWGConfig{
			BaseURL:   "https://api.rawg.io/api",
			Platforms: "4,187,186,7",
			PageSize:  40,
			Delay:     time.Second,
		},
		Steam: SteamConfig{
			Enabled:  true,
			APIURL:   "https://api.steampowered.com",
			StoreURL: "https://store.steampowered.com/api",
			AppIDs: []int{
				730, 570, 1172470, 1517290, 2519060, 2357570, 1623730, 1086940,
				2358720, 1091500, 413150, 1245620, 2166140, 1174180, 1938090,
			},
			Delay: 500 * time.Millisecond,
		},
		PlayStore: PlayStoreConfig{
			Enabled:     false,
			Categories:  []string{"GAME_ROLE_PLAYING", "GAME_STRATEGY", "GAME_CARD", "GAME_SIMULATION"},
			Lang:        "ja",
			Country:     "jp",
			NewListSize: 20,
			TopListSize: 50,
			Limit:       20,
			Delay:       time.Second,
			DetailDelay: 500 * time.Millisecond,
		},
		Scraper: ScraperConfig{
			Enabled:    false,
			Renderer:   "http",
			UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
			Delay:      time.Second,
			MaxRetries: 3,
			Sources: []ScrapeSource{{
				Name:             "4gamer",
				URL:              "https://www.4gamer.net/games/000/G000000/release/",
				BaseURL:          "https://www.4gamer.net",
				ItemSelector:     ".release-item",
				TitleSelector:    ".title",
				DateSelector:     ".date",
				PlatformSelector: ".platform",
				GameType:         "consumer",
			}},
		},
		Social: SocialConfig{
			PositiveKeywords: []string{
				"rpg", "mmorpg", "ガチャ", "gacha",
				"オンライン", "online", "マルチプレイ", "multiplayer",
				"pvp", "ギルド", "guild", "レイド", "raid",
				"コレクション", "collection", "育成", "training",
				"デッキ", "deck", "カード", "card",
			},
			NegativeKeywords: []string{"offline", "オフライン", "single player", "シングルプレイ"},
		},
		Trend: TrendConfig{
			Chain:            []string{"rawg", "wikipedia-en", "wikipedia-ja"},
			KeywordMaxChars:  30,
			Delay:            time.Second,
			WikipediaBaseURL: "https://wikimedia.org/api/rest_v1/metrics/pageviews",
			RedditURL:        "https://www.reddit.com/search.json",
			UserAgent:        "GameRank/1.0 (trend research)",
			WindowDays:       30,
		},
		Oracle: OracleConfig{
			Model:       "claude-haiku-4-5",
			MaxAttempts: 3,
			Delay:       2 * time.Second,
		},
		Pipeline: PipelineConfig{
			LookbackDays:      7,
			QualityThreshold:  60,
			TrendScoredSlots:  15,
			TrendTargetLimit:  20,
			TypeRankingLimit:  50,
			OverallLimit:      100,
			NotificationDelay: time.Second,
		},
		HTTP:      HTTPConfig{Addr: ":3000"},
		Telemetry: TelemetryConfig{ServiceName: "gamerank"},
	}
}

func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, errors.New("database.dsn must not be empty"))
	}
	if c.Pipeline.TrendTargetLimit < 0 || c.Pipeline.TrendScoredSlots < 0 {
		errs = append(errs, errors.New("pipeline trend limits must not be negative"))
	}
	if c.Pipeline.TypeRankingLimit <= 0 || c.Pipeline.OverallLimit <= 0 {
		errs = append(errs, errors.New("pipeline ranking limits must be positive"))
	}
	if c.Trend.KeywordMaxChars <= 0 {
		errs = append(errs, errors.New("trend.keyword_max_chars must be positive"))
	}
	switch c.Scraper.Renderer {
	case "", "http", "chrome":
	default:
		errs = append(errs, fmt.Errorf("scraper.renderer %q must be http or chrome", c.Scraper.Renderer))
	}
	if c.Scraper.Enabled {
		for i, src := range c.Scraper.Sources {
			errs = append(errs, validateSelectors(i, src)...)
		}
	}
	return errors.Join(errs...)
}

func validateSelectors(i int, src ScrapeSource) []error {
	var errs []error
	for _, f := range []struct {
		key, expr string
		required  bool
	}{
		{"item_selector", src.ItemSelector, true},
		{"title_selector", src.TitleSelector, true},
		{"date_selector", src.DateSelector, false},
		{"platform_selector", src.PlatformSelector, false},
	} {
		expr := strings.TrimSpace(f.expr)
		if expr == "" {
			if f.required {
				errs = append(errs, fmt.Errorf("scraper.sources[%d].%s must not be empty", i, f.key))
			}
			continue
		}
		if _, err := cascadia.Compile(expr); err != nil {
			errs = append(errs, fmt.Errorf("scraper.sources[%d].%s: %w", i, f.key, err))
		}
	}
	return errs
}
