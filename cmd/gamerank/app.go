package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joelkehle/gamerank/internal/collectors"
	"github.com/joelkehle/gamerank/internal/config"
	"github.com/joelkehle/gamerank/internal/evaluate"
	"github.com/joelkehle/gamerank/internal/fetch"
	"github.com/joelkehle/gamerank/internal/game"
	"github.com/joelkehle/gamerank/internal/logging"
	"github.com/joelkehle/gamerank/internal/notify"
	"github.com/joelkehle/gamerank/internal/pipeline"
	"github.com/joelkehle/gamerank/internal/ranking"
	"github.com/joelkehle/gamerank/internal/store"
	"github.com/joelkehle/gamerank/internal/telemetry"
	"github.com/joelkehle/gamerank/internal/trend"
)

// app holds the process-wide collaborators shared by every subcommand.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	store    *store.Store
	metrics  *telemetry.Metrics
	shutdown func(context.Context) error
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	shutdown, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
	}, log)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	log.Info("gamerank store_opened", "dialect", st.Dialect())
	return &app{cfg: cfg, log: log, store: st, metrics: telemetry.NewMetrics(), shutdown: shutdown}, nil
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.shutdown(ctx); err != nil {
		a.log.Warn("gamerank tracing_shutdown_failed", "err", err)
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("gamerank store_close_failed", "err", err)
	}
	a.log.Sync()
}

func (a *app) rankings() *ranking.Service { return ranking.NewService(a.store) }

// collectorSet builds the enabled sources, richest first.
func (a *app) collectorSet() *collectors.Set {
	cfg := a.cfg
	list := []collectors.Collector{
		collectors.NewRAWG(collectors.RAWGConfig{
			APIKey:    cfg.RAWG.APIKey,
			BaseURL:   cfg.RAWG.BaseURL,
			Platforms: cfg.RAWG.Platforms,
			PageSize:  cfg.RAWG.PageSize,
		}, fetch.New(fetch.Config{Name: collectors.RAWGProvider, MinInterval: cfg.RAWG.Delay}), a.log),
	}
	if cfg.Steam.Enabled {
		list = append(list, collectors.NewSteam(collectors.SteamConfig{
			APIURL:   cfg.Steam.APIURL,
			StoreURL: cfg.Steam.StoreURL,
			AppIDs:   cfg.Steam.AppIDs,
			Delay:    cfg.Steam.Delay,
		}, fetch.New(fetch.Config{Name: collectors.SteamProvider}), a.log))
	}
	if cfg.PlayStore.Enabled {
		if cfg.PlayStore.BaseURL == "" {
			a.log.Warn("gamerank playstore_disabled", "reason", "playstore.base_url not set")
		} else {
			list = append(list, collectors.NewPlayStore(collectors.PlayStoreConfig{
				BaseURL:     cfg.PlayStore.BaseURL,
				Categories:  cfg.PlayStore.Categories,
				Lang:        cfg.PlayStore.Lang,
				Country:     cfg.PlayStore.Country,
				NewListSize: cfg.PlayStore.NewListSize,
				TopListSize: cfg.PlayStore.TopListSize,
				Limit:       cfg.PlayStore.Limit,
				Delay:       cfg.PlayStore.Delay,
				DetailDelay: cfg.PlayStore.DetailDelay,
			}, fetch.New(fetch.Config{Name: collectors.PlayStoreProvider}),
				collectors.NewSocialClassifier(cfg.Social.PositiveKeywords, cfg.Social.NegativeKeywords), a.log))
		}
	}
	if cfg.Scraper.Enabled && len(cfg.Scraper.Sources) > 0 {
		list = append(list, collectors.NewScraper(scrapeSources(cfg.Scraper.Sources), a.pageFetcher(), cfg.Scraper.Delay, a.log))
	}
	return collectors.NewSet(a.log, list...)
}

func (a *app) pageFetcher() collectors.Fetcher {
	sc := a.cfg.Scraper
	if sc.Renderer == "chrome" {
		return &collectors.ChromeFetcher{UserAgent: sc.UserAgent, Timeout: 30 * time.Second}
	}
	return collectors.NewHTTPFetcher(fetch.New(fetch.Config{
		Name:        "scraper",
		MaxAttempts: sc.MaxRetries,
		UserAgent:   sc.UserAgent,
		Backoff:     func(attempt int) time.Duration { return time.Duration(attempt) * 2 * time.Second },
	}))
}

func scrapeSources(in []config.ScrapeSource) []collectors.ScrapeSource {
	out := make([]collectors.ScrapeSource, 0, len(in))
	for _, s := range in {
		typ, ok := game.ParseType(s.GameType)
		if !ok {
			typ = game.TypeConsumer
		}
		out = append(out, collectors.ScrapeSource{
			Name:             s.Name,
			URL:              s.URL,
			BaseURL:          s.BaseURL,
			ItemSelector:     s.ItemSelector,
			TitleSelector:    s.TitleSelector,
			DateSelector:     s.DateSelector,
			PlatformSelector: s.PlatformSelector,
			Type:             typ,
		})
	}
	return out
}

// trendChainConfig leaves provider clients unpaced: trend.delay is applied
// once, by the pipeline, between lookups.
func trendChainConfig(cfg *config.Config) trend.ChainConfig {
	return trend.ChainConfig{
		Names:            cfg.Trend.Chain,
		RAWGAPIKey:       cfg.RAWG.APIKey,
		RAWGBaseURL:      cfg.RAWG.BaseURL,
		WikipediaBaseURL: cfg.Trend.WikipediaBaseURL,
		RedditURL:        cfg.Trend.RedditURL,
		UserAgent:        cfg.Trend.UserAgent,
		WindowDays:       cfg.Trend.WindowDays,
	}
}

func (a *app) resolver() (*trend.Resolver, error) {
	chain, err := trend.BuildChain(trendChainConfig(a.cfg))
	if err != nil {
		return nil, err
	}
	return trend.NewResolver(a.log, chain,
		trend.WithKeywordMaxChars(a.cfg.Trend.KeywordMaxChars),
		trend.WithObserver(a.metrics.ObserveTrendLookup),
	), nil
}

func (a *app) engine() *evaluate.Engine {
	var caller evaluate.LLMCaller
	if c, err := evaluate.NewAnthropicCaller(a.cfg.Oracle.APIKey, a.cfg.Oracle.Model); err != nil {
		a.log.Warn("gamerank oracle_disabled", "err", err)
	} else {
		caller = c
	}
	return evaluate.NewEngine(caller, a.cfg.Oracle.MaxAttempts, a.log, evaluate.WithObserver(a.metrics.ObserveEvaluation))
}

func (a *app) notifier() notify.Notifier {
	if a.cfg.Notify.SlackWebhookURL == "" {
		a.log.Info("gamerank notify_disabled", "reason", "no slack webhook configured")
		return notify.Nop{}
	}
	return notify.NewSlack(a.cfg.Notify.SlackWebhookURL, nil, a.store, a.log)
}

func (a *app) pipeline() (*pipeline.Pipeline, error) {
	resolver, err := a.resolver()
	if err != nil {
		return nil, err
	}
	pc := a.cfg.Pipeline
	opts := pipeline.Options{
		LookbackDays:      pc.LookbackDays,
		QualityThreshold:  pc.QualityThreshold,
		TrendScoredSlots:  pc.TrendScoredSlots,
		TrendTargetLimit:  pc.TrendTargetLimit,
		TypeRankingLimit:  pc.TypeRankingLimit,
		OverallLimit:      pc.OverallLimit,
		TrendDelay:        a.cfg.Trend.Delay,
		EvaluationDelay:   a.cfg.Oracle.Delay,
		NotificationDelay: pc.NotificationDelay,
	}
	return pipeline.New(pipeline.Deps{
		Source:    a.collectorSet(),
		Trends:    resolver,
		Evaluator: a.engine(),
		Store:     a.store,
		Notifier:  a.notifier(),
		Metrics:   a.metrics,
		Tracer:    telemetry.Tracer(),
	}, opts, a.log), nil
}

// exitCode maps a run error onto the process exit status.
func exitCode(err error) int {
	var se *pipeline.StageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &se) && se.Stage == pipeline.StagePrecondition:
		return 2
	default:
		return 1
	}
}
