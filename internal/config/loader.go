package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "GAMERANK_"

// Load layers configuration, lowest precedence first:
//  1. defaults (New)
//  2. YAML file from path, or GAMERANK_CONFIG when path is empty
//  3. env vars with prefix GAMERANK_, "__" separating nested keys
//     (GAMERANK_RAWG__API_KEY -> rawg.api_key); list keys take
//     comma-separated values (GAMERANK_STEAM__APP_IDS=730,570)
//
// A .env file in the working directory is loaded into the environment first
// when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.ProviderWithValue(envPrefix, ".", envValue)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	cfg := New()
	resetOverriddenSlices(k, cfg)
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyWellKnownEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envListKeys are decoded from comma-separated env values.
var envListKeys = map[string]bool{
	"steam.app_ids":            true,
	"playstore.categories":     true,
	"social.positive_keywords": true,
	"social.negative_keywords": true,
	"trend.chain":              true,
}

// envValue maps GAMERANK_RAWG__API_KEY to rawg.api_key and splits list keys
// on commas.
func envValue(name, value string) (string, any) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(name, envPrefix)), "__", ".")
	if !envListKeys[key] {
		return key, value
	}
	parts := []string{}
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return key, parts
}

// resetOverriddenSlices clears defaults for list keys that the file or env
// sets, so decoding replaces the list instead of merging into it.
func resetOverriddenSlices(k *koanf.Koanf, cfg *Config) {
	resets := map[string]func(){
		"steam.app_ids":            func() { cfg.Steam.AppIDs = nil },
		"playstore.categories":     func() { cfg.PlayStore.Categories = nil },
		"scraper.sources":          func() { cfg.Scraper.Sources = nil },
		"social.positive_keywords": func() { cfg.Social.PositiveKeywords = nil },
		"social.negative_keywords": func() { cfg.Social.NegativeKeywords = nil },
		"trend.chain":              func() { cfg.Trend.Chain = nil },
	}
	for key, reset := range resets {
		if k.Exists(key) {
			reset()
		}
	}
}

// applyWellKnownEnv honours the provider-conventional variable names when the
// prefixed ones are not set.
func applyWellKnownEnv(cfg *Config) {
	if cfg.RAWG.APIKey == "" {
		cfg.RAWG.APIKey = strings.TrimSpace(os.Getenv("RAWG_API_KEY"))
	}
	if cfg.Oracle.APIKey == "" {
		cfg.Oracle.APIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	}
	if cfg.Notify.SlackWebhookURL == "" {
		cfg.Notify.SlackWebhookURL = strings.TrimSpace(os.Getenv("SLACK_WEBHOOK_URL"))
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_URL")); v != "" && os.Getenv(envPrefix+"DATABASE__DSN") == "" {
		cfg.Database.DSN = v
	}
}
