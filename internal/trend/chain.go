package trend

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/joelkehle/gamerank/internal/fetch"
)

type ChainConfig struct {
	Names            []string
	RAWGAPIKey       string
	RAWGBaseURL      string
	WikipediaBaseURL string
	RedditURL        string
	UserAgent        string
	WindowDays       int
	// MinInterval paces each provider independently.
	MinInterval time.Duration
	HTTPClient  *http.Client
}

// BuildChain instantiates providers in the configured order. Known names are
// rawg, wikipedia-en, wikipedia-ja and reddit.
func BuildChain(cfg ChainConfig) ([]Provider, error) {
	window := time.Duration(cfg.WindowDays) * 24 * time.Hour
	client := func(name string) *fetch.Client {
		return fetch.New(fetch.Config{
			Name:        "trend-" + name,
			MinInterval: cfg.MinInterval,
			UserAgent:   cfg.UserAgent,
			HTTPClient:  cfg.HTTPClient,
		})
	}
	var chain []Provider
	for _, raw := range cfg.Names {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case "rawg":
			chain = append(chain, &RAWGWishlist{APIKey: cfg.RAWGAPIKey, BaseURL: cfg.RAWGBaseURL, Client: client(name)})
		case "wikipedia-en":
			chain = append(chain, &Wikipedia{Lang: "en", Divisor: 1000, BaseURL: cfg.WikipediaBaseURL, Window: window, UserAgent: cfg.UserAgent, Client: client(name)})
		case "wikipedia-ja":
			chain = append(chain, &Wikipedia{Lang: "ja", Divisor: 500, BaseURL: cfg.WikipediaBaseURL, Window: window, UserAgent: cfg.UserAgent, Client: client(name)})
		case "reddit":
			chain = append(chain, &Reddit{SearchURL: cfg.RedditURL, UserAgent: cfg.UserAgent, Client: client(name)})
		default:
			return nil, fmt.Errorf("unknown trend provider %q", raw)
		}
	}
	return chain, nil
}
