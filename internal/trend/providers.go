package trend

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/joelkehle/gamerank/internal/fetch"
)

// RAWGWishlist scores a keyword by how many RAWG users added the best
// matching game; 100,000 adds maps to the maximum.
type RAWGWishlist struct {
	APIKey  string
	BaseURL string
	Client  *fetch.Client
}

func (p *RAWGWishlist) Name() string { return "rawg" }

func (p *RAWGWishlist) Score(ctx context.Context, keyword string) (float64, error) {
	if strings.TrimSpace(p.APIKey) == "" {
		return 0, nil
	}
	base := p.BaseURL
	if base == "" {
		base = "https://api.rawg.io/api"
	}
	q := url.Values{}
	q.Set("key", p.APIKey)
	q.Set("search", keyword)
	q.Set("page_size", "5")
	var resp struct {
		Results []struct {
			Added int `json:"added"`
		} `json:"results"`
	}
	if err := p.Client.GetJSON(ctx, strings.TrimRight(base, "/")+"/games?"+q.Encode(), nil, &resp); err != nil {
		return 0, err
	}
	if len(resp.Results) == 0 {
		return 0, nil
	}
	return Clamp(float64(resp.Results[0].Added) / 10000), nil
}

// Wikipedia scores a keyword by average daily page views of the matching
// article in one language edition, divided by Divisor. A missing article is
// no data.
type Wikipedia struct {
	Lang    string
	Divisor float64
	BaseURL string
	// Window is how many days of views are averaged.
	Window    time.Duration
	UserAgent string
	Client    *fetch.Client
	Now       func() time.Time
}

const DefaultPageviewsURL = "https://wikimedia.org/api/rest_v1/metrics/pageviews"

func (p *Wikipedia) Name() string { return "wikipedia-" + p.Lang }

func (p *Wikipedia) Score(ctx context.Context, keyword string) (float64, error) {
	base := p.BaseURL
	if base == "" {
		base = DefaultPageviewsURL
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	window := p.Window
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	end := now().UTC()
	start := end.Add(-window)
	u := fmt.Sprintf("%s/per-article/%s.wikipedia/all-access/user/%s/daily/%s/%s",
		strings.TrimRight(base, "/"), p.Lang, url.PathEscape(ArticleTitle(keyword)),
		start.Format("20060102"), end.Format("20060102"))

	headers := map[string]string{}
	if p.UserAgent != "" {
		headers["Api-User-Agent"] = p.UserAgent
	}
	var resp struct {
		Items []struct {
			Views int64 `json:"views"`
		} `json:"items"`
	}
	if err := p.Client.GetJSON(ctx, u, headers, &resp); err != nil {
		if fetch.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	if len(resp.Items) == 0 || p.Divisor <= 0 {
		return 0, nil
	}
	var total int64
	for _, it := range resp.Items {
		total += it.Views
	}
	avg := float64(total) / float64(len(resp.Items))
	return Clamp(avg / p.Divisor), nil
}

var (
	articleSpace = regexp.MustCompile(`\s+`)
	articlePunct = regexp.MustCompile(`[：:－–—-]`)
)

// ArticleTitle converts a keyword to Wikipedia's underscore title form.
func ArticleTitle(keyword string) string {
	t := articleSpace.ReplaceAllString(strings.TrimSpace(keyword), "_")
	return articlePunct.ReplaceAllString(t, "_")
}

// Reddit scores a keyword by summed upvotes of posts from the last month;
// 1,000 upvotes maps to the maximum.
type Reddit struct {
	SearchURL string
	UserAgent string
	Client    *fetch.Client
	Now       func() time.Time
}

func (p *Reddit) Name() string { return "reddit" }

func (p *Reddit) Score(ctx context.Context, keyword string) (float64, error) {
	base := p.SearchURL
	if base == "" {
		base = "https://www.reddit.com/search.json"
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	q := url.Values{}
	q.Set("q", keyword)
	q.Set("sort", "new")
	q.Set("limit", "100")
	q.Set("t", "month")
	var resp struct {
		Data struct {
			Children []struct {
				Data struct {
					Score      int     `json:"score"`
					CreatedUTC float64 `json:"created_utc"`
				} `json:"data"`
			} `json:"children"`
		} `json:"data"`
	}
	if err := p.Client.GetJSON(ctx, base+"?"+q.Encode(), nil, &resp); err != nil {
		return 0, err
	}
	cutoff := now().AddDate(0, 0, -30).Unix()
	total := 0
	for _, c := range resp.Data.Children {
		if int64(c.Data.CreatedUTC) > cutoff {
			total += c.Data.Score
		}
	}
	return Clamp(float64(total) / 100), nil
}
