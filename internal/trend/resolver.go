// Package trend resolves a bounded popularity score for a game title by
// walking an ordered chain of external signal providers.
package trend

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joelkehle/gamerank/internal/logging"
)

const (
	MaxScore = 10.0
	// DefaultKeywordMaxChars is the title length above which only the
	// leading token is looked up.
	DefaultKeywordMaxChars = 30
)

// Provider is one trend signal. A score of zero with a nil error means the
// provider has no data for the keyword.
type Provider interface {
	Name() string
	Score(ctx context.Context, keyword string) (float64, error)
}

// Result is the outcome of one resolution. Provider is empty when no
// provider had data.
type Result struct {
	Keyword  string
	Score    float64
	Provider string
}

// Observer is notified after each provider lookup. Outcome is one of
// "hit", "miss" or "error".
type Observer func(provider, outcome string, elapsed time.Duration)

type Resolver struct {
	chain           []Provider
	keywordMaxChars int
	log             *logging.Logger
	observe         Observer
}

type Option func(*Resolver)

func WithKeywordMaxChars(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.keywordMaxChars = n
		}
	}
}

func WithObserver(o Observer) Option {
	return func(r *Resolver) { r.observe = o }
}

func NewResolver(log *logging.Logger, chain []Provider, opts ...Option) *Resolver {
	r := &Resolver{chain: chain, keywordMaxChars: DefaultKeywordMaxChars, log: logging.OrNop(log)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve looks up one keyword derived from title. The first provider that
// returns a positive score wins and later providers are not called.
func (r *Resolver) Resolve(ctx context.Context, title string) Result {
	kw := Keyword(title, r.keywordMaxChars)
	res := Result{Keyword: kw}
	if kw == "" {
		return res
	}
	for _, p := range r.chain {
		if ctx.Err() != nil {
			break
		}
		started := time.Now()
		score, err := p.Score(ctx, kw)
		elapsed := time.Since(started)
		switch {
		case err != nil:
			r.log.Warn("trend provider_error", "provider", p.Name(), "keyword", kw, "err", err)
			r.notify(p.Name(), "error", elapsed)
			continue
		case score <= 0:
			r.notify(p.Name(), "miss", elapsed)
			continue
		}
		r.notify(p.Name(), "hit", elapsed)
		res.Score = Clamp(score)
		res.Provider = p.Name()
		r.log.Debug("trend resolved", "provider", p.Name(), "keyword", kw, "score", res.Score)
		return res
	}
	r.log.Debug("trend no_data", "keyword", kw)
	return res
}

func (r *Resolver) notify(provider, outcome string, elapsed time.Duration) {
	if r.observe != nil {
		r.observe(provider, outcome, elapsed)
	}
}

var keywordSplit = regexp.MustCompile(`[\s:：-]+`)

// Keyword reduces a title to the single lookup term: the title itself, or
// its leading token when the title is longer than maxChars characters.
func Keyword(title string, maxChars int) string {
	title = strings.TrimSpace(title)
	if maxChars <= 0 {
		maxChars = DefaultKeywordMaxChars
	}
	if utf8.RuneCountInString(title) <= maxChars {
		return title
	}
	for _, tok := range keywordSplit.Split(title, -1) {
		if tok != "" {
			return tok
		}
	}
	return title
}

// Clamp bounds a score into [0, MaxScore].
func Clamp(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}
