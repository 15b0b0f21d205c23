// Package evaluate scores one game with the generative oracle. It never
// fails: any oracle problem yields the neutral default.
package evaluate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/joelkehle/gamerank/internal/game"
	"github.com/joelkehle/gamerank/internal/logging"
)

const (
	NeutralScore      = 5.0
	DefaultReasoning  = "Not enough information to evaluate; assigned a neutral score."
	FallbackReasoning = "Evaluated."
	minSubScore       = 0.0
	maxSubScore       = 10.0
	minTotalScore     = 1.0
	maxTotalScore     = 10.0
	maxReasoningRunes = 300
)

// Default is the neutral evaluation used whenever the oracle cannot produce
// a conforming answer.
func Default() game.Scores {
	return game.Scores{
		Trend:     NeutralScore,
		Brand:     NeutralScore,
		Series:    NeutralScore,
		Sales:     NeutralScore,
		Total:     NeutralScore,
		Reasoning: DefaultReasoning,
	}
}

// oracleResponse keeps raw values so non-numeric fields can be coerced
// instead of failing the whole decode.
type oracleResponse struct {
	Trend     json.RawMessage `json:"trend_score"`
	Brand     json.RawMessage `json:"brand_score"`
	Series    json.RawMessage `json:"series_score"`
	Sales     json.RawMessage `json:"sales_score"`
	Total     json.RawMessage `json:"total_score"`
	Reasoning json.RawMessage `json:"reasoning"`
}

func (r *oracleResponse) validate() error {
	if len(bytes.TrimSpace(r.Total)) == 0 || string(bytes.TrimSpace(r.Total)) == "null" {
		return errors.New("total_score is required")
	}
	return nil
}

// Normalize coerces and clamps an oracle answer: sub-scores into [0,10],
// total into [1,10]. Non-numeric values count as 0 before clamping.
func Normalize(trend, brand, series, sales, total any, reasoning string) game.Scores {
	s := game.Scores{
		Trend:     clamp(toNumber(trend), minSubScore, maxSubScore),
		Brand:     clamp(toNumber(brand), minSubScore, maxSubScore),
		Series:    clamp(toNumber(series), minSubScore, maxSubScore),
		Sales:     clamp(toNumber(sales), minSubScore, maxSubScore),
		Total:     clamp(toNumber(total), minTotalScore, maxTotalScore),
		Reasoning: strings.TrimSpace(reasoning),
	}
	if s.Reasoning == "" {
		s.Reasoning = FallbackReasoning
	}
	if r := []rune(s.Reasoning); len(r) > maxReasoningRunes {
		s.Reasoning = string(r[:maxReasoningRunes])
	}
	return s
}

func (r *oracleResponse) scores() game.Scores {
	var reasoning string
	if err := json.Unmarshal(r.Reasoning, &reasoning); err != nil {
		reasoning = ""
	}
	return Normalize(raw(r.Trend), raw(r.Brand), raw(r.Series), raw(r.Sales), raw(r.Total), reasoning)
}

func raw(m json.RawMessage) any {
	if len(m) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(m, &v); err != nil {
		return nil
	}
	return v
}

func toNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// Outcome labels for the engine observer.
const (
	OutcomeScored    = "scored"
	OutcomeDefaulted = "defaulted"
)

type Engine struct {
	exec    *Executor
	log     *logging.Logger
	observe func(gameType game.GameType, outcome string)
}

type Option func(*Engine)

func WithObserver(fn func(gameType game.GameType, outcome string)) Option {
	return func(e *Engine) { e.observe = fn }
}

// NewEngine builds an engine over caller. A nil caller is allowed: every
// evaluation is then the neutral default.
func NewEngine(caller LLMCaller, maxAttempts int, log *logging.Logger, opts ...Option) *Engine {
	e := &Engine{log: logging.OrNop(log)}
	if caller != nil {
		e.exec = NewExecutor(caller, maxAttempts, log)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) ModelName() string { return e.exec.ModelName() }

// Evaluate scores c. It always returns in-range scores.
func (e *Engine) Evaluate(ctx context.Context, c game.CandidateRecord, trendScore float64) game.Scores {
	if e.exec == nil {
		e.log.Warn("evaluate oracle_unavailable", "title", c.Title)
		e.record(c.Type, OutcomeDefaulted)
		return Default()
	}
	var resp oracleResponse
	attempts, err := e.exec.Run(ctx, "evaluate-"+string(c.Type), PromptFor(c, trendScore), &resp, resp.validate)
	if err != nil {
		e.log.Error("evaluate defaulted", "title", c.Title, "type", c.Type, "attempts", attempts, "err", err)
		e.record(c.Type, OutcomeDefaulted)
		return Default()
	}
	scores := resp.scores()
	e.log.Info("evaluate scored", "title", c.Title, "type", c.Type, "total", scores.Total, "attempts", attempts)
	e.record(c.Type, OutcomeScored)
	return scores
}

func (e *Engine) record(t game.GameType, outcome string) {
	if e.observe != nil {
		e.observe(t, outcome)
	}
}
