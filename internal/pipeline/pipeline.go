// Package pipeline sequences one evaluation run: collect, merge and filter,
// resolve trends, evaluate, persist, rank and notify. Only a storage
// precondition failure ends a run early; every per-item failure is absorbed
// inside its stage.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/joelkehle/gamerank/internal/collectors"
	"github.com/joelkehle/gamerank/internal/game"
	"github.com/joelkehle/gamerank/internal/logging"
	"github.com/joelkehle/gamerank/internal/notify"
	"github.com/joelkehle/gamerank/internal/ranking"
	"github.com/joelkehle/gamerank/internal/telemetry"
	"github.com/joelkehle/gamerank/internal/trend"
)

const StagePrecondition = "precondition"

type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

type Source interface {
	CollectAll(ctx context.Context, w collectors.Window) []game.CandidateRecord
}

type TrendResolver interface {
	Resolve(ctx context.Context, title string) trend.Result
}

// Evaluator must always return in-range scores, falling back to a neutral
// default on failure.
type Evaluator interface {
	Evaluate(ctx context.Context, c game.CandidateRecord, trendScore float64) game.Scores
}

type Store interface {
	ranking.Reader
	Ping(ctx context.Context) error
	UpsertGame(ctx context.Context, c game.CandidateRecord) (int64, error)
	InsertEvaluation(ctx context.Context, gameID int64, date string, typ game.EvaluationType, sc game.Scores) (int64, error)
}

// Migrator is implemented by stores that prepare their schema. When the
// configured store has it, schema preparation is part of the run's storage
// precondition.
type Migrator interface {
	Migrate(ctx context.Context) error
}

type Options struct {
	LookbackDays      int
	QualityThreshold  float64
	TrendScoredSlots  int
	TrendTargetLimit  int
	TypeRankingLimit  int
	OverallLimit      int
	TrendDelay        time.Duration
	EvaluationDelay   time.Duration
	NotificationDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		LookbackDays:      7,
		QualityThreshold:  game.DefaultQualityThreshold,
		TrendScoredSlots:  game.DefaultTrendScoredSlots,
		TrendTargetLimit:  game.DefaultTrendTargetLimit,
		TypeRankingLimit:  50,
		OverallLimit:      100,
		TrendDelay:        time.Second,
		EvaluationDelay:   2 * time.Second,
		NotificationDelay: time.Second,
	}
}

type Deps struct {
	Source    Source
	Trends    TrendResolver
	Evaluator Evaluator
	Store     Store
	Notifier  notify.Notifier
	Metrics   *telemetry.Metrics
	Tracer    trace.Tracer
}

// Result summarizes a finished run.
type Result struct {
	RunID        string
	Date         string
	Collected    int
	Unique       int
	Filtered     int
	TrendTargets int
	Evaluated    int
	Persisted    int
	Stats        game.Stats
	Rankings     map[string][]game.RankingRow
}

// Ranking keys in Result.Rankings.
const (
	RankingConsumer = "consumer"
	RankingSocial   = "social"
	RankingOverall  = "all"
)

type Pipeline struct {
	deps    Deps
	opts    Options
	ranks   *ranking.Service
	trigger *Trigger
	status  statusBox
	log     *logging.Logger
	now     func() time.Time
	sleep   func(time.Duration)
	wg      sync.WaitGroup
}

type Option func(*Pipeline)

func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

func WithSleep(sleep func(time.Duration)) Option { return func(p *Pipeline) { p.sleep = sleep } }

// WithTrigger shares a run guard across pipelines in one process.
func WithTrigger(t *Trigger) Option { return func(p *Pipeline) { p.trigger = t } }

func New(deps Deps, opts Options, log *logging.Logger, options ...Option) *Pipeline {
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer(telemetry.TracerName)
	}
	p := &Pipeline{
		deps:    deps,
		opts:    opts,
		ranks:   ranking.NewService(deps.Store),
		trigger: &Trigger{},
		log:     logging.OrNop(log),
		now:     time.Now,
		sleep:   time.Sleep,
	}
	p.status.st.State = StateIdle
	for _, o := range options {
		o(p)
	}
	return p
}

func (p *Pipeline) IsRunning() bool { return p.trigger.IsRunning() }

func (p *Pipeline) Status() Status {
	st := p.status.get()
	st.Running = p.trigger.IsRunning()
	return st
}

// Run executes one run synchronously. It returns ErrAlreadyRunning without
// side effects when another run holds the guard.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	if !p.trigger.TryStart() {
		return Result{}, ErrAlreadyRunning
	}
	defer p.trigger.Finish()
	return p.run(ctx)
}

// Start launches a run in the background. The run is detached from ctx's
// cancellation and always proceeds to a terminal state.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.trigger.TryStart() {
		return ErrAlreadyRunning
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.trigger.Finish()
		if _, err := p.run(context.WithoutCancel(ctx)); err != nil {
			p.log.Error("pipeline run_failed", "err", err)
		}
	}()
	return nil
}

// Wait blocks until background runs started with Start have finished.
func (p *Pipeline) Wait() { p.wg.Wait() }

func (p *Pipeline) run(ctx context.Context) (Result, error) {
	started := p.now()
	res := Result{
		RunID:    uuid.NewString(),
		Date:     started.Format(game.DateLayout),
		Rankings: map[string][]game.RankingRow{},
	}
	log := p.log.With("run_id", res.RunID)
	p.status.update(func(s *Status) {
		*s = Status{RunID: res.RunID, State: StateIdle, Date: res.Date, StartedAt: started}
	})
	if p.deps.Metrics != nil {
		p.deps.Metrics.RunStarted()
	}
	ctx, span := p.deps.Tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run_id", res.RunID),
		attribute.String("evaluation_date", res.Date),
	))
	defer span.End()
	log.Info("pipeline run_start", "date", res.Date)

	if err := p.precondition(ctx); err != nil {
		serr := &StageError{Stage: StagePrecondition, Err: err}
		span.RecordError(serr)
		span.SetStatus(codes.Error, "storage unavailable")
		p.finish(log, StateFailed, started, serr)
		if nerr := p.deps.Notifier.SendError(ctx, serr.Error(), "pipeline "+StagePrecondition); nerr != nil {
			log.Warn("pipeline notify_failed", "kind", notify.KindError, "err", nerr)
		}
		return res, serr
	}

	p.enter(log, StateCollecting)
	raw := p.collect(ctx, started)
	res.Collected = len(raw)

	p.enter(log, StateFiltering)
	unique := game.Merge(raw)
	filtered := game.FilterByQuality(unique, p.opts.QualityThreshold)
	res.Unique, res.Filtered = len(unique), len(filtered)
	p.observeStage(StateFiltering, len(filtered))
	log.Info("pipeline filtered", "collected", res.Collected, "unique", res.Unique, "kept", res.Filtered)

	p.enter(log, StateTrendResolving)
	trends, targets := p.resolveTrends(ctx, filtered)
	res.TrendTargets = targets

	p.enter(log, StateEvaluating)
	res.Evaluated, res.Persisted = p.evaluateAndPersist(ctx, log, res.Date, filtered, trends)
	log.Info("pipeline persisted", "evaluated", res.Evaluated, "persisted", res.Persisted)

	p.enter(log, StateRanking)
	p.rank(ctx, log, &res)

	p.enter(log, StateNotifying)
	p.notify(ctx, log, res)

	p.finish(log, StateDone, started, nil)
	span.SetAttributes(attribute.Int("evaluated", res.Evaluated), attribute.Int("persisted", res.Persisted))
	return res, nil
}

// precondition checks storage reachability and prepares the schema when
// the store supports it.
func (p *Pipeline) precondition(ctx context.Context) error {
	if err := p.deps.Store.Ping(ctx); err != nil {
		return err
	}
	if m, ok := p.deps.Store.(Migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			return fmt.Errorf("prepare schema: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) enter(log *logging.Logger, state State) {
	p.status.update(func(s *Status) { s.State = state })
	log.Info("pipeline state", "state", state)
}

func (p *Pipeline) finish(log *logging.Logger, state State, started time.Time, err error) {
	finished := p.now()
	p.status.update(func(s *Status) {
		s.State = state
		s.FinishedAt = finished
		if err != nil {
			s.Error = err.Error()
		}
	})
	if p.deps.Metrics != nil {
		p.deps.Metrics.RunFinished(string(state), finished.Sub(started))
	}
	if err != nil {
		log.Error("pipeline run_end", "state", state, "err", err)
		return
	}
	log.Info("pipeline run_end", "state", state, "elapsed_ms", finished.Sub(started).Milliseconds())
}

func (p *Pipeline) observeStage(state State, n int) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.StageCandidates(string(state), n)
	}
}

func (p *Pipeline) span(ctx context.Context, state State) (context.Context, trace.Span) {
	return p.deps.Tracer.Start(ctx, "pipeline."+string(state))
}

func (p *Pipeline) pause(i int, d time.Duration) {
	if i > 0 && d > 0 {
		p.sleep(d)
	}
}

func (p *Pipeline) collect(ctx context.Context, now time.Time) []game.CandidateRecord {
	ctx, span := p.span(ctx, StateCollecting)
	defer span.End()
	raw := p.deps.Source.CollectAll(ctx, collectors.WindowFor(now, p.opts.LookbackDays))
	span.SetAttributes(attribute.Int("records", len(raw)))
	p.observeStage(StateCollecting, len(raw))
	return raw
}

// resolveTrends looks up the selected targets only. Scores are keyed by
// title and consumed by the evaluation stage of this run.
func (p *Pipeline) resolveTrends(ctx context.Context, filtered []game.CandidateRecord) (map[string]float64, int) {
	ctx, span := p.span(ctx, StateTrendResolving)
	defer span.End()
	targets := game.SelectTrendTargets(filtered, p.opts.TrendScoredSlots, p.opts.TrendTargetLimit)
	scores := make(map[string]float64, len(targets))
	for i, c := range targets {
		p.pause(i, p.opts.TrendDelay)
		scores[c.Title] = p.deps.Trends.Resolve(ctx, c.Title).Score
	}
	span.SetAttributes(attribute.Int("targets", len(targets)))
	p.observeStage(StateTrendResolving, len(targets))
	return scores, len(targets)
}

// evaluateAndPersist scores each candidate and writes it before moving to
// the next one, so a run that dies part way keeps what it already scored.
// The status alternates between evaluating and persisting per item.
func (p *Pipeline) evaluateAndPersist(ctx context.Context, log *logging.Logger, date string, filtered []game.CandidateRecord, trends map[string]float64) (int, int) {
	ctx, span := p.span(ctx, StateEvaluating)
	defer span.End()
	evaluated, saved := 0, 0
	for i, c := range filtered {
		p.status.update(func(s *Status) { s.State = StateEvaluating })
		p.pause(i, p.opts.EvaluationDelay)
		scores := p.deps.Evaluator.Evaluate(ctx, c, trends[c.Title])
		evaluated++

		p.status.update(func(s *Status) { s.State = StatePersisting; s.Evaluated = evaluated })
		if p.persistOne(ctx, log, date, c, scores) {
			saved++
			p.status.update(func(s *Status) { s.Persisted = saved })
		}
	}
	span.SetAttributes(attribute.Int("evaluated", evaluated), attribute.Int("persisted", saved))
	p.observeStage(StateEvaluating, evaluated)
	p.observeStage(StatePersisting, saved)
	return evaluated, saved
}

// persistOne writes the game and its evaluation as independent units. A
// failure is logged and the item skipped; earlier writes stay.
func (p *Pipeline) persistOne(ctx context.Context, log *logging.Logger, date string, c game.CandidateRecord, scores game.Scores) bool {
	id, err := p.deps.Store.UpsertGame(ctx, c)
	if err != nil {
		log.Error("pipeline upsert_failed", "title", c.Title, "err", err)
		p.persistFailure("upsert_game")
		return false
	}
	if _, err := p.deps.Store.InsertEvaluation(ctx, id, date, c.EvaluationType(), scores); err != nil {
		log.Error("pipeline insert_evaluation_failed", "title", c.Title, "game_id", id, "err", err)
		p.persistFailure("insert_evaluation")
		return false
	}
	return true
}

func (p *Pipeline) persistFailure(op string) {
	if p.deps.Metrics != nil {
		p.deps.Metrics.PersistFailure(op)
	}
}

func (p *Pipeline) rank(ctx context.Context, log *logging.Logger, res *Result) {
	ctx, span := p.span(ctx, StateRanking)
	defer span.End()
	queries := []struct {
		key   string
		typ   game.GameType
		limit int
	}{
		{RankingConsumer, game.TypeConsumer, p.opts.TypeRankingLimit},
		{RankingSocial, game.TypeSocial, p.opts.TypeRankingLimit},
		{RankingOverall, "", p.opts.OverallLimit},
	}
	for _, q := range queries {
		rows, err := p.ranks.Rank(ctx, res.Date, q.typ, q.limit)
		if err != nil {
			log.Error("pipeline ranking_failed", "ranking", q.key, "err", err)
			continue
		}
		res.Rankings[q.key] = rows
	}
	stats, err := p.ranks.Stats(ctx, res.Date)
	if err != nil {
		log.Error("pipeline stats_failed", "err", err)
		stats = game.Stats{Date: res.Date}
	}
	res.Stats = stats
	log.Info("pipeline ranked", "total", stats.TotalGames, "consumer", stats.ConsumerCount, "social", stats.SocialCount, "average", stats.AverageScore)
}

// notify is best effort. Failures are logged and never fail the run.
func (p *Pipeline) notify(ctx context.Context, log *logging.Logger, res Result) {
	ctx, span := p.span(ctx, StateNotifying)
	defer span.End()
	type send struct {
		kind string
		send func() error
	}
	var sends []send
	for _, t := range []game.GameType{game.TypeConsumer, game.TypeSocial} {
		rows := res.Rankings[string(t)]
		if len(rows) == 0 {
			continue
		}
		sends = append(sends, send{notify.KindRanking, func() error {
			return p.deps.Notifier.SendRanking(ctx, rows, res.Date, t)
		}})
	}
	sends = append(sends, send{notify.KindCompletion, func() error { return p.deps.Notifier.SendCompletion(ctx, res.Stats) }})
	for i, s := range sends {
		p.pause(i, p.opts.NotificationDelay)
		if err := s.send(); err != nil {
			log.Warn("pipeline notify_failed", "kind", s.kind, "err", err)
		}
	}
}
