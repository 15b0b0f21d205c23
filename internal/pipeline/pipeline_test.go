package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joelkehle/gamerank/internal/collectors"
	"github.com/joelkehle/gamerank/internal/game"
	"github.com/joelkehle/gamerank/internal/store"
	"github.com/joelkehle/gamerank/internal/telemetry"
	"github.com/joelkehle/gamerank/internal/trend"
)

var testNow = time.Date(2024, 12, 15, 10, 0, 0, 0, time.UTC)

type fakeSource struct {
	recs  []game.CandidateRecord
	calls atomic.Int32
}

func (f *fakeSource) CollectAll(_ context.Context, w collectors.Window) []game.CandidateRecord {
	f.calls.Add(1)
	return f.recs
}

type blockingSource struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingSource) CollectAll(context.Context, collectors.Window) []game.CandidateRecord {
	b.calls.Add(1)
	close(b.entered)
	<-b.release
	return nil
}

type fakeTrends struct {
	mu     sync.Mutex
	titles []string
}

func (f *fakeTrends) Resolve(_ context.Context, title string) trend.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
	return trend.Result{Keyword: title, Score: 4, Provider: "fake"}
}

type fakeEvaluator struct {
	mu    sync.Mutex
	seen  []string
	trend map[string]float64
}

func (f *fakeEvaluator) Evaluate(_ context.Context, c game.CandidateRecord, trendScore float64) game.Scores {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, c.Title)
	if f.trend == nil {
		f.trend = map[string]float64{}
	}
	f.trend[c.Title] = trendScore
	return game.Scores{Trend: trendScore, Brand: 6, Series: 6, Sales: 6, Total: 7, Reasoning: "ok"}
}

type sentRanking struct {
	gameType game.GameType
	rows     int
}

type recNotifier struct {
	mu         sync.Mutex
	rankings   []sentRanking
	errors     []string
	completion *game.Stats
	fail       error
}

func (n *recNotifier) SendRanking(_ context.Context, rows []game.RankingRow, _ string, t game.GameType) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rankings = append(n.rankings, sentRanking{gameType: t, rows: len(rows)})
	return n.fail
}

func (n *recNotifier) SendError(_ context.Context, message, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, message)
	return n.fail
}

func (n *recNotifier) SendCompletion(_ context.Context, st game.Stats) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completion = &st
	return n.fail
}

// memStore satisfies Store without a database.
type memStore struct {
	pingErr    error
	migrateErr error
	upserts    atomic.Int32
}

func (m *memStore) Ping(context.Context) error    { return m.pingErr }
func (m *memStore) Migrate(context.Context) error { return m.migrateErr }
func (m *memStore) UpsertGame(context.Context, game.CandidateRecord) (int64, error) {
	return int64(m.upserts.Add(1)), nil
}
func (m *memStore) InsertEvaluation(context.Context, int64, string, game.EvaluationType, game.Scores) (int64, error) {
	return 1, nil
}
func (m *memStore) Ranking(context.Context, string, game.GameType, int) ([]game.RankingRow, error) {
	return nil, nil
}
func (m *memStore) Stats(_ context.Context, date string) (game.Stats, error) {
	return game.Stats{Date: date}, nil
}
func (m *memStore) LatestDate(context.Context) (string, error) { return "", store.ErrNotFound }
func (m *memStore) ScoreDistribution(context.Context, string) ([]game.ScoreBucket, error) {
	return nil, nil
}

func testOptions() Options {
	o := DefaultOptions()
	o.TrendDelay, o.EvaluationDelay, o.NotificationDelay = 0, 0, 0
	return o
}

func newTestPipeline(deps Deps) *Pipeline {
	return New(deps, testOptions(), nil,
		WithClock(func() time.Time { return testNow }),
		WithSleep(func(time.Duration) {}),
	)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "gamerank.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func ptr(v float64) *float64 { return &v }

func TestRunEndToEndDeduplicatesAndPersists(t *testing.T) {
	src := &fakeSource{recs: []game.CandidateRecord{
		{Title: "Astro Quest", Type: game.TypeConsumer, Provider: "rawg", NativeID: "1", QualitySignal: ptr(85)},
		{Title: "Astro Quest Deluxe", Type: game.TypeConsumer, Provider: "rawg", NativeID: "1"},
		{Title: "Guild Saga", Type: game.TypeSocial, Provider: "googleplay"},
	}}
	trends := &fakeTrends{}
	eval := &fakeEvaluator{}
	notifier := &recNotifier{}
	st := openStore(t)

	p := newTestPipeline(Deps{Source: src, Trends: trends, Evaluator: eval, Store: st, Notifier: notifier, Metrics: telemetry.NewMetrics()})
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Collected != 3 || res.Unique != 2 || res.Filtered != 2 || res.Evaluated != 2 || res.Persisted != 2 {
		t.Fatalf("unexpected counts %+v", res)
	}
	if len(eval.seen) != 2 || eval.seen[0] != "Astro Quest" || eval.seen[1] != "Guild Saga" {
		t.Fatalf("first-seen record must win, evaluated %v", eval.seen)
	}
	if eval.trend["Astro Quest"] != 4 {
		t.Fatalf("trend score not passed to evaluation: %v", eval.trend)
	}

	stats, err := st.Stats(context.Background(), "2024-12-15")
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalGames != 2 || stats.ConsumerCount != 1 || stats.SocialCount != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if res.Stats.TotalGames != 2 || len(res.Rankings[RankingOverall]) != 2 {
		t.Fatalf("unexpected run ranking %+v", res)
	}
	if len(notifier.rankings) != 2 || notifier.completion == nil || notifier.completion.TotalGames != 2 {
		t.Fatalf("unexpected notifications %+v", notifier)
	}
	if got := p.Status(); got.State != StateDone || got.Running || got.RunID != res.RunID || got.Persisted != 2 {
		t.Fatalf("unexpected status %+v", got)
	}
}

func TestRunDropsLowQualityCandidates(t *testing.T) {
	src := &fakeSource{recs: []game.CandidateRecord{
		{Title: "Good", Provider: "rawg", NativeID: "1", QualitySignal: ptr(60)},
		{Title: "Bad", Provider: "rawg", NativeID: "2", QualitySignal: ptr(59)},
		{Title: "Unrated"},
	}}
	eval := &fakeEvaluator{}
	p := newTestPipeline(Deps{Source: src, Trends: &fakeTrends{}, Evaluator: eval, Store: &memStore{}})
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Filtered != 2 || len(eval.seen) != 2 {
		t.Fatalf("expected Good and Unrated only, got %v", eval.seen)
	}
}

func TestRunRejectsConcurrentTrigger(t *testing.T) {
	src := &blockingSource{entered: make(chan struct{}), release: make(chan struct{})}
	p := newTestPipeline(Deps{Source: src, Trends: &fakeTrends{}, Evaluator: &fakeEvaluator{}, Store: &memStore{}})
	ctx := context.Background()

	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	<-src.entered
	if !p.IsRunning() {
		t.Fatal("expected running")
	}
	if _, err := p.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if err := p.Start(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	close(src.release)
	p.Wait()

	if p.IsRunning() {
		t.Fatal("guard must be released after the run")
	}
	if n := src.calls.Load(); n != 1 {
		t.Fatalf("expected one orchestrator instance, got %d collections", n)
	}
	if st := p.Status(); st.State != StateDone {
		t.Fatalf("unexpected state %q", st.State)
	}
}

func TestSharedTriggerGuardsAcrossPipelines(t *testing.T) {
	tr := &Trigger{}
	if !tr.TryStart() {
		t.Fatal("fresh trigger must accept")
	}
	p := New(Deps{Source: &fakeSource{}, Trends: &fakeTrends{}, Evaluator: &fakeEvaluator{}, Store: &memStore{}}, testOptions(), nil, WithTrigger(tr))
	if _, err := p.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	tr.Finish()
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestRunFailsOnStoragePrecondition(t *testing.T) {
	src := &fakeSource{recs: []game.CandidateRecord{{Title: "A"}}}
	notifier := &recNotifier{}
	p := newTestPipeline(Deps{Source: src, Trends: &fakeTrends{}, Evaluator: &fakeEvaluator{}, Store: &memStore{pingErr: errors.New("connection refused")}, Notifier: notifier})

	_, err := p.Run(context.Background())
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StagePrecondition {
		t.Fatalf("expected precondition StageError, got %v", err)
	}
	if src.calls.Load() != 0 {
		t.Fatal("collectors must not run after a precondition failure")
	}
	if len(notifier.errors) != 1 {
		t.Fatalf("expected one error notification, got %v", notifier.errors)
	}
	if st := p.Status(); st.State != StateFailed || st.Error == "" || st.Running {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestRunFailsWhenSchemaCannotBePrepared(t *testing.T) {
	src := &fakeSource{}
	notifier := &recNotifier{}
	p := newTestPipeline(Deps{Source: src, Trends: &fakeTrends{}, Evaluator: &fakeEvaluator{}, Store: &memStore{migrateErr: errors.New("permission denied")}, Notifier: notifier})

	_, err := p.Run(context.Background())
	var se *StageError
	if !errors.As(err, &se) || se.Stage != StagePrecondition {
		t.Fatalf("expected precondition StageError, got %v", err)
	}
	if src.calls.Load() != 0 || len(notifier.errors) != 1 {
		t.Fatalf("expected no collection and one error notice, calls=%d errors=%v", src.calls.Load(), notifier.errors)
	}
}

// upsertsSeen records how many games were already stored when each
// evaluation started.
type upsertsSeen struct {
	fakeEvaluator
	store *memStore
	seen  []int32
}

func (u *upsertsSeen) Evaluate(ctx context.Context, c game.CandidateRecord, trendScore float64) game.Scores {
	u.seen = append(u.seen, u.store.upserts.Load())
	return u.fakeEvaluator.Evaluate(ctx, c, trendScore)
}

func TestRunPersistsEachEvaluationBeforeTheNext(t *testing.T) {
	src := &fakeSource{recs: []game.CandidateRecord{{Title: "A"}, {Title: "B"}, {Title: "C"}}}
	st := &memStore{}
	eval := &upsertsSeen{store: st}
	p := newTestPipeline(Deps{Source: src, Trends: &fakeTrends{}, Evaluator: eval, Store: st})

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(eval.seen) != 3 || eval.seen[0] != 0 || eval.seen[1] != 1 || eval.seen[2] != 2 {
		t.Fatalf("expected writes interleaved with evaluations, got %v", eval.seen)
	}
	if res.Evaluated != 3 || res.Persisted != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if status := p.Status(); status.Evaluated != 3 || status.Persisted != 3 || status.State != StateDone {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestNotificationFailuresDoNotFailRun(t *testing.T) {
	src := &fakeSource{recs: []game.CandidateRecord{{Title: "A", Type: game.TypeConsumer}}}
	notifier := &recNotifier{fail: errors.New("webhook down")}
	p := newTestPipeline(Deps{Source: src, Trends: &fakeTrends{}, Evaluator: &fakeEvaluator{}, Store: openStore(t), Notifier: notifier})
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("notification failure must be swallowed, got %v", err)
	}
	if len(notifier.rankings) != 1 || notifier.completion == nil {
		t.Fatalf("every notification should still be attempted: %+v", notifier)
	}
}
