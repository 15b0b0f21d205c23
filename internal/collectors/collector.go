// Package collectors holds one adapter per external release source. Every
// adapter absorbs its own failures: an outage lowers yield, it never aborts a
// run.
package collectors

import (
	"context"
	"fmt"
	"time"

	"github.com/joelkehle/gamerank/internal/game"
	"github.com/joelkehle/gamerank/internal/logging"
)

// Window bounds what a collection run looks at: releases and updates since
// Since, upcoming releases until Until.
type Window struct {
	Now   time.Time
	Since time.Time
	Until time.Time
}

// DefaultWindow looks back a week and ahead a month.
func DefaultWindow(now time.Time) Window { return WindowFor(now, 7) }

// WindowFor looks back lookbackDays and ahead a month.
func WindowFor(now time.Time, lookbackDays int) Window {
	if lookbackDays <= 0 {
		lookbackDays = 7
	}
	return Window{Now: now, Since: now.AddDate(0, 0, -lookbackDays), Until: now.AddDate(0, 1, 0)}
}

type Collector interface {
	Name() string
	Collect(ctx context.Context, w Window) []game.CandidateRecord
}

// Set runs collectors sequentially in priority order. Richer sources go
// first because the merge step keeps the first record per identity.
type Set struct {
	collectors []Collector
	log        *logging.Logger
}

func NewSet(log *logging.Logger, collectors ...Collector) *Set {
	return &Set{collectors: collectors, log: logging.OrNop(log)}
}

func (s *Set) Names() []string {
	out := make([]string, 0, len(s.collectors))
	for _, c := range s.collectors {
		out = append(out, c.Name())
	}
	return out
}

func (s *Set) CollectAll(ctx context.Context, w Window) []game.CandidateRecord {
	var all []game.CandidateRecord
	for _, c := range s.collectors {
		started := time.Now()
		recs := s.collectOne(ctx, c, w)
		s.log.Info("collectors source_done", "source", c.Name(), "records", len(recs), "elapsed_ms", time.Since(started).Milliseconds())
		all = append(all, recs...)
	}
	return all
}

func (s *Set) collectOne(ctx context.Context, c Collector, w Window) (recs []game.CandidateRecord) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("collectors source_panic", "source", c.Name(), "err", fmt.Sprint(r))
			recs = nil
		}
	}()
	return c.Collect(ctx, w)
}
