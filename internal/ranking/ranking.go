// Package ranking is the read side over persisted evaluations: validated
// ranking, stats and distribution queries for one evaluation date.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/joelkehle/gamerank/internal/game"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Reader is the persistence read path.
type Reader interface {
	Ranking(ctx context.Context, date string, gameType game.GameType, limit int) ([]game.RankingRow, error)
	Stats(ctx context.Context, date string) (game.Stats, error)
	LatestDate(ctx context.Context) (string, error)
	ScoreDistribution(ctx context.Context, date string) ([]game.ScoreBucket, error)
}

// InvalidArgumentError reports a rejected query parameter.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func IsInvalidArgument(err error) bool {
	var ie *InvalidArgumentError
	return errors.As(err, &ie)
}

// Snapshot is one date's ranking with its stats.
type Snapshot struct {
	Date  string            `json:"date"`
	Rows  []game.RankingRow `json:"rankings"`
	Stats game.Stats        `json:"stats"`
}

type Service struct {
	reader Reader
}

func NewService(reader Reader) *Service {
	return &Service{reader: reader}
}

// ValidateDate accepts YYYY-MM-DD calendar dates only.
func ValidateDate(date string) error {
	if _, err := time.Parse(game.DateLayout, date); err != nil {
		return &InvalidArgumentError{Field: "date", Reason: "expected YYYY-MM-DD"}
	}
	return nil
}

// ParseTypeFilter maps "", "all", "consumer" and "social" to a filter.
func ParseTypeFilter(s string) (game.GameType, error) {
	if s == "" || s == "all" {
		return "", nil
	}
	t, ok := game.ParseType(s)
	if !ok {
		return "", &InvalidArgumentError{Field: "type", Reason: "expected consumer or social"}
	}
	return t, nil
}

// ClampLimit applies the default for non-positive limits and caps large ones.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

// Compare orders rows by total score descending, then most recent
// evaluation first.
func Compare(a, b game.RankingRow) int {
	if a.Score != b.Score {
		return b.Score - a.Score
	}
	return b.EvaluatedAt.Compare(a.EvaluatedAt)
}

func (s *Service) Rank(ctx context.Context, date string, gameType game.GameType, limit int) ([]game.RankingRow, error) {
	if err := ValidateDate(date); err != nil {
		return nil, err
	}
	rows, err := s.reader.Ranking(ctx, date, gameType, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(rows, Compare)
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, nil
}

func (s *Service) Stats(ctx context.Context, date string) (game.Stats, error) {
	if err := ValidateDate(date); err != nil {
		return game.Stats{}, err
	}
	return s.reader.Stats(ctx, date)
}

func (s *Service) Snapshot(ctx context.Context, date string, gameType game.GameType, limit int) (Snapshot, error) {
	rows, err := s.Rank(ctx, date, gameType, limit)
	if err != nil {
		return Snapshot{}, err
	}
	stats, err := s.reader.Stats(ctx, date)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Date: date, Rows: rows, Stats: stats}, nil
}

// Latest returns the snapshot for the most recent evaluation date. The
// reader's not-found error is passed through when nothing is evaluated.
func (s *Service) Latest(ctx context.Context, gameType game.GameType, limit int) (Snapshot, error) {
	date, err := s.reader.LatestDate(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Snapshot(ctx, date, gameType, limit)
}

// Distribution defaults to the latest date when date is empty.
func (s *Service) Distribution(ctx context.Context, date string) (string, []game.ScoreBucket, error) {
	if date == "" {
		latest, err := s.reader.LatestDate(ctx)
		if err != nil {
			return "", nil, err
		}
		date = latest
	}
	if err := ValidateDate(date); err != nil {
		return "", nil, err
	}
	buckets, err := s.reader.ScoreDistribution(ctx, date)
	return date, buckets, err
}
