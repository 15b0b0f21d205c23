package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/joelkehle/gamerank/internal/game"
)

type rankingRecord struct {
	GameID         int64   `db:"game_id"`
	Title          string  `db:"title"`
	GameType       string  `db:"game_type"`
	ReleaseDate    string  `db:"release_date"`
	Developer      string  `db:"developer"`
	Publisher      string  `db:"publisher"`
	Platforms      string  `db:"platforms"`
	ImageURL       string  `db:"image_url"`
	SourceURL      string  `db:"source_url"`
	TotalScore     int     `db:"total_score"`
	TrendScore     float64 `db:"trend_score"`
	BrandScore     float64 `db:"brand_score"`
	SeriesScore    float64 `db:"series_score"`
	SalesScore     float64 `db:"sales_score"`
	Reasoning      string  `db:"reasoning"`
	EvaluationType string  `db:"evaluation_type"`
	EvaluatedAt    string  `db:"evaluated_at"`
}

const rankingSelect = `SELECT g.id AS game_id, g.title, g.game_type, g.release_date, g.developer, g.publisher,
	g.platforms, g.image_url, g.source_url, e.total_score, e.trend_score, e.brand_score, e.series_score,
	e.sales_score, e.reasoning, e.evaluation_type, e.evaluated_at
FROM evaluations e
JOIN games g ON g.id = e.game_id
WHERE e.evaluation_date = ?`

// Ties on total score go to the most recently evaluated row; id breaks
// identical timestamps.
const rankingOrder = ` ORDER BY e.total_score DESC, e.evaluated_at DESC, e.id DESC LIMIT ?`

// Ranking returns date's evaluations ordered for display, ranks assigned
// from 1. An empty gameType means all types.
func (s *Store) Ranking(ctx context.Context, date string, gameType game.GameType, limit int) ([]game.RankingRow, error) {
	query := rankingSelect
	args := []any{date}
	if gameType != "" {
		query += " AND g.game_type = ?"
		args = append(args, string(gameType))
	}
	query += rankingOrder
	args = append(args, limit)

	var recs []rankingRecord
	if err := s.db.SelectContext(ctx, &recs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("ranking %s: %w", date, err)
	}
	rows := make([]game.RankingRow, 0, len(recs))
	for i, r := range recs {
		rows = append(rows, game.RankingRow{
			Rank:           i + 1,
			GameID:         r.GameID,
			Title:          r.Title,
			Type:           game.GameType(r.GameType),
			ReleaseDate:    r.ReleaseDate,
			Developer:      r.Developer,
			Publisher:      r.Publisher,
			Platforms:      decodeList(r.Platforms),
			ImageURL:       r.ImageURL,
			SourceURL:      r.SourceURL,
			Score:          r.TotalScore,
			TrendScore:     r.TrendScore,
			BrandScore:     r.BrandScore,
			SeriesScore:    r.SeriesScore,
			SalesScore:     r.SalesScore,
			Reasoning:      r.Reasoning,
			EvaluationType: game.EvaluationType(r.EvaluationType),
			EvaluatedAt:    parseTimestamp(r.EvaluatedAt),
		})
	}
	return rows, nil
}

const statsSQL = `SELECT COUNT(*) AS total,
	COALESCE(AVG(CAST(e.total_score AS DOUBLE PRECISION)), 0) AS average,
	COALESCE(MAX(e.total_score), 0) AS max_score,
	COALESCE(MIN(e.total_score), 0) AS min_score,
	COALESCE(SUM(CASE WHEN g.game_type = 'consumer' THEN 1 ELSE 0 END), 0) AS consumer_count,
	COALESCE(SUM(CASE WHEN g.game_type = 'social' THEN 1 ELSE 0 END), 0) AS social_count
FROM evaluations e
JOIN games g ON g.id = e.game_id
WHERE e.evaluation_date = ?`

// Stats aggregates one date. A date with no evaluations yields zero counts.
func (s *Store) Stats(ctx context.Context, date string) (game.Stats, error) {
	var row struct {
		Total         int     `db:"total"`
		Average       float64 `db:"average"`
		MaxScore      int     `db:"max_score"`
		MinScore      int     `db:"min_score"`
		ConsumerCount int     `db:"consumer_count"`
		SocialCount   int     `db:"social_count"`
	}
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(statsSQL), date); err != nil {
		return game.Stats{}, fmt.Errorf("stats %s: %w", date, err)
	}
	return game.Stats{
		Date:          date,
		TotalGames:    row.Total,
		AverageScore:  math.Round(row.Average*10) / 10,
		MaxScore:      row.MaxScore,
		MinScore:      row.MinScore,
		ConsumerCount: row.ConsumerCount,
		SocialCount:   row.SocialCount,
	}, nil
}

// LatestDate returns the most recent evaluation date, or ErrNotFound when
// nothing has been evaluated yet.
func (s *Store) LatestDate(ctx context.Context) (string, error) {
	var d sql.NullString
	if err := s.db.GetContext(ctx, &d, "SELECT MAX(evaluation_date) FROM evaluations"); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("latest date: %w", err)
	}
	if !d.Valid || d.String == "" {
		return "", ErrNotFound
	}
	return d.String, nil
}

// ScoreDistribution counts evaluations per integer total score, highest
// score first.
func (s *Store) ScoreDistribution(ctx context.Context, date string) ([]game.ScoreBucket, error) {
	var out []game.ScoreBucket
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`SELECT total_score AS score, COUNT(*) AS count
FROM evaluations WHERE evaluation_date = ? GROUP BY total_score ORDER BY total_score DESC`), date)
	if err != nil {
		return nil, fmt.Errorf("distribution %s: %w", date, err)
	}
	return out, nil
}
