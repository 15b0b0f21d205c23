package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/joelkehle/gamerank/internal/game"
)

// Columns that keep their stored value when a later observation leaves them
// empty.
var mergeableColumns = []string{
	"provider", "native_id", "release_date", "update_date", "update_title", "version",
	"developer", "publisher", "platforms", "genres", "description", "image_url", "source_url",
}

var upsertGameSQL = func() string {
	sets := []string{"title = excluded.title", "game_type = excluded.game_type", "updated_at = excluded.updated_at",
		"quality_signal = COALESCE(excluded.quality_signal, games.quality_signal)"}
	for _, c := range mergeableColumns {
		sets = append(sets, fmt.Sprintf("%[1]s = CASE WHEN excluded.%[1]s <> '' THEN excluded.%[1]s ELSE games.%[1]s END", c))
	}
	return `INSERT INTO games (identity_key, provider, native_id, title, game_type, release_date, update_date,
	update_title, version, developer, publisher, platforms, genres, description, image_url, source_url,
	quality_signal, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (identity_key) DO UPDATE SET ` + strings.Join(sets, ", ") + `
RETURNING id`
}()

// UpsertGame stores c under its identity key and returns the durable id.
// Repeating the call with the same identity returns the same id.
func (s *Store) UpsertGame(ctx context.Context, c game.CandidateRecord) (int64, error) {
	key := game.Identify(c)
	var nativeID string
	if key.IsNative() {
		nativeID = key.NativeID
	}
	gameType := c.Type
	if gameType == "" {
		gameType = game.TypeConsumer
	}
	now := s.timestamp()
	var id int64
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(upsertGameSQL),
		key.String(), strings.ToLower(strings.TrimSpace(c.Provider)), nativeID, c.Title, string(gameType),
		c.ReleaseDate, c.UpdateDate, c.UpdateTitle, c.Version, c.Developer, c.Publisher,
		encodeList(c.Platforms), encodeList(c.Genres), c.Description, c.ImageURL, c.SourceURL,
		c.QualitySignal, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert game %q: %w", c.Title, err)
	}
	return id, nil
}

const insertEvaluationSQL = `INSERT INTO evaluations (game_id, evaluation_date, evaluation_type, trend_score,
	brand_score, series_score, sales_score, total_score, reasoning, evaluated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`

// InsertEvaluation appends one evaluation. Sub-scores keep one decimal and
// the total is rounded to an integer.
func (s *Store) InsertEvaluation(ctx context.Context, gameID int64, date string, typ game.EvaluationType, sc game.Scores) (int64, error) {
	if typ == "" {
		typ = game.EvaluationNewRelease
	}
	var id int64
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(insertEvaluationSQL),
		gameID, date, string(typ),
		oneDecimal(sc.Trend), oneDecimal(sc.Brand), oneDecimal(sc.Series), oneDecimal(sc.Sales),
		RoundTotal(sc.Total), sc.Reasoning, s.timestamp(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert evaluation game=%d: %w", gameID, err)
	}
	return id, nil
}

// RoundTotal converts a total score to its stored integer form in [1,10].
func RoundTotal(v float64) int {
	r := int(math.Round(v))
	return max(1, min(10, r))
}

func oneDecimal(v float64) float64 {
	return math.Round(v*10) / 10
}

func encodeList(in []string) string {
	in = game.UniqueStrings(in)
	if len(in) == 0 {
		return ""
	}
	b, _ := json.Marshal(in)
	return string(b)
}

func decodeList(v string) []string {
	if v == "" {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return []string{}
	}
	return out
}
