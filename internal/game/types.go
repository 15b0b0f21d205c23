package game

import (
	"strings"
	"time"
)

// DateLayout is the calendar format used for release, update and evaluation dates.
const DateLayout = "2006-01-02"

const (
	DefaultQualityThreshold = 60.0
	DefaultTrendScoredSlots = 15
	DefaultTrendTargetLimit = 20
	MaxDescriptionChars     = 500
)

type GameType string

const (
	TypeConsumer GameType = "consumer"
	TypeSocial   GameType = "social"
)

// ParseType accepts "consumer" or "social". An empty string means no filter.
func ParseType(s string) (GameType, bool) {
	switch GameType(strings.ToLower(strings.TrimSpace(s))) {
	case TypeConsumer:
		return TypeConsumer, true
	case TypeSocial:
		return TypeSocial, true
	default:
		return "", false
	}
}

type EvaluationType string

const (
	EvaluationNewRelease EvaluationType = "new_release"
	EvaluationUpdate     EvaluationType = "update"
)

// CandidateRecord is one observation of a game from one source. It is never
// mutated after the merge step.
type CandidateRecord struct {
	Title         string
	Type          GameType
	ReleaseDate   string
	UpdateDate    string
	UpdateTitle   string
	Version       string
	Developer     string
	Publisher     string
	Platforms     []string
	Genres        []string
	Description   string
	ImageURL      string
	SourceURL     string
	Provider      string
	NativeID      string
	QualitySignal *float64
}

// EvaluationType reports update when the source observed an update rather
// than a release.
func (c CandidateRecord) EvaluationType() EvaluationType {
	if c.UpdateDate != "" {
		return EvaluationUpdate
	}
	return EvaluationNewRelease
}

func (c CandidateRecord) HasQualitySignal() bool { return c.QualitySignal != nil }

// Scores is the normalized output of one AI evaluation.
type Scores struct {
	Trend     float64 `json:"trend_score"`
	Brand     float64 `json:"brand_score"`
	Series    float64 `json:"series_score"`
	Sales     float64 `json:"sales_score"`
	Total     float64 `json:"total_score"`
	Reasoning string  `json:"reasoning"`
}

type Evaluation struct {
	ID          int64
	GameID      int64
	Date        string
	Type        EvaluationType
	Scores      Scores
	EvaluatedAt time.Time
}

// RankingRow is a game joined with one date's evaluation. Rank is 1-based and
// recomputed on every read.
type RankingRow struct {
	Rank           int            `json:"rank"`
	GameID         int64          `json:"id"`
	Title          string         `json:"title"`
	Type           GameType       `json:"game_type"`
	ReleaseDate    string         `json:"release_date,omitempty"`
	Developer      string         `json:"developer,omitempty"`
	Publisher      string         `json:"publisher,omitempty"`
	Platforms      []string       `json:"platforms"`
	ImageURL       string         `json:"image_url,omitempty"`
	SourceURL      string         `json:"source_url,omitempty"`
	Score          int            `json:"score"`
	TrendScore     float64        `json:"trend_score"`
	BrandScore     float64        `json:"brand_score"`
	SeriesScore    float64        `json:"series_score"`
	SalesScore     float64        `json:"sales_score"`
	Reasoning      string         `json:"reasoning"`
	EvaluationType EvaluationType `json:"evaluation_type"`
	EvaluatedAt    time.Time      `json:"evaluated_at"`
}

type Stats struct {
	Date          string  `json:"evaluation_date"`
	TotalGames    int     `json:"total_games"`
	AverageScore  float64 `json:"average_score"`
	MaxScore      int     `json:"max_score"`
	MinScore      int     `json:"min_score"`
	ConsumerCount int     `json:"consumer_count"`
	SocialCount   int     `json:"social_count"`
}

func (s Stats) PerTypeCounts() map[GameType]int {
	return map[GameType]int{TypeConsumer: s.ConsumerCount, TypeSocial: s.SocialCount}
}

type ScoreBucket struct {
	Score int `json:"score"`
	Count int `json:"count"`
}
