package report

import (
	"context"

	"github.com/joelkehle/gamerank/internal/game"
	"github.com/joelkehle/gamerank/internal/ranking"
)

// Rankings is the read side a report is built from.
type Rankings interface {
	Rank(ctx context.Context, date string, gameType game.GameType, limit int) ([]game.RankingRow, error)
	Stats(ctx context.Context, date string) (game.Stats, error)
	Distribution(ctx context.Context, date string) (string, []game.ScoreBucket, error)
}

var _ Rankings = (*ranking.Service)(nil)

// Build gathers the consumer, social and overall rankings for date.
func Build(ctx context.Context, src Rankings, date string, limit, detailTop int) (Data, error) {
	d := Data{Date: date, DetailTop: detailTop}
	stats, err := src.Stats(ctx, date)
	if err != nil {
		return Data{}, err
	}
	d.Stats = stats
	for _, s := range []struct {
		heading string
		typ     game.GameType
	}{
		{HeadingConsumer, game.TypeConsumer},
		{HeadingSocial, game.TypeSocial},
		{HeadingOverall, ""},
	} {
		rows, err := src.Rank(ctx, date, s.typ, limit)
		if err != nil {
			return Data{}, err
		}
		d.Sections = append(d.Sections, Section{Heading: s.heading, Rows: rows})
	}
	if _, d.Distribution, err = src.Distribution(ctx, date); err != nil {
		return Data{}, err
	}
	return d, nil
}
