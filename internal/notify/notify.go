// Package notify delivers run outcomes to operators. Every send is best
// effort: callers log returned errors and carry on.
package notify

import (
	"context"

	"github.com/joelkehle/gamerank/internal/game"
	"github.com/joelkehle/gamerank/internal/store"
)

const (
	KindRanking    = "ranking"
	KindError      = "error"
	KindCompletion = "completion"
)

type Notifier interface {
	SendRanking(ctx context.Context, rows []game.RankingRow, date string, gameType game.GameType) error
	SendError(ctx context.Context, message, context string) error
	SendCompletion(ctx context.Context, stats game.Stats) error
}

// HistoryRecorder persists each delivery attempt.
type HistoryRecorder interface {
	RecordNotification(ctx context.Context, n store.NotificationRecord) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) SendRanking(context.Context, []game.RankingRow, string, game.GameType) error { return nil }
func (Nop) SendError(context.Context, string, string) error                              { return nil }
func (Nop) SendCompletion(context.Context, game.Stats) error                             { return nil }
