package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joelkehle/gamerank/internal/fetch"
	"github.com/joelkehle/gamerank/internal/game"
	"github.com/joelkehle/gamerank/internal/logging"
	"github.com/joelkehle/gamerank/internal/store"
)

const rankingTopN = 10

type textObject struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type Block struct {
	Type     string      `json:"type"`
	Text     *textObject `json:"text,omitempty"`
	ImageURL string      `json:"image_url,omitempty"`
	AltText  string      `json:"alt_text,omitempty"`
}

// Message is a Slack incoming-webhook payload.
type Message struct {
	Text   string  `json:"text"`
	Blocks []Block `json:"blocks,omitempty"`
}

func header(text string) Block {
	return Block{Type: "header", Text: &textObject{Type: "plain_text", Text: text, Emoji: true}}
}

func section(markdown string) Block {
	return Block{Type: "section", Text: &textObject{Type: "mrkdwn", Text: markdown}}
}

func divider() Block { return Block{Type: "divider"} }

// Slack posts Block Kit messages to an incoming webhook and records every
// attempt in the notification history.
type Slack struct {
	webhookURL string
	client     *fetch.Client
	history    HistoryRecorder
	log        *logging.Logger
}

func NewSlack(webhookURL string, client *fetch.Client, history HistoryRecorder, log *logging.Logger) *Slack {
	if client == nil {
		client = fetch.New(fetch.Config{Name: "slack", MaxAttempts: 2})
	}
	return &Slack{webhookURL: webhookURL, client: client, history: history, log: logging.OrNop(log)}
}

func (s *Slack) SendRanking(ctx context.Context, rows []game.RankingRow, date string, gameType game.GameType) error {
	msg := RankingMessage(rows, date, gameType)
	return s.deliver(ctx, KindRanking, msg, msg.Text)
}

func (s *Slack) SendError(ctx context.Context, message, context string) error {
	msg := ErrorMessage(message, context)
	return s.deliver(ctx, KindError, msg, message)
}

func (s *Slack) SendCompletion(ctx context.Context, stats game.Stats) error {
	msg := CompletionMessage(stats)
	summary, _ := json.Marshal(stats)
	return s.deliver(ctx, KindCompletion, msg, string(summary))
}

func (s *Slack) deliver(ctx context.Context, kind string, msg Message, summary string) error {
	started := time.Now()
	_, err := s.client.PostJSON(ctx, s.webhookURL, msg)
	rec := store.NotificationRecord{Type: kind, Message: summary, Status: store.NotificationSent}
	if err != nil {
		rec.Status = store.NotificationFailed
		rec.Error = err.Error()
		s.log.Warn("notify send_failed", "kind", kind, "elapsed_ms", time.Since(started).Milliseconds(), "err", err)
	} else {
		s.log.Info("notify sent", "kind", kind, "elapsed_ms", time.Since(started).Milliseconds())
	}
	if s.history != nil {
		if herr := s.history.RecordNotification(ctx, rec); herr != nil {
			s.log.Warn("notify history_failed", "kind", kind, "err", herr)
		}
	}
	if err != nil {
		return fmt.Errorf("slack %s: %w", kind, err)
	}
	return nil
}

func typeLabel(t game.GameType) string {
	switch t {
	case game.TypeConsumer:
		return "コンシューマーゲーム"
	case game.TypeSocial:
		return "ソーシャルゲーム"
	default:
		return "全ゲーム"
	}
}

func medal(i int) string {
	switch i {
	case 0:
		return "🥇"
	case 1:
		return "🥈"
	case 2:
		return "🥉"
	default:
		return fmt.Sprintf("%d.", i+1)
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// RankingMessage renders the top ten rows with medals and a sub-score
// breakdown for the top three.
func RankingMessage(rows []game.RankingRow, date string, gameType game.GameType) Message {
	top := rows[:min(len(rows), rankingTopN)]
	title := fmt.Sprintf("🎮 ゲームおすすめランキング (%s)", date)

	var text strings.Builder
	fmt.Fprintf(&text, "*%s*\n📊 カテゴリ: %s\n\n", title, typeLabel(gameType))
	blocks := []Block{
		header(title),
		section(fmt.Sprintf("*カテゴリ:* %s\n*評価数:* %d件", typeLabel(gameType), len(rows))),
		divider(),
	}
	for i, r := range top {
		platforms := "不明"
		if len(r.Platforms) > 0 {
			platforms = strings.Join(r.Platforms, ", ")
		}
		fmt.Fprintf(&text, "%s *%s* (%d/10)\n   %s\n\n", medal(i), r.Title, r.Score, r.Reasoning)
		blocks = append(blocks, section(fmt.Sprintf("*%s %s*\n*スコア:* %d/10 ⭐\n*発売日:* %s\n*プラットフォーム:* %s\n*理由:* %s",
			medal(i), r.Title, r.Score, orDefault(r.ReleaseDate, "未定"), platforms, r.Reasoning)))
		if r.ImageURL != "" {
			blocks = append(blocks, Block{Type: "image", ImageURL: r.ImageURL, AltText: r.Title})
		}
		blocks = append(blocks, divider())
	}
	if len(top) > 0 {
		blocks = append(blocks, section("*📊 トップ3の詳細スコア*"))
		for i, r := range top[:min(3, len(top))] {
			blocks = append(blocks, section(fmt.Sprintf("*%d. %s*\n🔥 トレンド: %.1f | 🏢 ブランド: %.1f | 📺 シリーズ: %.1f | 💰 売上: %.1f",
				i+1, r.Title, r.TrendScore, r.BrandScore, r.SeriesScore, r.SalesScore)))
		}
	}
	return Message{Text: text.String(), Blocks: blocks}
}

func ErrorMessage(message, context string) Message {
	return Message{
		Text: "❌ エラーが発生しました",
		Blocks: []Block{
			header("❌ エラー通知"),
			section(fmt.Sprintf("*Context:* %s\n*Error:* %s", context, message)),
		},
	}
}

func CompletionMessage(st game.Stats) Message {
	return Message{
		Text: "✅ ゲーム評価が完了しました",
		Blocks: []Block{
			header("✅ ゲーム評価完了"),
			section(fmt.Sprintf("*評価日:* %s\n*総評価数:* %d件\n*コンシューマー:* %d件\n*ソーシャル:* %d件\n*平均スコア:* %.2f/10",
				st.Date, st.TotalGames, st.ConsumerCount, st.SocialCount, st.AverageScore)),
		},
	}
}
