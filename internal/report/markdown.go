// Package report renders an evaluation date's rankings as markdown, as a
// standalone HTML page and, through headless Chromium, as PDF.
package report

import (
	"fmt"
	"strings"

	"github.com/joelkehle/gamerank/internal/game"
)

// Section is one ranked list in the report.
type Section struct {
	Heading string
	Rows    []game.RankingRow
}

type Data struct {
	Date         string
	Stats        game.Stats
	Sections     []Section
	Distribution []game.ScoreBucket
	// DetailTop is how many rows per section get a reasoning paragraph.
	DetailTop int
}

const (
	HeadingConsumer     = "コンシューマーゲーム"
	HeadingSocial       = "ソーシャルゲーム"
	HeadingOverall      = "総合ランキング"
	HeadingDistribution = "スコア分布"
)

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func titleLink(r game.RankingRow) string {
	if r.SourceURL == "" {
		return cell(r.Title)
	}
	return fmt.Sprintf("[%s](%s)", cell(r.Title), r.SourceURL)
}

// Markdown renders d as GitHub-flavored markdown.
func Markdown(d Data) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# ゲームおすすめランキング (%s)\n\n", d.Date)

	b.WriteString("## サマリー\n\n")
	b.WriteString("| 項目 | 値 |\n|---|---|\n")
	fmt.Fprintf(&b, "| 総評価数 | %d |\n", d.Stats.TotalGames)
	fmt.Fprintf(&b, "| コンシューマー | %d |\n", d.Stats.ConsumerCount)
	fmt.Fprintf(&b, "| ソーシャル | %d |\n", d.Stats.SocialCount)
	fmt.Fprintf(&b, "| 平均スコア | %.1f |\n", d.Stats.AverageScore)
	if d.Stats.TotalGames > 0 {
		fmt.Fprintf(&b, "| 最高 / 最低 | %d / %d |\n", d.Stats.MaxScore, d.Stats.MinScore)
	}
	b.WriteString("\n")

	for _, s := range d.Sections {
		fmt.Fprintf(&b, "## %s\n\n", s.Heading)
		if len(s.Rows) == 0 {
			b.WriteString("評価データがありません。\n\n")
			continue
		}
		b.WriteString("| 順位 | タイトル | スコア | トレンド | ブランド | シリーズ | 売上 | 発売日 | プラットフォーム |\n")
		b.WriteString("|---:|---|---:|---:|---:|---:|---:|---|---|\n")
		for _, r := range s.Rows {
			fmt.Fprintf(&b, "| %d | %s | %d | %.1f | %.1f | %.1f | %.1f | %s | %s |\n",
				r.Rank, titleLink(r), r.Score, r.TrendScore, r.BrandScore, r.SeriesScore, r.SalesScore,
				dash(r.ReleaseDate), dash(cell(strings.Join(r.Platforms, ", "))))
		}
		b.WriteString("\n")
		for _, r := range s.Rows[:min(d.DetailTop, len(s.Rows))] {
			fmt.Fprintf(&b, "### %d. %s\n\n%s\n\n", r.Rank, r.Title, strings.TrimSpace(r.Reasoning))
		}
	}

	if len(d.Distribution) > 0 {
		fmt.Fprintf(&b, "## %s\n\n| スコア | 件数 |\n|---:|---:|\n", HeadingDistribution)
		for _, bucket := range d.Distribution {
			fmt.Fprintf(&b, "| %d | %d |\n", bucket.Score, bucket.Count)
		}
		b.WriteString("\n")
	}
	return b.String()
}
