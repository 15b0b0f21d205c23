package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/joelkehle/gamerank/internal/browser"
	"github.com/joelkehle/gamerank/internal/game"
)

func sampleData() Data {
	return Data{
		Date:  "2024-12-15",
		Stats: game.Stats{TotalGames: 2, ConsumerCount: 1, SocialCount: 1, AverageScore: 7.5, MaxScore: 8, MinScore: 7},
		Sections: []Section{
			{Heading: HeadingConsumer, Rows: []game.RankingRow{{
				Rank: 1, Title: "Astro | Quest", Score: 8, TrendScore: 6.5, SourceURL: "https://rawg.io/games/astro",
				Platforms: []string{"PC", "PS5"}, ReleaseDate: "2024-12-20", Reasoning: "シリーズ最新作",
			}}},
			{Heading: HeadingSocial},
		},
		Distribution: []game.ScoreBucket{{Score: 8, Count: 1}, {Score: 7, Count: 1}},
		DetailTop:    3,
	}
}

func TestMarkdownRendersSectionsAndEscapesCells(t *testing.T) {
	out := Markdown(sampleData())
	for _, want := range []string{
		"# ゲームおすすめランキング (2024-12-15)",
		"| 平均スコア | 7.5 |",
		`[Astro \| Quest](https://rawg.io/games/astro)`,
		"| 1 | ",
		"| 8 | 6.5 |",
		"PC, PS5",
		"### 1. Astro | Quest\n\nシリーズ最新作",
		"## ソーシャルゲーム\n\n評価データがありません。",
		"| 7 | 1 |",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestHTMLConvertsTablesAndMarksDistributionPage(t *testing.T) {
	doc, err := HTML(Markdown(sampleData()), "Ranking <2024-12-15>")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(doc, "<table>") || !strings.Contains(doc, "<title>Ranking &lt;2024-12-15&gt;</title>") {
		t.Fatalf("unexpected html: %s", doc)
	}
	if !strings.Contains(doc, `<h2 data-page-break-before="true">スコア分布</h2>`) {
		t.Fatalf("expected distribution page break: %s", doc)
	}
}

func TestApplyPrintLayoutHooksNoopWithoutDistribution(t *testing.T) {
	in := "<h2>サマリー</h2><p>x</p>"
	if out := applyPrintLayoutHooks(in); out != in {
		t.Fatalf("expected no change, got %s", out)
	}
}

type fakeRankings struct {
	rankErr error
	types   []game.GameType
}

func (f *fakeRankings) Rank(_ context.Context, _ string, t game.GameType, _ int) ([]game.RankingRow, error) {
	f.types = append(f.types, t)
	return []game.RankingRow{{Rank: 1, Title: string(t)}}, f.rankErr
}

func (f *fakeRankings) Stats(_ context.Context, date string) (game.Stats, error) {
	return game.Stats{Date: date, TotalGames: 1}, nil
}

func (f *fakeRankings) Distribution(_ context.Context, date string) (string, []game.ScoreBucket, error) {
	return date, []game.ScoreBucket{{Score: 5, Count: 1}}, nil
}

func TestBuildCollectsAllSections(t *testing.T) {
	f := &fakeRankings{}
	d, err := Build(context.Background(), f, "2024-12-15", 20, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Sections) != 3 || d.Sections[2].Heading != HeadingOverall || len(d.Distribution) != 1 {
		t.Fatalf("unexpected data %+v", d)
	}
	if f.types[0] != game.TypeConsumer || f.types[1] != game.TypeSocial || f.types[2] != "" {
		t.Fatalf("unexpected query order %v", f.types)
	}

	if _, err := Build(context.Background(), &fakeRankings{rankErr: errors.New("db gone")}, "2024-12-15", 20, 3); err == nil {
		t.Fatal("expected error")
	}
}

func TestPDFRendererProducesPDF(t *testing.T) {
	if browser.DetectChromePath() == "" {
		t.Skip("chromium not installed")
	}
	doc, err := HTML(Markdown(sampleData()), "ranking")
	if err != nil {
		t.Fatal(err)
	}
	pdf, err := (&PDFRenderer{Timeout: 30 * time.Second}).Render(context.Background(), doc)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(pdf), "%PDF") {
		t.Fatalf("unexpected output prefix %q", pdf[:min(8, len(pdf))])
	}
}
