package evaluate

import (
	"fmt"
	"strings"

	"github.com/joelkehle/gamerank/internal/game"
)

const responseShape = `Score each criterion from 0 to 10 and give total_score from 1 to 10 (a whole number).
Write reasoning in Japanese, at most 100 characters.

Return JSON with exactly this shape:
{
  "trend_score": <number 0-10>,
  "brand_score": <number 0-10>,
  "series_score": <number 0-10>,
  "sales_score": <number 0-10>,
  "total_score": <integer 1-10>,
  "reasoning": "<short rationale>"
}`

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

func listOrUnknown(in []string) string {
	if len(in) == 0 {
		return "unknown"
	}
	return strings.Join(in, ", ")
}

func releaseLine(c game.CandidateRecord) string {
	if c.EvaluationType() == game.EvaluationUpdate {
		line := "Update: " + c.UpdateDate
		if c.UpdateTitle != "" {
			line += " (" + c.UpdateTitle + ")"
		}
		if c.Version != "" {
			line += " version " + c.Version
		}
		return line
	}
	if c.ReleaseDate == "" {
		return "Release date: TBA"
	}
	return "Release date: " + c.ReleaseDate
}

// ConsumerPrompt foregrounds publisher pedigree and critic reception.
func ConsumerPrompt(c game.CandidateRecord, trendScore float64) string {
	critic := "none"
	if c.QualitySignal != nil {
		critic = fmt.Sprintf("%.0f", *c.QualitySignal)
	}
	var b strings.Builder
	b.WriteString("Evaluate this console/PC game on a 10-point scale.\n\n")
	b.WriteString("Game:\n")
	fmt.Fprintf(&b, "- Title: %s\n", c.Title)
	fmt.Fprintf(&b, "- %s\n", releaseLine(c))
	fmt.Fprintf(&b, "- Developer: %s\n", orUnknown(c.Developer))
	fmt.Fprintf(&b, "- Publisher: %s\n", orUnknown(c.Publisher))
	fmt.Fprintf(&b, "- Platforms: %s\n", listOrUnknown(c.Platforms))
	fmt.Fprintf(&b, "- Genres: %s\n", listOrUnknown(c.Genres))
	fmt.Fprintf(&b, "- Description: %s\n", orUnknown(c.Description))
	fmt.Fprintf(&b, "- Metacritic score: %s\n", critic)
	fmt.Fprintf(&b, "- Trend signal (0-10): %.2f\n\n", trendScore)
	b.WriteString("Criteria:\n")
	b.WriteString("1. trend_score: buzz on social media and video platforms; use the trend signal as a reference.\n")
	b.WriteString("2. brand_score: is the maker a well-known studio or publisher (Nintendo, Capcom, Square Enix and the like)?\n")
	b.WriteString("3. series_score: is it an entry or sequel in a famous franchise?\n")
	b.WriteString("4. sales_score: expected sales given critic and user reception.\n\n")
	b.WriteString(responseShape)
	return b.String()
}

// SocialPrompt foregrounds operator pedigree, IP strength and monetization.
func SocialPrompt(c game.CandidateRecord, trendScore float64) string {
	var b strings.Builder
	b.WriteString("Evaluate this mobile social game on a 10-point scale.\n\n")
	b.WriteString("Game:\n")
	fmt.Fprintf(&b, "- Title: %s\n", c.Title)
	fmt.Fprintf(&b, "- %s\n", releaseLine(c))
	fmt.Fprintf(&b, "- Developer: %s\n", orUnknown(c.Developer))
	fmt.Fprintf(&b, "- Genres: %s\n", listOrUnknown(c.Genres))
	fmt.Fprintf(&b, "- Description: %s\n", orUnknown(c.Description))
	fmt.Fprintf(&b, "- Trend signal (0-10): %.2f\n\n", trendScore)
	b.WriteString("Criteria:\n")
	b.WriteString("1. trend_score: buzz on social media and video platforms; use the trend signal as a reference.\n")
	b.WriteString("2. brand_score: is the operator well known (Cygames, Aniplex and the like) or the IP famous?\n")
	b.WriteString("3. series_score: is it part of a popular series or a sequel?\n")
	b.WriteString("4. sales_score: likely grossing rank and user ratings given its monetization model (estimate).\n\n")
	b.WriteString(responseShape)
	return b.String()
}

func PromptFor(c game.CandidateRecord, trendScore float64) string {
	if c.Type == game.TypeSocial {
		return SocialPrompt(c, trendScore)
	}
	return ConsumerPrompt(c, trendScore)
}
