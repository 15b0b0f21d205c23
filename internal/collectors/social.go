package collectors

import "strings"

// SocialSignals is what the social classifier looks at for a mobile title.
type SocialSignals struct {
	Title       string
	Description string
	Free        bool
}

// SocialClassifier is a keyword heuristic: a title is a social candidate when
// it is free to play, mentions a positive keyword and mentions no negative
// one. Matching is case-insensitive substring matching, so it is approximate.
type SocialClassifier struct {
	positive []string
	negative []string
}

func NewSocialClassifier(positive, negative []string) *SocialClassifier {
	return &SocialClassifier{positive: lowerAll(positive), negative: lowerAll(negative)}
}

func (c *SocialClassifier) IsSocialCandidate(s SocialSignals) bool {
	if !s.Free {
		return false
	}
	text := strings.ToLower(s.Title + " " + s.Description)
	return containsAny(text, c.positive) && !containsAny(text, c.negative)
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if t != "" && strings.Contains(text, t) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
