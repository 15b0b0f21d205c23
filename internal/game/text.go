package game

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	htmlTagRe      = regexp.MustCompile(`<[^>]*>`)
	newlinesRe     = regexp.MustCompile(`[\r\n]+`)
	japaneseDateRe = regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})日`)
)

var dateLayouts = []string{
	DateLayout,
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006/01/02",
	"2006/1/2",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan, 2006",
	"2 Jan 2006",
}

// CleanDescription strips markup, folds newlines and caps the text at max
// runes, replacing the overflow with an ellipsis.
func CleanDescription(text string, max int) string {
	if max <= 0 {
		max = MaxDescriptionChars
	}
	cleaned := htmlTagRe.ReplaceAllString(text, "")
	cleaned = strings.TrimSpace(newlinesRe.ReplaceAllString(cleaned, " "))
	runes := []rune(cleaned)
	if len(runes) > max {
		cut := max - 3
		if cut < 0 {
			cut = 0
		}
		cleaned = string(runes[:cut]) + "..."
	}
	return cleaned
}

// NormalizeDate converts a provider date into YYYY-MM-DD. Unparseable input
// yields "".
func NormalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if d := ParseJapaneseDate(raw); d != "" {
		return d
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(DateLayout)
		}
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1_000_000_000_000 {
			return DateFromUnixMillis(n)
		}
		if n > 0 {
			return DateFromUnix(n)
		}
	}
	return ""
}

// ParseJapaneseDate handles the "2024年12月15日" form.
func ParseJapaneseDate(raw string) string {
	m := japaneseDateRe.FindStringSubmatch(raw)
	if len(m) != 4 {
		return ""
	}
	y, _ := strconv.Atoi(m[1])
	mo, _ := strconv.Atoi(m[2])
	d, _ := strconv.Atoi(m[3])
	if mo < 1 || mo > 12 || d < 1 || d > 31 {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", y, mo, d)
}

func DateFromUnix(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(DateLayout)
}

func DateFromUnixMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(DateLayout)
}

// UniqueStrings trims, drops empties and keeps first occurrences.
func UniqueStrings(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
