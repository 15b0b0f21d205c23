package collectors

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// pageSelectors holds the compiled selectors of one scrape source. Date and
// platform are optional.
type pageSelectors struct {
	item     cascadia.Selector
	title    cascadia.Selector
	date     cascadia.Selector
	platform cascadia.Selector
}

var linkSelector = cascadia.MustCompile("a[href]")

// compileSelectors validates the CSS selectors of src. Item and title are
// required.
func compileSelectors(src ScrapeSource) (pageSelectors, error) {
	var ps pageSelectors
	for _, f := range []struct {
		name     string
		expr     string
		required bool
		dst      *cascadia.Selector
	}{
		{"item", src.ItemSelector, true, &ps.item},
		{"title", src.TitleSelector, true, &ps.title},
		{"date", src.DateSelector, false, &ps.date},
		{"platform", src.PlatformSelector, false, &ps.platform},
	} {
		expr := strings.TrimSpace(f.expr)
		if expr == "" {
			if f.required {
				return ps, fmt.Errorf("%s selector is empty", f.name)
			}
			continue
		}
		sel, err := cascadia.Compile(expr)
		if err != nil {
			return ps, fmt.Errorf("%s selector %q: %w", f.name, expr, err)
		}
		*f.dst = sel
	}
	return ps, nil
}

// first returns the first match below n, or nil for an unset selector.
func first(n *html.Node, sel cascadia.Selector) *html.Node {
	if sel == nil {
		return nil
	}
	return sel.MatchFirst(n)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var parts []string
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		if cur.Type == html.TextNode {
			if t := strings.TrimSpace(cur.Data); t != "" {
				parts = append(parts, t)
			}
		}
		if cur.Type == html.ElementNode && (cur.Data == "script" || cur.Data == "style") {
			return
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}
