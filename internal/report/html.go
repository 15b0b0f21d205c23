package report

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const pageCSS = `
html,body,*{-webkit-print-color-adjust:exact !important;print-color-adjust:exact !important;}
body{font-family:"Noto Sans JP","Hiragino Sans",sans-serif;color:#1c1917;background:#fff;margin:0;padding:1rem;}
.report{max-width:1000px;margin:0 auto;}
.report h1{font-size:1.5rem;border-bottom:3px solid #4338ca;padding-bottom:0.4rem;}
.report h2{font-size:1.15rem;margin-top:1.6rem;color:#312e81;}
.report h3{font-size:0.95rem;margin-bottom:0.2rem;}
.report a{color:#1d4ed8;text-decoration:underline;}
.report table{width:100%;border-collapse:collapse;border:1px solid #a8a29e;font-size:0.8rem;}
.report th,.report td{border:1px solid #a8a29e;padding:0.35rem 0.45rem;vertical-align:top;}
.report thead th{background:#eef2ff;font-weight:700;}
h2[data-page-break-before="true"]{break-before:page;page-break-before:always;}
@media print{ @page{size:auto;margin:12mm;} body{padding:0;} .report{max-width:none;} }
`

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// HTML renders markdown into a standalone page.
func HTML(markdown, title string) (string, error) {
	var content strings.Builder
	if err := md.Convert([]byte(markdown), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	return "<!doctype html><html><head><meta charset='utf-8'><title>" + html.EscapeString(title) + "</title>" +
		"<style>" + pageCSS + "</style></head><body><main class='report'>" +
		applyPrintLayoutHooks(content.String()) +
		"</main></body></html>", nil
}

var reDistributionHeading = regexp.MustCompile(`<h2([^>]*)>\s*` + HeadingDistribution + `\s*</h2>`)

// applyPrintLayoutHooks starts the distribution table on its own page.
func applyPrintLayoutHooks(contentHTML string) string {
	return reDistributionHeading.ReplaceAllString(contentHTML, `<h2$1 data-page-break-before="true">`+HeadingDistribution+`</h2>`)
}
