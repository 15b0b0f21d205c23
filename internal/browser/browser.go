// Package browser starts headless Chromium sessions for pages that need
// rendering and for printing reports to PDF.
package browser

import (
	"context"
	"os"
	"time"

	"github.com/chromedp/chromedp"
)

// NewContext returns a chromedp task context bound to a fresh headless
// browser. The returned cancel tears the browser down.
func NewContext(ctx context.Context, timeout time.Duration, userAgent string) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timeoutCtx, cancelTimeout := context.WithTimeout(ctx, timeout)

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if path := DetectChromePath(); path != "" {
		opts = append(opts, chromedp.ExecPath(path))
	}
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(timeoutCtx, append(chromedp.DefaultExecAllocatorOptions[:], opts...)...)
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	return taskCtx, func() {
		cancelTask()
		cancelAlloc()
		cancelTimeout()
	}
}

// DetectChromePath returns the first installed Chromium binary, or "" to let
// chromedp search PATH.
func DetectChromePath() string {
	if p := os.Getenv("CHROME_PATH"); p != "" {
		return p
	}
	for _, p := range []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
