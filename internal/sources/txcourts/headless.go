package txcourts

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// Renderer renders a listing page with JavaScript executed.
type Renderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// ChromedpRenderer drives a headless Chrome tab to render script-gated
// docket pages. Each Render call uses a fresh browser so a wedged tab
// cannot poison later listings.
type ChromedpRenderer struct {
	userAgent string
	timeout   time.Duration
}

// NewChromedpRenderer builds a renderer.
func NewChromedpRenderer(userAgent string, timeout time.Duration) *ChromedpRenderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChromedpRenderer{userAgent: userAgent, timeout: timeout}
}

// Render implements Renderer.
func (r *ChromedpRenderer) Render(ctx context.Context, url string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(r.userAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	runCtx, cancelRun := context.WithTimeout(tabCtx, r.timeout)
	defer cancelRun()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", url, err)
	}
	return html, nil
}
