// Package txcourts implements the source adapter for the Texas Courts of
// Appeals docket search site (search.txcourts.gov).
package txcourts

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/markwbennett/PDRbot/internal/pipeline"
	"github.com/markwbennett/PDRbot/internal/sources"
)

// Config controls adapter behavior.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Retry     pipeline.RetryPolicy
}

// Adapter lists criminal opinions from a COA docket page using Colly, with
// an optional headless renderer for script-gated responses.
type Adapter struct {
	cfg           Config
	base          *url.URL
	baseCollector *colly.Collector
	renderer      Renderer
	logger        *zap.Logger
}

// New builds an Adapter. renderer may be nil to disable the headless
// fallback.
func New(cfg Config, renderer Renderer, logger *zap.Logger) (*Adapter, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = pipeline.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}
	}

	c := colly.NewCollector(colly.Async(false))
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.SetRequestTimeout(cfg.Timeout)
	// The docket pages are fetched on a fixed schedule, one date at a time;
	// revisits across retries are expected.
	c.AllowURLRevisit = true

	return &Adapter{
		cfg:           cfg,
		base:          base,
		baseCollector: c,
		renderer:      renderer,
		logger:        logger,
	}, nil
}

// DocketURL returns the listing URL for a source and date.
func (a *Adapter) DocketURL(sourceID string, date time.Time) string {
	return fmt.Sprintf("%sDocket.aspx?coa=%s&FullDate=%s",
		a.base.String(), sourceID, url.QueryEscape(date.Format("01/02/2006")))
}

// List implements sources.Adapter. The listing fetch itself is retried with
// the configured backoff; total failure surfaces as
// *pipeline.SourceUnavailableError.
func (a *Adapter) List(ctx context.Context, sourceID string, date time.Time) ([]sources.OpinionRef, error) {
	listingURL := a.DocketURL(sourceID, date)

	body, err := a.fetchListing(ctx, listingURL)
	if err != nil {
		return nil, &pipeline.SourceUnavailableError{SourceID: sourceID, Err: err}
	}

	refs, err := a.parse(body, sourceID, listingURL, date)
	if err != nil {
		return nil, &pipeline.SourceUnavailableError{SourceID: sourceID, Err: err}
	}

	if len(refs) == 0 && a.renderer != nil && looksScriptGated(string(body)) {
		a.logger.Info("Listing appears script-gated; retrying headless",
			zap.String("source", sourceID), zap.String("url", listingURL))
		html, renderErr := a.renderer.Render(ctx, listingURL)
		if renderErr != nil {
			a.logger.Warn("Headless render failed; treating listing as empty",
				zap.String("source", sourceID), zap.Error(renderErr))
			return refs, nil
		}
		rendered, parseErr := a.parse([]byte(html), sourceID, listingURL, date)
		if parseErr == nil {
			refs = rendered
		}
	}
	return refs, nil
}

func (a *Adapter) parse(body []byte, sourceID, listingURL string, date time.Time) ([]sources.OpinionRef, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}
	return parseDocket(doc, sourceID, listingURL, a.base, date), nil
}

func (a *Adapter) fetchListing(ctx context.Context, listingURL string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= a.cfg.Retry.MaxAttempts; attempt++ {
		body, err := a.visitOnce(ctx, listingURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if attempt == a.cfg.Retry.MaxAttempts {
			break
		}
		a.logger.Warn("Listing fetch failed; retrying",
			zap.String("url", listingURL),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if err := pipeline.Sleep(ctx, a.cfg.Retry.Delay(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("fetch listing after %d attempts: %w", a.cfg.Retry.MaxAttempts, lastErr)
}

func (a *Adapter) visitOnce(ctx context.Context, listingURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	collector := a.baseCollector.Clone()

	var (
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = fmt.Errorf("get %s: %w", listingURL, err)
	})

	if err := collector.Visit(listingURL); err != nil {
		return nil, fmt.Errorf("get %s: %w", listingURL, err)
	}
	collector.Wait()

	if fetchErr != nil {
		return nil, fetchErr
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("get %s: empty response", listingURL)
	}
	return body, nil
}
