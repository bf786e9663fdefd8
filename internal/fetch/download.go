// Package fetch implements the download manager: a pure
// fetch-validate-store-bytes operation with bounded retry. It performs no
// ledger writes; recording outcomes is the ingestion coordinator's job.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/markwbennett/PDRbot/internal/artifacts"
	"github.com/markwbennett/PDRbot/internal/pipeline"
	"github.com/markwbennett/PDRbot/internal/telemetry"
)

// Artifact describes a successfully stored download.
type Artifact struct {
	Name string // store-relative name the bytes were written under
	URI  string // URI returned by the artifact store
	Hash string // sha256 hex digest of the bytes
	Size int
}

// Manager fetches documents over HTTP with validation, retry, and backoff.
type Manager struct {
	client    *http.Client
	store     artifacts.Store
	policy    pipeline.RetryPolicy
	userAgent string
	logger    *zap.Logger
}

// NewManager constructs a Manager. The retry schedule is
// policy.BaseDelay * 2^(attempt-1) between attempts, up to
// policy.MaxAttempts attempts total.
func NewManager(client *http.Client, store artifacts.Store, policy pipeline.RetryPolicy, userAgent string, logger *zap.Logger) *Manager {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}
	return &Manager{
		client:    client,
		store:     store,
		policy:    policy,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Fetch downloads url, verifies the structural signature for kind, writes
// the bytes to the artifact store under name, and returns the stored
// artifact with its content hash.
//
// Any transport failure, non-2xx status, or signature mismatch is retried
// with exponential backoff. A signature mismatch on an otherwise successful
// transfer may be transient server-side corruption, so it is retried rather
// than rejected outright. On exhaustion the last cause is returned inside a
// *pipeline.DownloadExhaustedError.
func (m *Manager) Fetch(ctx context.Context, url string, kind Kind, name string) (Artifact, error) {
	var lastErr error

	for attempt := 1; attempt <= m.policy.MaxAttempts; attempt++ {
		data, err := m.fetchOnce(ctx, url, kind)
		if err == nil {
			return m.storeArtifact(ctx, name, data)
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		if attempt == m.policy.MaxAttempts {
			break
		}
		telemetry.DownloadRetriesTotal.Inc()
		delay := m.policy.Delay(attempt)
		m.logger.Warn("Download attempt failed; retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.policy.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := pipeline.Sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	return Artifact{}, &pipeline.DownloadExhaustedError{
		URL:      url,
		Attempts: m.policy.MaxAttempts,
		Err:      lastErr,
	}
}

func (m *Manager) fetchOnce(ctx context.Context, url string, kind Kind) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if m.userAgent != "" {
		req.Header.Set("User-Agent", m.userAgent)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("get %s: unexpected status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", url, err)
	}
	if len(data) == 0 {
		return nil, &pipeline.ValidationError{Kind: kind.Name, URL: url, Detail: "empty body"}
	}
	if !kind.Matches(data) {
		return nil, &pipeline.ValidationError{
			Kind:   kind.Name,
			URL:    url,
			Detail: fmt.Sprintf("missing %s signature", kind.Name),
		}
	}
	return data, nil
}

func (m *Manager) storeArtifact(ctx context.Context, name string, data []byte) (Artifact, error) {
	uri, err := m.store.Put(ctx, name, data)
	if err != nil {
		return Artifact{}, fmt.Errorf("store artifact %s: %w", name, err)
	}
	sum := sha256.Sum256(data)
	return Artifact{
		Name: name,
		URI:  uri,
		Hash: hex.EncodeToString(sum[:]),
		Size: len(data),
	}, nil
}
