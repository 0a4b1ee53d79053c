package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/wangdangel/augmentorium/internal/config"
	"github.com/wangdangel/augmentorium/internal/utils"
)

// HTTPClient is the default embedder: an OpenAI-style embeddings endpoint
// called in batches with bounded concurrency and retries.
//
// Request:  POST {base_url}/v1/embeddings  {"model": ..., "input": [...]}
// Response: {"data": [{"embedding": [...], "index": n}, ...]}
type HTTPClient struct {
	cfg         config.EmbeddingConfig
	httpClient  *http.Client
	sem         *semaphore.Weighted
	onTransient func()
}

// NewHTTPClient creates the HTTP embedder. sem bounds in-flight batches
// process-wide; onTransient is invoked once per failed attempt with a
// transport/5xx error, including a final attempt that is not retried.
func NewHTTPClient(cfg config.EmbeddingConfig, sem *semaphore.Weighted, onTransient func()) *HTTPClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: timeout},
		sem:         sem,
		onTransient: onTransient,
	}
}

// ModelID returns the configured model identifier.
func (c *HTTPClient) ModelID() string {
	return c.cfg.Model
}

// Close releases client resources.
func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Embed returns one vector per input text, in input order. Batches run
// concurrently under the in-flight semaphore; any batch failure fails the
// whole call so callers never see partial output.
func (c *HTTPClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	batchSize := c.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	vectors := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		offset, batch := start, texts[start:end]

		g.Go(func() error {
			if err := c.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer c.sem.Release(1)

			out, err := c.embedBatch(gctx, batch)
			if err != nil {
				return err
			}
			copy(vectors[offset:], out)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// embedBatch performs one endpoint call with retries. Transport errors and
// 5xx responses back off and retry; 4xx is fatal for the batch.
func (c *HTTPClient) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	attempts := c.cfg.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	initialDelay := c.cfg.Retry.InitialDelay
	if initialDelay <= 0 {
		initialDelay = 200 * time.Millisecond
	}

	var out [][]float32
	err := utils.RetryFiltered(ctx, attempts, initialDelay, func() error {
		result, err := c.callEndpoint(ctx, texts)
		if err != nil {
			if isTransient(err) && c.onTransient != nil {
				c.onTransient()
			}
			return err
		}
		out = result
		return nil
	}, isTransient)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// isTransient classifies errors for retry. Permanent rejections and caller
// cancellation stop immediately; request timeouts count as transport errors.
func isTransient(err error) bool {
	if errors.Is(err, ErrBatchRejected) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

func (c *HTTPClient) callEndpoint(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(map[string]any{
		"model": c.cfg.Model,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/v1/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: status %d: %s", ErrBatchRejected, resp.StatusCode, string(payload))
		}
		return nil, fmt.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, string(payload))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(apiResp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding endpoint returned %d vectors for %d inputs", len(apiResp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, item := range apiResp.Data {
		idx := item.Index
		if idx < 0 || idx >= len(vectors) {
			idx = i
		}
		vectors[idx] = item.Embedding
	}
	return vectors, nil
}
