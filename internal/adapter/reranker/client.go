// Package reranker reorders retrieved chunks with a hosted cross-encoder.
package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	ProviderNone   = "none"
	ProviderJina   = "jina"
	ProviderCohere = "cohere"
)

type provider struct {
	endpoint string
	model    string
}

var providers = map[string]provider{
	ProviderJina:   {endpoint: "https://api.jina.ai/v1/rerank", model: "jina-reranker-v1-base-en"},
	ProviderCohere: {endpoint: "https://api.cohere.ai/v1/rerank", model: "rerank-english-v3.0"},
}

// Both providers accept this body and ignore the fields they do not use.
type rerankRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n"`
	ReturnDocuments bool     `json:"return_documents"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"relevance_score"`
	} `json:"results"`
}

// StatusError is a non-200 reply from the provider.
type StatusError struct {
	Provider string
	Code     int
	Detail   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s api error: %d %s", e.Provider, e.Code, e.Detail)
}

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

type Client struct {
	name     string
	provider provider
	apiKey   string
	client   *http.Client
	minScore float64
	retries  uint64
	delay    time.Duration
}

type Option func(*Client)

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.provider.endpoint = url }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithMinScore drops documents the provider scores below score.
func WithMinScore(score float64) Option {
	return func(c *Client) { c.minScore = score }
}

// WithRetries retries rate-limited and 5xx replies with exponential delays
// starting at delay.
func WithRetries(n int, delay time.Duration) Option {
	return func(c *Client) {
		if n >= 0 {
			c.retries = uint64(n)
		}
		c.delay = delay
	}
}

func NewClient(name, apiKey string, opts ...Option) *Client {
	c := &Client{
		name:     name,
		provider: providers[name],
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
		retries:  2,
		delay:    200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether Rerank calls a provider instead of returning the
// identity order.
func (c *Client) Enabled() bool {
	_, ok := providers[c.name]
	return ok
}

// Rerank returns indices into docs, most relevant first.
func (c *Client) Rerank(ctx context.Context, query string, docs []string) ([]int, error) {
	if !c.Enabled() || len(docs) == 0 {
		indices := make([]int, len(docs))
		for i := range indices {
			indices[i] = i
		}
		return indices, nil
	}

	body, err := json.Marshal(rerankRequest{
		Model:     c.provider.model,
		Query:     query,
		Documents: docs,
		TopN:      len(docs),
	})
	if err != nil {
		return nil, err
	}

	var result *rerankResponse
	op := func() error {
		r, err := c.post(ctx, body)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && !se.retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		result = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.delay
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, c.retries), ctx)); err != nil {
		return nil, err
	}

	indices := make([]int, 0, len(docs))
	for _, r := range result.Results {
		if r.Index < 0 || r.Index >= len(docs) || r.Score < c.minScore {
			continue
		}
		indices = append(indices, r.Index)
	}
	return indices, nil
}

func (c *Client) post(ctx context.Context, body []byte) (*rerankResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.provider.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Provider: c.name, Code: resp.StatusCode, Detail: string(bytes.TrimSpace(detail))}
	}

	var out rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode %s response: %w", c.name, err))
	}
	return &out, nil
}
