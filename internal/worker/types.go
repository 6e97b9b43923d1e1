package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"kgrag/internal/messaging"
)

var (
	// ErrAnswer marks a failure inside the answer capability.
	ErrAnswer = errors.New("answer failed")

	// ErrIngest marks a failure inside the ingest capability.
	ErrIngest = errors.New("ingest failed")
)

// IngestItem is one decoded source from the work queue.
type IngestItem struct {
	SourceURI string
}

// Answerer answers a chat question. Backed by the knowledge graph.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

// Ingester adds a batch of sources to the knowledge graph.
type Ingester interface {
	Ingest(ctx context.Context, items []IngestItem) error
}

// AnswerFunc adapts a plain function to Answerer.
type AnswerFunc func(ctx context.Context, question string) (string, error)

func (f AnswerFunc) Answer(ctx context.Context, question string) (string, error) {
	return f(ctx, question)
}

// IngestFunc adapts a plain function to Ingester.
type IngestFunc func(ctx context.Context, items []IngestItem) error

func (f IngestFunc) Ingest(ctx context.Context, items []IngestItem) error {
	return f(ctx, items)
}

// DecodeQuestion decodes a query body as UTF-8 text.
func DecodeQuestion(body []byte) (string, error) {
	if !utf8.Valid(body) {
		return "", fmt.Errorf("%w: request body is not valid UTF-8", messaging.ErrDecode)
	}
	q := strings.TrimSpace(string(body))
	if q == "" {
		return "", fmt.Errorf("%w: empty question", messaging.ErrDecode)
	}
	return q, nil
}

// DecodeIngestItem decodes a queue body as an absolute http(s) URI.
func DecodeIngestItem(body []byte) (IngestItem, error) {
	if !utf8.Valid(body) {
		return IngestItem{}, fmt.Errorf("%w: source body is not valid UTF-8", messaging.ErrDecode)
	}
	raw := strings.TrimSpace(string(body))
	u, err := url.ParseRequestURI(raw)
	if err != nil {
		return IngestItem{}, fmt.Errorf("%w: %v", messaging.ErrDecode, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return IngestItem{}, fmt.Errorf("%w: unsupported source uri %q", messaging.ErrDecode, raw)
	}
	return IngestItem{SourceURI: raw}, nil
}

// ErrorKind names the error class for logs.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, messaging.ErrDecode):
		return "decode"
	case errors.Is(err, messaging.ErrSubstrate):
		return "substrate"
	case errors.Is(err, ErrAnswer):
		return "answer"
	case errors.Is(err, ErrIngest):
		return "ingest"
	default:
		return "unknown"
	}
}
