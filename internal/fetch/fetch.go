// Package fetch downloads source pages and reduces them to readable text.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

var ErrStatus = errors.New("unexpected fetch status")

type Page struct {
	URL   string
	Title string
	Text  string
}

type Fetcher struct {
	client   *http.Client
	maxBytes int64
	agent    string
}

type Option func(*Fetcher)

func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

func New(timeout time.Duration, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: 5 << 20,
		agent:    "kgrag/1.0 (+knowledge graph ingestion)",
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.agent)
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d for %s", ErrStatus, resp.StatusCode, url)
	}

	body := io.LimitReader(resp.Body, f.maxBytes)

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/plain" {
		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}
		return &Page{URL: url, Text: strings.TrimSpace(string(raw))}, nil
	}

	title, text, err := ExtractText(body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return &Page{URL: url, Title: title, Text: text}, nil
}

var skipped = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"svg": true, "iframe": true, "head": true,
}

var blocks = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "li": true,
	"br": true, "tr": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true, "ul": true, "ol": true, "table": true, "header": true,
	"footer": true, "main": true, "blockquote": true, "pre": true,
}

// ExtractText walks an HTML document and returns its title and visible text,
// one block per paragraph.
func ExtractText(r io.Reader) (string, string, error) {
	z := html.NewTokenizer(r)

	var (
		title   string
		inTitle bool
		skip    int
		out     strings.Builder
		line    strings.Builder
	)

	flush := func() {
		s := strings.Join(strings.Fields(line.String()), " ")
		line.Reset()
		if s == "" {
			return
		}
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString(s)
	}

	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				flush()
				return title, out.String(), nil
			}
			return "", "", z.Err()

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "title" {
				inTitle = true
				continue
			}
			if skipped[tag] {
				// Self-closing forms never see an end tag.
				if tt == html.StartTagToken {
					skip++
				}
				continue
			}
			if blocks[tag] {
				flush()
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "title" {
				inTitle = false
				continue
			}
			if skipped[tag] && skip > 0 {
				skip--
				continue
			}
			if blocks[tag] {
				flush()
			}

		case html.TextToken:
			txt := string(z.Text())
			if inTitle {
				title = strings.TrimSpace(title + " " + txt)
				continue
			}
			if skip > 0 {
				continue
			}
			line.WriteString(txt)
			line.WriteString(" ")
		}
	}
}
