package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"kgrag/internal/fetch"
	"kgrag/internal/messaging"
	"kgrag/internal/ontology"
	"kgrag/internal/worker"
)

// ask sends each question in turn and prints its answer. Every question is
// tried even after a failure.
func ask(ctx context.Context, client messaging.QueryClient, channel string, timeout time.Duration, questions []string, out io.Writer) error {
	failed := 0
	for _, q := range questions {
		fmt.Fprintf(out, "Q: %s\n", q)
		answer, err := client.Request(ctx, channel, []byte(q), timeout)
		if err != nil {
			failed++
			var remote *messaging.RemoteError
			if errors.As(err, &remote) {
				fmt.Fprintf(out, "error: %s\n\n", remote.Message)
			} else {
				fmt.Fprintf(out, "error: %v\n\n", err)
			}
			continue
		}
		fmt.Fprintf(out, "A: %s\n\n", answer)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d questions failed", failed, len(questions))
	}
	return nil
}

// addSources validates and enqueues each URL.
func addSources(ctx context.Context, queue messaging.QueueClient, name string, urls []string, out io.Writer) error {
	failed := 0
	for _, u := range urls {
		item, err := worker.DecodeIngestItem([]byte(u))
		if err == nil {
			err = queue.Send(ctx, name, []byte(item.SourceURI))
		}
		if err != nil {
			failed++
			fmt.Fprintf(out, "failed %s: %v\n", u, err)
			continue
		}
		fmt.Fprintf(out, "queued %s\n", item.SourceURI)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d sources were not queued", failed, len(urls))
	}
	return nil
}

type pageFetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Page, error)
}

// detectOntology drafts an ontology from the text of the given pages.
func detectOntology(ctx context.Context, f pageFetcher, c ontology.Completer, urls []string) (*ontology.Ontology, error) {
	samples := make([]string, 0, len(urls))
	for _, u := range urls {
		page, err := f.Fetch(ctx, u)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", u, err)
		}
		if strings.TrimSpace(page.Text) == "" {
			continue
		}
		samples = append(samples, page.Text)
	}
	return ontology.Detect(ctx, c, samples)
}

// readLines returns the non-blank lines of path, skipping # comments.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path) // #nosec G304 -- path is an operator supplied flag
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, sc.Err()
}
