// Command kgctl talks to a running kgrag server: it asks questions, enqueues
// sources and drafts ontologies.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"kgrag/internal/adapter/gemini"
	"kgrag/internal/app"
	"kgrag/internal/config"
	"kgrag/internal/fetch"
	"kgrag/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "kgctl",
		Usage: "Ask questions of and feed sources to a kgrag server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "nats-url",
				Usage:   "NATS server URL",
				EnvVars: []string{"NATS_URL"},
			},
			&cli.StringFlag{
				Name:    "queue-backend",
				Usage:   "Source queue backend (jetstream, sqs, nsq)",
				EnvVars: []string{"QUEUE_BACKEND"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "ask",
				Usage:     "Send questions on the query channel and print the answers",
				ArgsUsage: "<question>...",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for each answer",
						Value: 30 * time.Second,
					},
				},
				Action: askAction,
			},
			{
				Name:      "add-source",
				Usage:     "Enqueue source URLs for ingestion",
				ArgsUsage: "<url>...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "file",
						Usage: "Read additional URLs from a file, one per line",
					},
				},
				Action: addSourceAction,
			},
			{
				Name:      "detect-ontology",
				Usage:     "Draft an ontology from sample source pages",
				ArgsUsage: "<url>...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "out",
						Usage: "Where to write the ontology",
						Value: "ontology.json",
					},
				},
				Action: detectOntologyAction,
			},
		},
	}
}

// loadConfig reads the server configuration and applies global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if v := c.String("nats-url"); v != "" {
		cfg.NATSURL = v
	}
	if v := c.String("queue-backend"); v != "" {
		cfg.QueueBackend = v
	}
	return cfg, nil
}

func askAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("ask needs at least one question", 2)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := logger.New(os.Stderr, c.String("log-level"))

	query, err := app.ConnectQuery(cfg, log)
	if err != nil {
		return err
	}
	defer query.Close()

	return ask(c.Context, query, cfg.QueryChannel, c.Duration("timeout"), c.Args().Slice(), c.App.Writer)
}

func addSourceAction(c *cli.Context) error {
	urls := c.Args().Slice()
	if path := c.String("file"); path != "" {
		fromFile, err := readLines(path)
		if err != nil {
			return err
		}
		urls = append(urls, fromFile...)
	}
	if len(urls) == 0 {
		return cli.Exit("add-source needs at least one url", 2)
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log := logger.New(os.Stderr, c.String("log-level"))

	queue, err := app.ConnectQueue(c.Context, cfg, log)
	if err != nil {
		return err
	}
	defer queue.Close()

	return addSources(c.Context, queue, cfg.SourceQueue, urls, c.App.Writer)
}

func detectOntologyAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("detect-ontology needs at least one url", 2)
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	client, err := gemini.NewClient(c.Context, cfg.GeminiAPIKey)
	if err != nil {
		return err
	}
	defer client.Close()

	fetcher := fetch.New(cfg.FetchTimeout, fetch.WithMaxBytes(cfg.FetchMaxBytes))
	completer := gemini.NewCompleter(client, cfg.ChatModel)

	o, err := detectOntology(c.Context, fetcher, completer, c.Args().Slice())
	if err != nil {
		return err
	}
	out := c.String("out")
	if err := o.Save(out); err != nil {
		return fmt.Errorf("write %s: %w", out, err)
	}
	fmt.Fprintf(c.App.Writer, "wrote %d entities and %d relations to %s\n", len(o.Entities), len(o.Relations), out)
	return nil
}
