// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/poiesic/transcriptlens/config"
	"github.com/poiesic/transcriptlens/ingestion"
	"github.com/poiesic/transcriptlens/query"
	"github.com/poiesic/transcriptlens/reembed"
	"github.com/urfave/cli/v2"
)

const configKey = "config"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "transcriptlens",
		Usage: "Complaint analysis over customer service call transcripts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML configuration file",
				Value:   config.DefaultPath,
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to the vector store (overrides store.path)",
			},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "Vector store backend: badger or sqlite (overrides store.backend)",
			},
		},
		Before: func(c *cli.Context) error {
			if err := setupLogger(c); err != nil {
				return err
			}
			return loadConfig(c)
		},
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Chunk, embed and store a directory of transcripts",
				Action:    ingestCommand,
				ArgsUsage: " ",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "corpus",
						Usage:    "Directory containing *.txt transcripts",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "chunk-size",
						Usage: "Maximum chunk length in characters",
						Value: ingestion.DefaultChunkSize,
					},
					&cli.IntFlag{
						Name:  "chunk-overlap",
						Usage: "Characters shared by consecutive chunks",
						Value: ingestion.DefaultChunkOverlap,
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of chunks to embed and store per batch",
						Value: ingestion.DefaultBatchSize,
					},
					&cli.DurationFlag{
						Name:  "rate-limit-delay",
						Usage: "Pause between consecutive batches",
						Value: ingestion.DefaultRateLimitDelay,
					},
					&cli.IntFlag{
						Name:  "pool-size",
						Usage: "Number of workers reading and chunking transcripts",
					},
					&cli.BoolFlag{
						Name:  "replace",
						Usage: "Remove stored chunks of each transcript before writing it again",
					},
				},
			},
			{
				Name:      "query",
				Usage:     "Analyze the complaints relevant to a question",
				Action:    queryCommand,
				ArgsUsage: "QUESTION",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Print the result as JSON",
					},
					&cli.BoolFlag{
						Name:    "verbose",
						Aliases: []string{"v"},
						Usage:   "Report each stage of the analysis on stderr",
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "Number of transcript chunks to retrieve",
						Value: query.DefaultTopK,
					},
					&cli.StringFlag{
						Name:  "source",
						Usage: "Only retrieve chunks of this transcript file",
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Serve the analysis API over HTTP",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "host",
						Usage: "Interface to listen on (overrides server.host)",
					},
					&cli.IntFlag{
						Name:  "port",
						Usage: "Port to listen on (overrides server.port)",
					},
				},
			},
			{
				Name:   "reembed",
				Usage:  "Copy a store into a new store with embeddings from another model",
				Action: reembedCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "from",
						Usage:    "Path to the source store",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "to",
						Usage:    "Path to the new target store",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "to-backend",
						Usage: "Backend of the target store (defaults to the source backend)",
					},
					&cli.StringFlag{
						Name:  "embedding-host",
						Usage: "Embedding service host URL",
					},
					&cli.StringFlag{
						Name:     "embedding-model",
						Usage:    "Embedding model name",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "dimensions",
						Usage: "Vector length the new model returns (0 skips the check)",
					},
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of records to process in each batch",
						Value: reembed.DefaultConfig().BatchSize,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N records",
						Value: reembed.DefaultConfig().ReportInterval,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum retry attempts for failed operations",
						Value: reembed.DefaultConfig().MaxRetries,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
				},
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	// Get log level from flag and normalize to lowercase
	levelStr := strings.ToLower(c.String("log-level"))

	// Map string to slog.Level
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	// Configure slog with the specified level
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

// loadConfig reads the configuration, applies the global flags and keeps
// the result in the app metadata for the commands.
func loadConfig(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if c.IsSet("db") {
		cfg.Store.Path = c.String("db")
	}
	if c.IsSet("backend") {
		cfg.Store.Backend = c.String("backend")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if c.App.Metadata == nil {
		c.App.Metadata = map[string]any{}
	}
	c.App.Metadata[configKey] = cfg
	slog.Debug("configuration loaded", "ai", cfg.AI(), "store", cfg.Store.Path, "backend", cfg.Store.Backend)
	return nil
}

func appConfig(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[configKey].(*config.Config); ok {
		return cfg
	}
	return config.Default()
}
