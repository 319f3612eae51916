package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/transcriptlens"
	"github.com/poiesic/transcriptlens/ai"
	"github.com/poiesic/transcriptlens/ai/openai"
	"github.com/poiesic/transcriptlens/core"
	"github.com/poiesic/transcriptlens/ingestion"
	"github.com/poiesic/transcriptlens/lazy"
	"github.com/poiesic/transcriptlens/query"
	"github.com/poiesic/transcriptlens/reembed"
	"github.com/poiesic/transcriptlens/server"
	"github.com/poiesic/transcriptlens/storage"
	"github.com/urfave/cli/v2"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func ingestCommand(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg := appConfig(c)
	if c.IsSet("chunk-size") {
		cfg.Ingestion.ChunkSize = c.Int("chunk-size")
	}
	if c.IsSet("chunk-overlap") {
		cfg.Ingestion.ChunkOverlap = c.Int("chunk-overlap")
	}
	if c.IsSet("batch-size") {
		cfg.Ingestion.BatchSize = c.Int("batch-size")
	}
	if c.IsSet("rate-limit-delay") {
		delay := c.Duration("rate-limit-delay")
		cfg.Ingestion.Delay = &delay
	}
	if c.IsSet("pool-size") {
		cfg.Ingestion.PoolSize = c.Int("pool-size")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	db, err := transcriptlens.NewDatabaseFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	opts := append(cfg.IngestionOptions(),
		ingestion.WithProgress(os.Stderr),
		ingestion.WithReplaceSources(c.Bool("replace")))
	pipeline, err := db.NewIngestionPipeline(opts...)
	if err != nil {
		return err
	}
	defer pipeline.Release()

	corpus := c.String("corpus")
	fmt.Fprintf(os.Stderr, "Corpus: %s\n", corpus)
	fmt.Fprintf(os.Stderr, "Store: %s (%s)\n", cfg.Store.Path, cfg.Store.Backend)
	fmt.Fprintf(os.Stderr, "Embedding model: %s\n", cfg.Embedding.Model)
	fmt.Fprintln(os.Stderr)

	summary, err := pipeline.IngestDirectory(ctx, corpus)
	if summary != nil {
		summary.Print(c.App.Writer)
	}
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	if !summary.Succeeded() {
		return cli.Exit(fmt.Sprintf("ingestion finished with %d failed chunks", summary.ChunksFailed+summary.RecordsFailed), 1)
	}
	return nil
}

func queryCommand(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return fmt.Errorf("a question is required")
	}

	cfg := appConfig(c)
	if c.IsSet("top-k") {
		cfg.Query.TopK = c.Int("top-k")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	db, err := transcriptlens.NewDatabaseFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	opts := cfg.QueryOptions()
	if source := c.String("source"); source != "" {
		opts = append(opts, query.WithFilter(storage.Filter{core.MetaFilename: source}))
	}
	pipeline, err := db.NewQueryPipeline(opts...)
	if err != nil {
		return err
	}

	var monitor query.Monitor
	if c.Bool("verbose") {
		monitor = newVerboseMonitor(os.Stderr)
	}

	result, err := pipeline.AnalyzeWithMonitor(ctx, question, monitor)
	if err != nil {
		return fmt.Errorf("%s: %w", core.KindOf(err), err)
	}

	snippets := server.TruncateSnippets(result.SourceSnippets, *cfg.Server.SnippetLength)
	if c.Bool("json") {
		return writeJSON(c.App.Writer, result, snippets)
	}
	writeText(c.App.Writer, result, snippets)
	return nil
}

// jsonResult mirrors the body returned by the HTTP API.
type jsonResult struct {
	Question string `json:"question"`
	Analysis struct {
		Complaints []core.Complaint `json:"klachten"`
	} `json:"analysis"`
	Snippets []string `json:"used_sources_snippets"`
}

func writeJSON(w io.Writer, result *core.AnalysisResult, snippets []string) error {
	var out jsonResult
	out.Question = result.Question
	out.Analysis.Complaints = result.Complaints
	out.Snippets = snippets

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeText(w io.Writer, result *core.AnalysisResult, snippets []string) {
	fmt.Fprintf(w, "Vraag: %s\n\n", result.Question)
	if len(result.Complaints) == 0 {
		fmt.Fprintln(w, "Geen klachten gevonden.")
	} else {
		fmt.Fprintln(w, "Klachten:")
		for i, complaint := range result.Complaints {
			fmt.Fprintf(w, "%d. %s (%dx)\n", i+1, complaint.Name, complaint.Frequency)
			if complaint.Summary != "" {
				fmt.Fprintf(w, "   %s\n", complaint.Summary)
			}
		}
	}
	if len(snippets) > 0 {
		fmt.Fprintln(w, "\nBronnen:")
		for _, snippet := range snippets {
			fmt.Fprintf(w, "- %s\n", snippet)
		}
	}
}

func serveCommand(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg := appConfig(c)
	if c.IsSet("host") {
		cfg.Server.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	provider := lazy.New(func() (ai.AIProvider, error) {
		return openai.NewProvider(cfg.AI())
	})
	srv, err := server.New(server.Factory{
		Embedder: func() (ai.Embedder, error) {
			p, err := provider.Get()
			if err != nil {
				return nil, err
			}
			return p.Embedder(), nil
		},
		Generator: func() (ai.Generator, error) {
			p, err := provider.Get()
			if err != nil {
				return nil, err
			}
			return p.Generator(), nil
		},
		Store: func() (storage.RecordRepository, error) {
			return transcriptlens.OpenStore(cfg.Store.Path, transcriptlens.StoreOptionsFromConfig(cfg))
		},
	},
		server.WithAddress(cfg.Address()),
		server.WithRequestTimeout(cfg.Server.Timeout),
		server.WithSnippetLength(*cfg.Server.SnippetLength),
		server.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
		server.WithQueryOptions(cfg.QueryOptions()...),
	)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	err = srv.Stop(shutdownCtx)
	if p, ok := provider.Peek(); ok {
		err = errors.Join(err, p.Close())
	}
	return err
}

func reembedCommand(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg := appConfig(c)

	// Create AI config
	if host := c.String("embedding-host"); host != "" {
		cfg.Embedding.Host = host
	}
	cfg.Embedding.Model = c.String("embedding-model")
	if c.IsSet("dimensions") {
		cfg.Embedding.Dimensions = c.Int("dimensions")
	}
	aiConfig := cfg.AI()
	if err := aiConfig.Validate(); err != nil {
		return fmt.Errorf("invalid AI configuration: %w", err)
	}

	// Create reembedding config
	reembedConfig := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}

	// Validate config
	if reembedConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if reembedConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if reembedConfig.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	embedder, err := openai.NewEmbedder(aiConfig)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	sourceOpts := transcriptlens.StoreOptionsFromConfig(cfg)
	source, err := transcriptlens.OpenStore(c.String("from"), sourceOpts)
	if err != nil {
		return fmt.Errorf("failed to open source store: %w", err)
	}
	defer source.Close()

	targetOpts := sourceOpts
	if backend := c.String("to-backend"); backend != "" {
		targetOpts.Backend = backend
	}
	target, err := transcriptlens.OpenStore(c.String("to"), targetOpts)
	if err != nil {
		return fmt.Errorf("failed to open target store: %w", err)
	}
	defer target.Close()

	fmt.Fprintf(os.Stderr, "Source: %s (%s)\n", c.String("from"), sourceOpts.Backend)
	fmt.Fprintf(os.Stderr, "Target: %s (%s)\n", c.String("to"), targetOpts.Backend)
	fmt.Fprintf(os.Stderr, "Embedding host: %s\n", aiConfig.EmbeddingHost)
	fmt.Fprintf(os.Stderr, "Embedding model: %s\n", aiConfig.EmbeddingModel)
	fmt.Fprintln(os.Stderr)

	reembedder := reembed.NewReembedder(source, target, embedder, reembedConfig, os.Stderr)
	if _, err := reembedder.Run(ctx); err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	return nil
}
