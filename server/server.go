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


// Package server exposes the query pipeline over HTTP.
//
// The embedding client, the vector store and the generation client are
// created on the first request that needs them and shared by all later
// requests. A failed construction is reported to the caller and retried on
// the next request.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/poiesic/transcriptlens/ai"
	"github.com/poiesic/transcriptlens/core"
	"github.com/poiesic/transcriptlens/lazy"
	"github.com/poiesic/transcriptlens/query"
	"github.com/poiesic/transcriptlens/storage"
)

const (
	DefaultAddress        = "localhost:8080"
	DefaultRequestTimeout = 30 * time.Second
	DefaultSnippetLength  = 200
	DefaultMaxBodyBytes   = 1 << 20
)

// Factory builds the services the handler depends on.
type Factory struct {
	Embedder  func() (ai.Embedder, error)
	Generator func() (ai.Generator, error)
	Store     func() (storage.RecordRepository, error)
}

// Server is the HTTP server for the analysis API.
type Server struct {
	embedder  *lazy.Value[ai.Embedder]
	generator *lazy.Value[ai.Generator]
	store     *lazy.Value[storage.RecordRepository]

	addr           string
	requestTimeout time.Duration
	snippetLength  int
	maxBodyBytes   int64
	queryOpts      []query.Option
	logger         *slog.Logger

	router *chi.Mux
	server *http.Server
}

// Option configures a Server.
type Option func(*Server) error

// WithAddress sets the host:port the server listens on.
func WithAddress(addr string) Option {
	return func(s *Server) error {
		if addr == "" {
			return fmt.Errorf("%w: server address is required", core.ErrConfiguration)
		}
		s.addr = addr
		return nil
	}
}

// WithRequestTimeout bounds the time spent answering one request.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) error {
		if d <= 0 {
			return fmt.Errorf("%w: request timeout must be positive, got %v", core.ErrConfiguration, d)
		}
		s.requestTimeout = d
		return nil
	}
}

// WithSnippetLength truncates source snippets to n characters.
// Zero returns snippets whole.
func WithSnippetLength(n int) Option {
	return func(s *Server) error {
		if n < 0 {
			return fmt.Errorf("%w: snippet length must not be negative, got %d", core.ErrConfiguration, n)
		}
		s.snippetLength = n
		return nil
	}
}

// WithMaxBodyBytes limits the size of request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) error {
		if n < 1 {
			return fmt.Errorf("%w: max body bytes must be positive, got %d", core.ErrConfiguration, n)
		}
		s.maxBodyBytes = n
		return nil
	}
}

// WithQueryOptions passes options to every query pipeline the server builds.
func WithQueryOptions(opts ...query.Option) Option {
	return func(s *Server) error {
		s.queryOpts = append(s.queryOpts, opts...)
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// New creates a server whose services are built lazily by factory.
func New(factory Factory, opts ...Option) (*Server, error) {
	if factory.Embedder == nil || factory.Generator == nil || factory.Store == nil {
		return nil, ErrIncompleteFactory
	}

	s := &Server{
		embedder:       lazy.New(factory.Embedder),
		generator:      lazy.New(factory.Generator),
		store:          lazy.New(factory.Store),
		addr:           DefaultAddress,
		requestTimeout: DefaultRequestTimeout,
		snippetLength:  DefaultSnippetLength,
		maxBodyBytes:   DefaultMaxBodyBytes,
		logger:         slog.Default().With("component", "server"),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Post("/api/analyze", s.handleAnalyze)
	r.Options("/api/analyze", s.handlePreflight)
	r.Get("/health", s.handleHealth)
	return r
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server and closes the store if it was
// opened.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error
	if s.server != nil {
		errs = append(errs, s.server.Shutdown(ctx))
	}
	if store, ok := s.store.Peek(); ok {
		errs = append(errs, store.Close())
	}
	return errors.Join(errs...)
}

type pipelineResult struct {
	pipeline *query.Pipeline
	err      error
}

// pipelineContext is pipeline bounded by ctx. A construction that outlives
// ctx keeps running and fills the lazy cells for later requests.
func (s *Server) pipelineContext(ctx context.Context) (*query.Pipeline, error) {
	done := make(chan pipelineResult, 1)
	go func() {
		p, err := s.pipeline()
		done <- pipelineResult{pipeline: p, err: err}
	}()

	select {
	case res := <-done:
		return res.pipeline, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("initializing services: %w", ctx.Err())
	}
}

// pipeline assembles a query pipeline from the lazily built services.
func (s *Server) pipeline() (*query.Pipeline, error) {
	embedder, err := s.embedder.Get()
	if err != nil {
		return nil, withKind(err, core.ErrConfiguration)
	}
	store, err := s.store.Get()
	if err != nil {
		return nil, withKind(err, core.ErrRetrieval)
	}
	generator, err := s.generator.Get()
	if err != nil {
		return nil, withKind(err, core.ErrConfiguration)
	}
	return query.NewPipeline(store, services{embedder: embedder, generator: generator}, s.queryOpts...)
}

// services adapts already constructed clients to ai.AIProvider. Their
// lifecycle belongs to the factory, so Close does nothing.
type services struct {
	embedder  ai.Embedder
	generator ai.Generator
}

func (p services) Embedder() ai.Embedder   { return p.embedder }
func (p services) Generator() ai.Generator { return p.generator }
func (p services) Close() error            { return nil }

func withKind(err, kind error) error {
	if core.KindOf(err) != core.KindInternal {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
