// Copyright 2025 Kadir Pekel
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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kadirpekel/deepresearch/internal/agents"
	"github.com/kadirpekel/deepresearch/internal/config"
	"github.com/kadirpekel/deepresearch/internal/graph"
	"github.com/kadirpekel/deepresearch/internal/httpapi"
	"github.com/kadirpekel/deepresearch/internal/llmtransport"
	"github.com/kadirpekel/deepresearch/internal/obslog"
	"github.com/kadirpekel/deepresearch/internal/session"
	"github.com/kadirpekel/deepresearch/internal/store"
	"github.com/kadirpekel/deepresearch/internal/websearch"
)

// ServeCmd wires persistence, LLM transport, agents, the graph factory,
// and the Session Manager into one HTTP+SSE server, matching spec.md §9
// "a single application container at startup wires persistence, LLM
// transport, agents, graph factory, and manager."
type ServeCmd struct {
	HTTPAddr  string `name:"http-addr" help:"Address to listen on (overrides DEEPRESEARCH_HTTP_ADDR)."`
	LogLevel  string `name:"log-level" help:"Log level (debug, info, warn, error)."`
	LogFormat string `name:"log-format" help:"Log format (simple or text)."`
	Tracing   bool   `name:"tracing" help:"Enable the stdout OpenTelemetry tracer."`
}

func (c *ServeCmd) Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("serve: load config: %w", err)
	}
	if c.HTTPAddr != "" {
		cfg.HTTPAddr = c.HTTPAddr
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	if c.LogFormat != "" {
		cfg.LogFormat = c.LogFormat
	}

	logger := obslog.New(obslog.ParseLevel(cfg.LogLevel), os.Stderr, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if c.Tracing {
		tp, err := obslog.InitTracer(ctx, "deepresearch")
		if err != nil {
			return fmt.Errorf("serve: init tracer: %w", err)
		}
		if shutter, ok := tp.(interface{ Shutdown(context.Context) error }); ok {
			defer func() { _ = shutter.Shutdown(context.Background()) }()
		}
	}

	db, err := store.Open(cfg.DBDialect, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("serve: open store: %w", err)
	}
	defer db.Close()

	metrics := obslog.NewMetrics()

	llm := llmtransport.New(llmtransport.Config{
		Endpoint:    cfg.LLMEndpoint,
		APIKey:      cfg.LLMAPIKey,
		Model:       cfg.LLMModel,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Metrics:     metrics,
	})

	search := websearch.NewSearxClient(cfg.SearxURL)
	fetcher := websearch.NewHTTPFetcher(websearch.FetcherConfig{
		AllowedDomains: cfg.AllowedDomains,
		DeniedDomains:  cfg.DeniedDomains,
	})

	nodes := graph.Nodes{
		Planner:    agents.Planner{LLM: llm},
		Finder:     agents.Finder{LLM: llm, Search: search},
		Summarizer: agents.Summarizer{LLM: llm},
		Reviewer:   agents.Reviewer{LLM: llm},
		Writer:     agents.Writer{LLM: llm},
		Fetcher:    fetcher,
	}

	manager := session.New(db, nodes, metrics, logger, cfg.MaxResearchTime)

	if err := manager.Recover(ctx); err != nil {
		return fmt.Errorf("serve: crash recovery: %w", err)
	}

	handler := httpapi.New(manager, metrics, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("deepresearch server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: listen: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("serve: shutdown: %w", err)
	}
	return <-serveErr
}
