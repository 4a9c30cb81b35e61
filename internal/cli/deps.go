package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ppiankov/medfuse/internal/cache"
	"github.com/ppiankov/medfuse/internal/connector"
	"github.com/ppiankov/medfuse/internal/llm"
	"github.com/ppiankov/medfuse/internal/model"
	"github.com/ppiankov/medfuse/internal/pipeline"
	"github.com/ppiankov/medfuse/internal/safety"
	"github.com/ppiankov/medfuse/internal/telemetry"
	"github.com/ppiankov/medfuse/internal/worker"
)

// app holds the wired components behind a command
type app struct {
	cfg      *model.Config
	graph    *connector.Neo4jGraph
	pipeline *pipeline.Pipeline
	metrics  *telemetry.Metrics
}

// Close releases the graph driver
func (a *app) Close() {
	if a.graph == nil {
		return
	}
	if err := a.graph.Close(context.Background()); err != nil {
		slog.Warn("close patient graph", "error", err)
	}
}

// connectGraph opens the patient graph only
func connectGraph(ctx context.Context, cfg *model.Config) (*connector.Neo4jGraph, error) {
	graph, err := connector.NewNeo4jGraph(ctx, cfg.Graph)
	if err != nil {
		return nil, fmt.Errorf("patient graph: %w", err)
	}
	return graph, nil
}

// buildApp connects every collaborator and assembles the pipeline
func buildApp(ctx context.Context, cfg *model.Config) (*app, error) {
	gate := safety.Open(cfg.Safety.ReferencePath)
	if err := gate.Err(); err != nil {
		// Keep going: every run will fail closed at the gating stage
		slog.Warn("safety gate unavailable; runs will fail", "error", err)
	}

	generator, err := llm.NewGenerator(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}
	embedder, err := llm.NewEmbedder(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	embedder = llm.NewCachedEmbedder(embedder, cache.New(cfg.Cache),
		cfg.LLM.EmbeddingProvider+"/"+cfg.LLM.EmbeddingModel, cfg.Cache.DiskTTL)

	index, err := connector.NewWeaviateIndex(cfg.Vector)
	if err != nil {
		return nil, fmt.Errorf("vector index: %w", err)
	}

	graph, err := connectGraph(ctx, cfg)
	if err != nil {
		return nil, err
	}

	metrics := telemetry.NewMetrics()
	p, err := pipeline.New(cfg, pipeline.Deps{
		Profiles:  graph,
		Passages:  index,
		Embedder:  embedder,
		Generator: generator,
		Gate:      gate,
		Limiter:   worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize),
		Metrics:   metrics,
	})
	if err != nil {
		_ = graph.Close(ctx)
		return nil, err
	}

	if !generator.IsAvailable(ctx) {
		slog.Warn("LLM provider is not reachable; generation will fail until it is",
			"provider", generator.Name(), "model", cfg.LLM.Model)
	}

	return &app{cfg: cfg, graph: graph, pipeline: p, metrics: metrics}, nil
}

// errRunNotOK is returned by commands whose run did not end ok so the
// process exits non-zero
var errRunNotOK = errors.New("run did not complete ok")
