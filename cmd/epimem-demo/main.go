package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cliairmonitor/epimem/internal/audit"
	"github.com/cliairmonitor/epimem/internal/config"
	"github.com/cliairmonitor/epimem/internal/embeddings"
	"github.com/cliairmonitor/epimem/internal/engine"
	"github.com/cliairmonitor/epimem/internal/eventbus"
	"github.com/cliairmonitor/epimem/internal/metrics"
	"github.com/cliairmonitor/epimem/internal/storage/durable"
	"github.com/cliairmonitor/epimem/internal/storage/embedded"
	"github.com/cliairmonitor/epimem/internal/types"
)

func main() {
	durableURL := flag.String("durable-url", ":memory:", "Durable backend connection string (libsql://, file:, or :memory:)")
	authToken := flag.String("auth-token", "", "Durable backend auth token (required for libsql:// URLs)")
	cachePath := flag.String("cache-path", "data/cache.bin", "Embedded cache store path")
	natsPort := flag.Int("nats-port", 14222, "Embedded NATS server port")
	embeddingURL := flag.String("embedding-url", "", "Embedding provider base URL (empty disables embedding-aware retrieval)")
	embeddingModel := flag.String("embedding-model", "qwen2.5-coder-7b-instruct", "Embedding model name")
	flag.Parse()

	log.Println("===============================================")
	log.Println("  epimem - episodic memory engine")
	log.Println("===============================================")

	memCfg := config.MemoryConfigFromEnv()
	retrievalCfg := config.DefaultRetrievalConfig()
	poolCfg := config.DefaultPoolConfig()
	auditCfg := config.AuditConfigFromEnv()

	auditLogger, err := audit.New(auditCfg)
	if err != nil {
		log.Fatalf("[MAIN] failed to initialize audit logger: %v", err)
	}
	defer auditLogger.Close()

	if dir := filepath.Dir(*cachePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("[MAIN] failed to create cache directory: %v", err)
		}
	}

	durableBackend, err := durable.Open(*durableURL, *authToken, poolCfg, retrievalCfg, config.DefaultPersistenceConfig().CompressionThresholdBytes)
	if err != nil {
		log.Fatalf("[MAIN] failed to open durable backend: %v", err)
	}
	defer durableBackend.Close()
	log.Printf("[MAIN] durable backend opened at %s", *durableURL)

	embeddedBackend, err := embedded.Open(*cachePath)
	if err != nil {
		log.Fatalf("[MAIN] failed to open embedded cache: %v", err)
	}
	defer embeddedBackend.Close()
	log.Printf("[MAIN] embedded cache opened at %s", *cachePath)

	var embeddingProvider embeddings.Provider
	if *embeddingURL != "" {
		embeddingProvider = embeddings.NewHTTPProvider(*embeddingURL, *embeddingModel, 10, 20)
		log.Printf("[MAIN] embedding provider configured: %s (%s)", *embeddingURL, *embeddingModel)
	} else {
		log.Println("[MAIN] no embedding provider configured, retrieval falls back to text similarity")
	}

	metricsCtx, cancelMetrics := context.WithCancel(context.Background())
	defer cancelMetrics()
	metricsRecorder, err := metrics.New(metricsCtx)
	if err != nil {
		log.Fatalf("[MAIN] failed to initialize metrics recorder: %v", err)
	}
	defer metricsRecorder.Shutdown(context.Background())

	natsServer, err := eventbus.StartEmbedded(*natsPort, 5*time.Second)
	if err != nil {
		log.Fatalf("[MAIN] failed to start embedded NATS server: %v", err)
	}
	defer natsServer.Shutdown()
	log.Printf("[MAIN] embedded NATS server started on port %d", *natsPort)

	bus, err := eventbus.Connect(natsServer.URL(), "epimem-engine")
	if err != nil {
		log.Fatalf("[MAIN] failed to connect event bus: %v", err)
	}
	defer bus.Close()

	eng := engine.New(engine.Options{
		MemoryConfig:      memCfg,
		RetrievalConfig:   retrievalCfg,
		Durable:           durableBackend,
		Embedded:          embeddedBackend,
		EmbeddingProvider: embeddingProvider,
		Metrics:           metricsRecorder,
		Publisher:         bus,
	})
	defer eng.Close()

	log.Println("===============================================")
	log.Println("  epimem ready")
	log.Printf("  max_episodes: %v", formatMaxEpisodes(memCfg))
	log.Printf("  eviction_policy: %s", memCfg.EvictionPolicy)
	log.Printf("  summarization: %v", memCfg.EnableSummarization)
	log.Println("===============================================")

	if len(flag.Args()) > 0 && flag.Args()[0] == "demo" {
		runDemo(eng, auditLogger)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[MAIN] shutdown signal received")
}

func formatMaxEpisodes(cfg *config.MemoryConfig) string {
	if cfg.MaxEpisodes == nil {
		return "unlimited"
	}
	return fmt.Sprintf("%d", *cfg.MaxEpisodes)
}

// runDemo exercises the full episode lifecycle once, for smoke-testing
// a fresh deployment: start -> log steps -> complete -> retrieve.
func runDemo(eng *engine.Engine, auditLogger *audit.Logger) {
	ctx := context.Background()

	episodeID, err := eng.StartEpisode(ctx, "Investigate intermittent CI failures", types.Context{
		Domain: "ci-ops",
		Tags:   []string{"ci", "flaky"},
	}, types.TaskDebugging)
	if err != nil {
		log.Fatalf("[MAIN] demo: start_episode failed: %v", err)
	}
	auditLogger.Log(config.AuditLevelInfo, "epimem-demo", "start_episode", audit.ResultSuccess, map[string]interface{}{"episode_id": episodeID})

	steps := []types.ExecutionStep{
		{Tool: "shell", Action: "run test suite 10x", Result: &types.ExecutionResult{Kind: types.ResultSuccess, Output: "3 failures, all in auth_test.go"}},
		{Tool: "grep", Action: "search for time-dependent assertions", Result: &types.ExecutionResult{Kind: types.ResultSuccess, Output: "found time.Now() comparison without tolerance"}},
		{Tool: "edit", Action: "add 5ms tolerance to timestamp comparison", Result: &types.ExecutionResult{Kind: types.ResultSuccess, Output: "applied"}},
	}
	for _, s := range steps {
		if err := eng.LogStep(ctx, episodeID, s); err != nil {
			log.Fatalf("[MAIN] demo: log_step failed: %v", err)
		}
	}

	err = eng.CompleteEpisode(ctx, episodeID, &types.TaskOutcome{
		Kind:    types.OutcomeSuccess,
		Verdict: "flaky test fixed",
	})
	if err != nil {
		log.Printf("[MAIN] demo: complete_episode returned an error (still recorded in-memory): %v", err)
	}
	auditLogger.Log(config.AuditLevelInfo, "epimem-demo", "complete_episode", audit.ResultSuccess, map[string]interface{}{"episode_id": episodeID})

	results, err := eng.RetrieveRelevantContext(ctx, "flaky CI test failures", "ci-ops", types.TaskDebugging, 5, 0.5)
	if err != nil {
		log.Fatalf("[MAIN] demo: retrieve_relevant_context failed: %v", err)
	}
	log.Printf("[MAIN] demo: retrieved %d relevant episodes", len(results))
}
