package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"suggestify/internal/archive"
	"suggestify/internal/capability"
	"suggestify/internal/config"
	"suggestify/internal/gateway/handler"
	"suggestify/internal/gateway/server"
	"suggestify/internal/generate"
	"suggestify/internal/homeassistant"
	"suggestify/internal/llm"
	"suggestify/internal/llmlog"
	"suggestify/internal/refine"
	"suggestify/internal/selfcorrect"
	"suggestify/internal/service"
	"suggestify/internal/suggestion"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.LLM.Provider != "gemini" {
		log.Fatalf("unsupported LLM provider %q", cfg.LLM.Provider)
	}
	if cfg.LLM.APIKey == "" {
		log.Fatal("GEMINI_API_KEY is required")
	}
	base, err := llm.NewGeminiClient(ctx, cfg.LLM.Model)
	if err != nil {
		log.Fatalf("llm: %v", err)
	}
	recorder := llmlog.NewRecorder(64)
	client := llm.WithHook(llm.Wrap(base,
		llm.Retry(3, 500*time.Millisecond),
		llm.RateLimitFromEnv("LLM", "GEMINI"),
	), recorder)
	defer client.Close()

	haClient := homeassistant.NewClient(cfg.HA.BaseURL, cfg.HA.Token, cfg.HA.Timeout)

	// Live entity snapshot over the websocket API, with the REST states
	// registry as the cold-start fallback until the feed has seeded.
	feed := homeassistant.NewEntityFeed(cfg.HA.BaseURL, cfg.HA.Token)
	go feed.Run(ctx)

	var registry capability.Registry = feed
	cached, err := capability.NewCached(homeassistant.NewStatesRegistry(haClient), 512)
	if err == nil {
		feed.OnChange(cached.Invalidate)
		registry = fallbackRegistry{primary: feed, fallback: cached}
	}

	store := suggestion.Open(cfg.Store.FilePath, cfg.Store.DSN)
	defer store.Close()

	var revisions *archive.Archive
	if cfg.Archive.Enabled {
		revisions, err = archive.New(archive.Config{
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			log.Printf("revision archive disabled: %v", err)
			revisions = nil
		}
	}

	generator := generate.NewLLMGenerator(client)
	var corrector *selfcorrect.Controller
	if cfg.Correct.Enabled {
		corrector = selfcorrect.New(generator,
			selfcorrect.NewLLMReconstructor(client),
			selfcorrect.NewLLMScorer(client),
			cfg.Correct.MaxIterations,
			cfg.Correct.Threshold,
		)
	}

	svc := service.New(store,
		refine.NewProcessor(client),
		generator,
		corrector,
		haClient,
		registry,
		revisions,
	)

	srv := server.New(cfg.Port, server.NewMux(
		handler.NewSuggestionHandler(svc),
		handler.NewDebugHandler(recorder),
	))
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server: %v", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}

// fallbackRegistry serves lookups from the websocket snapshot and falls
// back to the cached REST registry before the feed has seeded.
type fallbackRegistry struct {
	primary  *homeassistant.EntityFeed
	fallback capability.Registry
}

func (r fallbackRegistry) Lookup(ctx context.Context, entityID string) (capability.Capabilities, bool, error) {
	if c, ok, err := r.primary.Lookup(ctx, entityID); err == nil && ok {
		return c, true, nil
	}
	return r.fallback.Lookup(ctx, entityID)
}

func (r fallbackRegistry) List(ctx context.Context) ([]capability.Capabilities, error) {
	if list, err := r.primary.List(ctx); err == nil && len(list) > 0 {
		return list, nil
	}
	return r.fallback.List(ctx)
}
