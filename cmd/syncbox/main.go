package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/salesfunnel/syncbox/internal/config"
	"github.com/salesfunnel/syncbox/internal/crmapi"
	"github.com/salesfunnel/syncbox/internal/httpapi"
	"github.com/salesfunnel/syncbox/internal/syncbox"
)

func main() {
	configPath := flag.String("config", strings.TrimSpace(os.Getenv("SYNCBOX_CONFIG")), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	backend, err := syncbox.BuildQueueBackendFromDSN(cfg.EffectiveQueueDSN())
	if err != nil {
		log.Fatalf("failed to initialize queue backend: %v", err)
	}

	client := crmapi.NewClient(cfg.CRM.BaseURL, cfg.CRM.APIKey, &http.Client{Timeout: cfg.CRM.Timeout})
	engine, err := syncbox.NewEngine(syncbox.EngineOptions{
		Backend:    backend,
		Submitter:  client,
		MaxRetries: cfg.MaxRetries,
		Logger:     log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize engine: %v", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Printf("close engine: %v", err)
		}
	}()

	trigger, err := syncbox.NewConnectivityTrigger(syncbox.TriggerOptions{
		Engine: engine,
		Probe: func(ctx context.Context) bool {
			return client.Ping(ctx) == nil
		},
		Interval: cfg.ProbeInterval,
		Logger:   log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize connectivity trigger: %v", err)
	}
	trigger.AddListener(func(result syncbox.PassResult) {
		log.Printf("pass complete: %d succeeded, %d failed, %d pending",
			len(result.Succeeded), len(result.Failed), len(result.Pending))
	})

	validator, err := syncbox.NewEnvelopeValidator()
	if err != nil {
		log.Fatalf("failed to compile envelope schema: %v", err)
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := trigger.Run(rootCtx); err != nil && rootCtx.Err() == nil {
			log.Printf("connectivity trigger stopped: %v", err)
		}
	}()

	if strings.TrimSpace(cfg.DropFolder) != "" {
		folder, err := syncbox.NewDropFolder(syncbox.DropFolderOptions{
			Dir:       cfg.DropFolder,
			Engine:    engine,
			Validator: validator,
			Logger:    log.Default(),
		})
		if err != nil {
			log.Fatalf("failed to initialize drop folder: %v", err)
		}
		go func() {
			if err := folder.Run(rootCtx); err != nil && rootCtx.Err() == nil {
				log.Printf("drop folder stopped: %v", err)
			}
		}()
	}

	server := httpapi.NewServerWithConfig(engine, trigger, validator, httpapi.ServerConfig{
		AuthToken: cfg.AuthToken,
	})
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: server}
	go func() {
		<-rootCtx.Done()
		_ = httpServer.Shutdown(context.Background())
	}()

	log.Printf("syncbox listening on %s (crm %s)", cfg.ListenAddr, cfg.CRM.BaseURL)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server failed: %v", err)
	}
}
