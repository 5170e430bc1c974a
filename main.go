package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ai-novine/portal/internal/cache"
	"github.com/ai-novine/portal/internal/config"
	"github.com/ai-novine/portal/internal/enhance"
	"github.com/ai-novine/portal/internal/news"
	"github.com/ai-novine/portal/internal/scheduler"
	"github.com/ai-novine/portal/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to config file (empty: embedded defaults)")
	addr := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	ctx := context.Background()
	c := cache.Connect(ctx, cache.Options{
		Addr:      cfg.Redis.Addr,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		KeyPrefix: cfg.Redis.KeyPrefix,
	})
	defer c.Close()

	var enhancer enhance.Enhancer
	if key := os.Getenv("AI_NOVINE_API_KEY"); key != "" {
		enhancer, err = enhance.New(key, os.Getenv("AI_NOVINE_MODEL"), os.Getenv("AI_NOVINE_API_BASE"))
		if err != nil {
			log.Fatalf("Enhancer error: %v", err)
		}
	} else {
		enhancer = enhance.None()
		log.Printf("No API key configured, article enhancement disabled")
	}

	fetcher := news.NewRSSFetcher(cfg.Categories, enhancer)
	sched, err := scheduler.New(cfg, c, fetcher)
	if err != nil {
		log.Fatalf("Scheduler error: %v", err)
	}

	srv := server.New(cfg, c, sched)

	// Stop the scheduler cleanly on SIGINT/SIGTERM.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Printf("Shutting down")
		srv.Stop()
		c.Close()
		os.Exit(0)
	}()

	if err := srv.Start(cfg.ListenAddr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
