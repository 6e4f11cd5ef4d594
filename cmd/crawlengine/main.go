// Package main is the entry point for the crawl engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spider-crawler/crawlengine/internal/config"
	"github.com/spider-crawler/crawlengine/internal/supervisor"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a JSON config file (defaults layered underneath)")
		dbPath     = flag.String("db", "crawlengine.db", "path to the SQLite blob/record store")
		jobID      = flag.String("job", "", "job id to tag seed URLs with (generated if empty)")
		priority   = flag.Int("priority", 5, "seed URL priority (1-10)")
	)
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Println("Usage: crawlengine [flags] <seed-url> [seed-url ...]")
		flag.PrintDefaults()
		os.Exit(1)
	}
	seeds := flag.Args()

	cfg := config.DefaultEngineConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = loaded
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup, err := supervisor.New(ctx, cfg, *dbPath, nil)
	if err != nil {
		log.Fatalf("failed to construct supervisor: %v", err)
	}

	if err := sup.AddSeedURLs(ctx, seeds, *jobID, *priority, false, false); err != nil {
		log.Fatalf("failed to add seed urls: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nreceived interrupt signal, stopping...")
		cancel()
	}()

	fmt.Printf("starting crawl engine:\n")
	fmt.Printf("  - broker backend: %s\n", cfg.BrokerBackend)
	fmt.Printf("  - crawl workers:  %d\n", cfg.NumCrawlWorkers)
	fmt.Printf("  - parse workers:  %d\n", cfg.NumParseWorkers)
	fmt.Printf("  - js rendering:   %v\n", cfg.EnableJSRendering)
	fmt.Printf("  - seed urls:      %s\n", strings.Join(seeds, ", "))
	fmt.Println()

	sup.Start(ctx)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			stats := sup.Stats(ctx)
			fmt.Printf("[stats] crawled=%d failed=%d parsed=%d links=%d frontier=%d/%d retry=%d dead=%d elapsed=%v\n",
				stats.Crawl.URLsCrawled, stats.Crawl.URLsFailed,
				stats.Parse.TasksProcessed, stats.Parse.LinksEnqueued,
				stats.Queue.FrontierNormal, stats.Queue.FrontierPriority,
				stats.Queue.RetryPending, stats.Queue.DeadLetterTotal,
				stats.Elapsed.Round(time.Second))
		}
	}

	sup.Stop()
	fmt.Println("crawl engine stopped")
}
