package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"coursemarket/internal/chaos"
	"coursemarket/internal/config"
	"coursemarket/internal/server"
)

func main() {
	configFile := flag.String("config", "", "path to an env-style config file")
	concurrency := flag.Int("concurrency", 50, "simultaneous requests per injection")
	observe := flag.Duration("observe", 5*time.Second, "observation window per experiment")
	pause := flag.Duration("pause", 5*time.Second, "pause between experiments")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	ctx := context.Background()
	backends, release, err := server.OpenBackends(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer release()

	app, err := server.New(server.OptionsFromConfig(cfg), backends)
	if err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}

	engine := chaos.NewEngine(os.Stdout)
	engine.Pause = *pause
	ledger := &chaos.Ledger{
		Catalog:     app.Catalog,
		Enrollments: app.Enrollments,
		Members:     app.Members,
		Concurrency: *concurrency,
		Observe:     *observe,
	}
	if err := ledger.Register(ctx, engine); err != nil {
		log.Fatalf("Failed to provision experiments: %v", err)
	}

	held, err := engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:      "Ledger Chaos Game Day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
	})
	if err != nil {
		log.Fatalf("Chaos Game Day failed: %v", err)
	}
	if !held {
		release()
		os.Exit(1)
	}
}
