package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flowatlas/internal/checkpoint"
	"flowatlas/internal/config"
	"flowatlas/internal/engine"
	"flowatlas/internal/ensemble"
	"flowatlas/internal/ledger"
	"flowatlas/internal/metrics"
	"flowatlas/internal/model"
	"flowatlas/internal/repository/sqlite"
	"flowatlas/internal/service"
	"flowatlas/internal/source"
)

func main() {
	// Command line flags; anything set here overrides the config file
	configPath := flag.String("config", "", "config file path (default: search standard locations)")
	inputDir := flag.String("input", "", "input batch directory")
	dbPath := flag.String("db", "", "SQLite topology store path")
	watch := flag.Bool("watch", false, "keep watching the input directory after the initial pass")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Starting flowatlas engine...")

	var cfg *config.Config
	var cfgPath string
	var err error
	if *configPath != "" {
		cfg, cfgPath, err = config.LoadFromPath(*configPath)
	} else {
		cfg, cfgPath, err = config.Load()
	}
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfgPath != "" {
		log.Printf("Config loaded: %s", cfgPath)
	}
	if *inputDir != "" {
		cfg.Input.Dir = *inputDir
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	// Initialize SQLite topology store
	repo, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer repo.Close()
	log.Printf("Database opened: %s", cfg.Database.Path)

	store, err := checkpoint.NewStore(cfg.Checkpoint.Dir, cfg.Checkpoint.Retain)
	if err != nil {
		log.Fatalf("Failed to open checkpoint store: %v", err)
	}

	// Initialize event bus and services
	eventBus := service.NewEventBus()
	led := ledger.New()
	svc := service.NewTopologyService(repo, led, eventBus)

	// Predictor weights: config entries overlay the defaults
	weights := ensemble.DefaultWeights()
	for id, w := range cfg.Ensemble.Weights {
		weights[id] = w
	}

	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		m = metrics.NewMetrics()
		go func() {
			log.Printf("Metrics listening on %s", cfg.Metrics.Addr)
			if err := http.ListenAndServe(cfg.Metrics.Addr, promhttp.Handler()); err != nil {
				log.Printf("Metrics listener error: %v", err)
			}
		}()
	}

	eng := engine.New(engine.Options{
		Source:             source.NewDirSource(cfg.Input.Dir),
		Registry:           model.NewRegistry(),
		Aggregator:         ensemble.New(weights),
		Ledger:             led,
		Repo:               repo,
		Service:            svc,
		EventBus:           eventBus,
		Store:              store,
		Metrics:            m,
		FileTimeout:        cfg.Processing.FileTimeout.Duration(),
		CheckpointInterval: cfg.Checkpoint.Interval,
		MaxConcurrentApps:  cfg.Processing.MaxConcurrentApps,
		InputDir:           cfg.Input.Dir,
		WatchInterval:      cfg.Processing.WatchInterval.Duration(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Recover(ctx); err != nil {
		log.Fatalf("Recovery failed: %v", err)
	}

	// Interrupts cancel the run; the engine finishes the file in flight
	// and writes a final checkpoint before returning
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Println("Shutting down...")
		cancel()
	}()

	if *watch {
		if err := eng.RunWatch(ctx); err != nil {
			log.Printf("Watch loop error: %v", err)
		}
	} else {
		if _, err := eng.RunBatch(ctx); err != nil {
			log.Printf("Batch run error: %v", err)
		}
	}

	log.Println(eng.Summary().String())
}
