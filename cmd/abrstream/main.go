package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"abrstream/internal/api"
	"abrstream/internal/cache"
	"abrstream/internal/config"
	"abrstream/internal/dash"
	"abrstream/internal/loader"
	"abrstream/internal/logger"
	"abrstream/internal/player"
)

func main() {
	// 1. Parse command-line arguments
	listenAddr := flag.String("l", "", "HTTP listen address (overrides config)")
	logLevel := flag.String("L", "", "Log level (error, warn, info, debug)")
	configFile := flag.String("c", "abrstream.json", "Path to the config file")
	outputDir := flag.String("o", "", "Directory to write fetched segments to (discarded when empty)")
	displayWidth := flag.Int("w", 1920, "Rendering width in pixels")
	flag.Parse()

	// 2. Load configuration, then let flags win
	cfg, err := config.Load(*configFile)
	if err != nil {
		os.Stderr.WriteString("Failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.Listen = *listenAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if flag.NArg() > 0 {
		cfg.ManifestURL = flag.Arg(0)
	}

	// 3. Initialize logger
	log := logger.NewLogger(cfg.LogLevel, cfg.LogFormat)
	log.Infof("Starting adaptive streaming client...")

	if cfg.ManifestURL == "" {
		log.Errorf("No manifest URL given; pass it as an argument or set ABRSTREAM_MANIFEST_URL")
		os.Exit(1)
	}

	// 4. Initialize the pipeline
	dl := loader.New(&http.Client{}, log, cfg.Options, cache.New(log), nil)
	client := dash.NewClient(dl, log)
	display := api.NewDisplayState(*displayWidth)

	var sink player.SegmentSink = player.DiscardSink{}
	if *outputDir != "" {
		fileSink, err := player.NewFileSink(*outputDir, log)
		if err != nil {
			log.Errorf("Failed to initialize output sink: %v", err)
			os.Exit(1)
		}
		sink = fileSink
		log.Infof("Writing segments to %s", *outputDir)
	}

	p := player.New(log, cfg.Options, client, dl, display, sink)

	// 5. Open the presentation and start playback
	openCtx, cancelOpen := context.WithTimeout(context.Background(), 30*time.Second)
	err = p.Open(openCtx, cfg.ManifestURL)
	cancelOpen()
	if err != nil {
		log.Errorf("Failed to open %s: %v", cfg.ManifestURL, err)
		os.Exit(1)
	}
	p.Start()

	// 6. Set up and run the HTTP server with graceful shutdown
	router := api.New(p, display, dl.Metrics(), log)
	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: router,
	}

	go func() {
		log.Infof("Control server starting on %s", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("Could not listen on %s: %v", cfg.Listen, err)
			os.Exit(1)
		}
	}()

	// Listen for shutdown signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Infof("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p.Stop()

	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Server shutdown failed: %v", err)
		os.Exit(1)
	}

	log.Infof("Exited gracefully")
}
