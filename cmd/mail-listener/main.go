package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"poextract/internal/config"
	"poextract/internal/extractor"
	"poextract/internal/listener"
	"poextract/internal/pipeline"
	"poextract/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)
	must(cfg.Require("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey))

	db, err := storage.Open(cfg.DBPath)
	must(err)
	defer db.Close()

	processor := pipeline.NewProcessingService(db, cfg, extractor.NewClient(cfg))
	svc := listener.NewService(db, cfg, processor)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("mail listener started provider=%s label=%s interval=%ds\n", cfg.MailListenerProvider, cfg.MailListenerLabel, cfg.MailListenerIntervalSec)
	must(svc.Run(ctx))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
