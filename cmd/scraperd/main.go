// Package main hosts the scraping engine entrypoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/wina-futureobjects/track-futura/internal/app"
	"github.com/wina-futureobjects/track-futura/internal/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "scraperd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file (optional, env vars apply either way)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	a, err := app.Build(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	return a.Run(ctx)
}
