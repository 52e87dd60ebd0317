package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/blimpws/internal/observability"
	"github.com/danmuck/blimpws/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to groundctl config.toml (defaults when empty)")
	flag.Parse()

	logger := observability.InitLogger("groundctl")
	cfg := server.DefaultConfig()
	if *configPath != "" {
		loaded, err := loadServerConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "groundctl: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg)
	if err := srv.Bind(); err != nil {
		fmt.Fprintf(os.Stderr, "groundctl: %v\n", err)
		os.Exit(1)
	}
	if err := srv.Run(ctx, newStation(logger).Handle); err != nil {
		fmt.Fprintf(os.Stderr, "groundctl: %v\n", err)
		os.Exit(1)
	}
	logger.Info().Msg("groundctl stopped serving")
}
