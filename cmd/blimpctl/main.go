package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/blimpws/internal/client"
	"github.com/danmuck/blimpws/internal/observability"
	"github.com/danmuck/blimpws/internal/protocol/schema"
	"github.com/danmuck/blimpws/internal/protocol/session"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "", "path to blimpctl config.toml (defaults when empty)")
	url := flag.String("url", "", "ground station url, overrides config")
	interest := flag.String("interest", "motors,servos,sensors", "comma separated groups to declare interest in")
	flag.Parse()

	logger := observability.InitLogger("blimpctl")
	cfg := client.DefaultConfig()
	if *configPath != "" {
		loaded, err := loadClientConfig(*configPath)
		if err != nil {
			exit(err)
		}
		cfg = loaded
	}
	if strings.TrimSpace(*url) != "" {
		cfg.URL = strings.TrimSpace(*url)
	}
	viz, err := parseInterest(*interest)
	if err != nil {
		exit(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.New(cfg)
	if err != nil {
		exit(err)
	}
	if err := run(ctx, c, viz, logger); err != nil {
		exit(err)
	}
}

// run declares interest and prints ground reports until ctx ends or the peer closes.
func run(ctx context.Context, c *client.Client, viz schema.VizInterest, logger zerolog.Logger) error {
	sess, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = c.Disconnect()
	}()

	if err := c.Send(schema.DeclareInterest(viz)); err != nil {
		return err
	}
	for {
		msg, err := session.Receive[schema.GroundMessage](sess)
		if err != nil {
			if errors.Is(err, session.ErrConnectionClosed) {
				logger.Info().Msg("blimpctl.run session closed")
				return nil
			}
			return err
		}
		logger.Info().Str("kind", msg.Kind()).Interface("message", msg).Msg("blimpctl.run received")
	}
}

func parseInterest(raw string) (schema.VizInterest, error) {
	var viz schema.VizInterest
	for _, part := range strings.Split(raw, ",") {
		switch strings.ToLower(strings.TrimSpace(part)) {
		case "":
		case "motors":
			viz.Motors = true
		case "servos":
			viz.Servos = true
		case "sensors":
			viz.Sensors = true
		default:
			return schema.VizInterest{}, fmt.Errorf("unknown interest group %q", part)
		}
	}
	return viz, nil
}

func exit(err error) {
	fmt.Fprintf(os.Stderr, "blimpctl: %v\n", err)
	os.Exit(1)
}
