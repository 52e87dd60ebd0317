package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/blimpws/internal/config"
	"github.com/danmuck/blimpws/internal/observability"
)

func main() {
	kind := flag.String("kind", "ground", "config kind: ground|blimp")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	logger := observability.InitLogger("configgen")
	if err := run(*kind, *output, *input, *validate, *force); err != nil {
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
	logger.Info().Str("kind", *kind).Bool("validate", *validate).Msg("configgen done")
}

func run(kind, output, input string, validate, force bool) error {
	if validate {
		path := input
		if path == "" {
			var err error
			if path, err = defaultPath(kind); err != nil {
				return err
			}
		}
		return validateFile(kind, path)
	}

	target := output
	if target == "" {
		var err error
		if target, err = defaultPath(kind); err != nil {
			return err
		}
	}
	return config.WriteTemplate(target, kind, force)
}

func defaultPath(kind string) (string, error) {
	switch kind {
	case "ground":
		return "cmd/groundctl/config.toml", nil
	case "blimp":
		return "cmd/blimpctl/config.toml", nil
	default:
		return "", fmt.Errorf("unknown kind: %s", kind)
	}
}

// validateFile loads and converts the file so transport rules are checked too.
func validateFile(kind, path string) error {
	switch kind {
	case "ground":
		cfg, err := config.LoadGroundConfig(path)
		if err != nil {
			return err
		}
		srvCfg, err := cfg.ServerConfig()
		if err != nil {
			return err
		}
		return srvCfg.Validate()
	case "blimp":
		cfg, err := config.LoadBlimpConfig(path)
		if err != nil {
			return err
		}
		cliCfg, err := cfg.ClientConfig()
		if err != nil {
			return err
		}
		return cliCfg.Session.ValidateClientTransport()
	default:
		return fmt.Errorf("unknown kind: %s", kind)
	}
}
