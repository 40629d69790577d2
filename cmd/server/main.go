package main

import (
	"fmt"
	"os"

	"marketplace-backend/internal/app"
	"marketplace-backend/internal/config"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("server", pflag.ContinueOnError)
	flagSet.String("config", "", "path to a YAML, TOML or JSON config file")
	flagSet.String("port", "3001", "HTTP listen port")
	flagSet.String("store", "postgres", "storage backend: postgres or memory")
	flagSet.String("log-level", "info", "debug, info, warn or error")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load(flagSet)
	if err != nil {
		return err
	}
	return app.Run(cfg)
}
