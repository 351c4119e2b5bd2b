// Command ingress-gateway runs the webhook ingress gateway over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-ingress/adapters/gologger"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "ingress-gateway:", err)
		os.Exit(1)
	}
}

type options struct {
	envFile         string
	configFile      string
	logLevel        string
	shutdownTimeout time.Duration
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	opts := options{}
	flags := flag.NewFlagSet("ingress-gateway", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading INGRESS_* variables")
	flags.StringVar(&opts.configFile, "config", "", "YAML config file (defaults to $INGRESS_CONFIG_FILE)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "trace, debug, info, warn or error")
	flags.DurationVar(&opts.shutdownTimeout, "shutdown-timeout", 15*time.Second, "graceful shutdown budget")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, stdout)
	if err != nil {
		return err
	}
	if err := loadDotEnv(opts.envFile); err != nil {
		return err
	}
	cfg, err := loadConfig(ctx, opts.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Version == "" || cfg.Version == "dev" {
		cfg.Version = version
	}
	if err := cfg.ValidateForServing(); err != nil {
		return err
	}

	loggers := gologger.NewProvider(gologger.NewJSONLogger(stdout, opts.logLevel))
	app, err := newApplication(ctx, cfg, loggers)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.serve(ctx, opts.shutdownTimeout)
}
