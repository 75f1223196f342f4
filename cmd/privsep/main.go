// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// privsep runs a privilege-separated process tree from a single
// binary. The role is chosen by the first positional argument:
//
// controller (default): spawns the parser and engine roles from the
// same executable, hands each its control connection on descriptor 3,
// introduces the two children to each other with a socket pair, hands
// the parser a file to digest, feeds it data lines, and after the
// configured delay asks both to stop. If a child exits before it is
// asked to, the controller kills the other and exits non-zero.
//
// parser: adopts descriptor 3, digests the file it is handed, and
// forwards data lines to the engine.
//
// engine: adopts descriptor 3, reports each forwarded data line back to
// the controller, and heartbeats to both its peers.
//
// Children are not meant to be started by hand: they expect their
// control connection on descriptor 3 and nothing else on the command
// line identifies it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/privsep/lib/clock"
	"github.com/bureau-foundation/privsep/lib/config"
	"github.com/bureau-foundation/privsep/lib/process"
	"github.com/bureau-foundation/privsep/lib/version"
)

const (
	roleController = "controller"
	roleParser     = "parser"
	roleEngine     = "engine"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

// options are the parsed command line.
type options struct {
	role       string
	configPath string
	logFormat  string
	logLevel   string
	runID      string
	version    bool
}

func parseOptions(args []string) (*options, error) {
	var opts options

	flagSet := pflag.NewFlagSet("privsep", pflag.ContinueOnError)
	flagSet.StringVar(&opts.configPath, "config", "", "path to the YAML config file (default: $"+config.EnvironmentVariable+", else built-in defaults)")
	flagSet.StringVar(&opts.logFormat, "log-format", "", "log format: auto, json, or text (overrides logging.format)")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, or error (overrides logging.level)")
	flagSet.StringVar(&opts.runID, "run-id", "", "identifier shared by every process of one tree (generated by the controller if empty)")
	flagSet.BoolVar(&opts.version, "version", false, "print version information and exit")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage:\n  privsep [controller|parser|engine] [flags]\n\nFlags:\n%s", flagSet.FlagUsages())
	}

	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}

	positional := flagSet.Args()
	switch len(positional) {
	case 0:
		opts.role = roleController
	case 1:
		opts.role = positional[0]
	default:
		return nil, fmt.Errorf("unexpected argument: %s", positional[1])
	}
	switch opts.role {
	case roleController, roleParser, roleEngine:
	default:
		return nil, fmt.Errorf("unknown role %q (want controller, parser, or engine)", opts.role)
	}
	return &opts, nil
}

// loadConfig reads the named file, or falls back to PRIVSEP_CONFIG and
// the defaults, then applies command-line logging overrides.
func loadConfig(opts *options) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(args []string) error {
	opts, err := parseOptions(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.version {
		version.Print("privsep")
		return nil
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	if opts.runID == "" {
		opts.runID = uuid.NewString()
	}

	logger, err := newLogger(os.Stderr, cfg.Logging)
	if err != nil {
		return err
	}
	logger = logger.With(
		"role", opts.role,
		"pid", os.Getpid(),
		"run_id", opts.runID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch opts.role {
	case roleParser:
		return runParser(ctx, logger)
	case roleEngine:
		return runEngine(ctx, logger, cfg, clock.Real())
	}

	executable, err := cfg.ExecutablePath()
	if err != nil {
		return err
	}
	return (&controller{
		config:     cfg,
		logger:     logger,
		clock:      clock.Real(),
		executable: executable,
		childArgs:  childArguments(opts, cfg),
	}).run(ctx)
}

// childArguments are the flags every child is started with, after its
// role. Children see the same config file and logging settings as the
// controller and share its run ID.
func childArguments(opts *options, cfg *config.Config) []string {
	args := []string{
		"--run-id", opts.runID,
		"--log-format", cfg.Logging.Format,
		"--log-level", cfg.Logging.Level,
	}
	if opts.configPath != "" {
		args = append(args, "--config", opts.configPath)
	}
	return args
}
