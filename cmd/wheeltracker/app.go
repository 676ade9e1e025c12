package main

import (
	"fmt"
	"io"

	"github.com/eddiefleurent/wheel_tracker/internal/config"
	"github.com/eddiefleurent/wheel_tracker/internal/retry"
	"github.com/eddiefleurent/wheel_tracker/internal/storage"
	"github.com/eddiefleurent/wheel_tracker/internal/wheel"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	logLevel   string
	jsonMode   bool
}

// app is the wired set of dependencies a command runs against.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	store  storage.Interface
	engine *wheel.Engine
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "wheeltracker",
		Short:         "Track options wheel trades reconciled from brokerage exports",
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file (defaults apply when empty)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override environment.log_level")
	cmd.PersistentFlags().BoolVar(&opts.jsonMode, "json", false, "Write command output as JSON")

	cmd.AddCommand(
		newImportCmd(opts),
		newServeCmd(opts),
		newBasisCmd(opts),
		newPnLCmd(opts),
		newSummaryCmd(opts),
		newTradesCmd(opts),
	)
	return cmd
}

// newApp loads configuration and wires the store, retry and breaker layers,
// and the engine. Logs go to logOut.
func newApp(opts *rootOptions, logOut io.Writer) (*app, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.logLevel != "" {
		cfg.Environment.LogLevel = opts.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	logger, err := cfg.NewLogger(logOut)
	if err != nil {
		return nil, err
	}

	inner, err := storage.New(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.Storage.Backend, err)
	}
	retrier := retry.NewClient(logger, retry.Config{
		MaxRetries:     cfg.Resilience.MaxRetries,
		InitialBackoff: cfg.GetInitialBackoff(),
		MaxBackoff:     cfg.GetMaxBackoff(),
		Timeout:        retry.DefaultConfig.Timeout,
	})
	breaker := storage.DefaultCircuitBreakerSettings
	breaker.Timeout = cfg.GetBreakerTimeout()
	breaker.MinRequests = cfg.Resilience.BreakerMinRequests
	breaker.FailureRatio = cfg.Resilience.BreakerFailureRatio
	store := storage.NewResilientStorage(inner, retrier, breaker, logger)

	logger.WithFields(logrus.Fields{
		"backend": cfg.Storage.Backend,
		"path":    cfg.Storage.Path,
	}).Debug("Opened trade store")

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		engine: wheel.NewEngine(store, logger),
	}, nil
}

// Close releases the store
func (a *app) Close() error {
	return a.store.Close()
}

// withApp runs fn against a freshly wired app and closes it afterwards.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(a *app) error) (err error) {
	a, err := newApp(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing store: %w", cerr)
		}
	}()
	return fn(a)
}
