package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/scribe/am"
	"github.com/teranos/scribe/diagnostics"
	"github.com/teranos/scribe/errors"
	"github.com/teranos/scribe/logger"
	"github.com/teranos/scribe/pulse"
	"github.com/teranos/scribe/server"
)

// ServeCmd starts the dispatcher and the HTTP API
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the dispatcher and HTTP API",
	Long: `Start the job dispatcher, the retention scheduler and the HTTP API.

The first SIGINT/SIGTERM drains the server and lets the current job finish
(bounded by server.shutdown_timeout). A second signal exits immediately.`,
	RunE: runServe,
}

var (
	serveHost    string
	servePort    int
	serveDataDir string
)

func init() {
	ServeCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides server.host)")
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides server.port)")
	ServeCmd.Flags().StringVar(&serveDataDir, "data-dir", "", "Data directory (overrides data_dir)")
}

func runServe(cmd *cobra.Command, args []string) error {
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		verbosity = 1
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveDataDir != "" {
		cfg.DataDir = serveDataDir
	}

	log := logger.Logger
	opts, err := dispatcherOptions(cfg, log)
	if err != nil {
		return err
	}
	dispatcher, err := pulse.New(opts)
	if err != nil {
		return errors.Wrap(err, "failed to create dispatcher")
	}
	if err := dispatcher.Start(); err != nil {
		return errors.Wrap(err, "failed to start dispatcher")
	}

	srv := server.New(server.Options{
		Dispatcher:          dispatcher,
		Checker:             diagnostics.NewChecker(),
		DiagnosticsSettings: diagnosticsSettings(cfg),
		MaxUploadBytes:      cfg.Server.MaxUploadBytes,
		SubmitRatePerMinute: cfg.Server.SubmitRatePerMinute,
		Logger:              log,
	})

	watcher := watchSecrets(dispatcher)
	if watcher != nil {
		defer watcher.Stop()
	}

	printStartupBanner(verbosity, cfg)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe(cfg.Server.Address())
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		shutdown(srv, dispatcher, cfg)
		if err != nil {
			return errors.Wrap(err, "server failed")
		}
		return nil
	case <-sigChan:
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			shutdownDone <- shutdown(srv, dispatcher, cfg)
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return errors.Wrap(err, "shutdown error")
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}

// shutdown stops the HTTP server first so no job arrives after the
// dispatcher stops accepting.
func shutdown(srv *server.Server, dispatcher *pulse.Dispatcher, cfg *am.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	srvErr := srv.Stop(ctx)
	dispErr := dispatcher.Shutdown(ctx)
	return errors.CombineErrors(srvErr, dispErr)
}

// watchSecrets hot-reloads the secret list from the active config file.
// Returns nil when no file is in use.
func watchSecrets(dispatcher *pulse.Dispatcher) *am.ConfigWatcher {
	path := am.ActiveConfigFile()
	if path == "" {
		return nil
	}
	log := logger.ComponentLogger("config")
	watcher, err := am.NewConfigWatcher(path, log)
	if err != nil {
		log.Warnw("Config hot-reload disabled", "path", path, "error", err)
		return nil
	}
	watcher.OnReload(func(cfg *am.Config) error {
		dispatcher.SetSecrets(cfg.SecretValues()...)
		return nil
	})
	watcher.Start()
	am.SetGlobalWatcher(watcher)
	return watcher
}
