package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/llm2slm/llm2slm/pkg/config"
	"github.com/llm2slm/llm2slm/pkg/server"
	"github.com/llm2slm/llm2slm/pkg/telemetry"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the privacy API over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().StringP("addr", "a", "", "Listen address (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cmd, false)
	if err != nil {
		return err
	}
	defer a.close()

	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		a.cfg.Server.Address = addr
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	shutdownTelemetry, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: "llm2slm",
		Endpoint:    a.cfg.Telemetry.OTLPEndpoint,
		Insecure:    a.cfg.Telemetry.Insecure,
	})
	if err != nil {
		return err
	}

	srv := server.New(server.Options{
		Address:         a.cfg.Server.Address,
		Logger:          a.logger,
		Version:         version,
		Validator:       a.validator,
		Anonymizer:      a.anonymizer,
		AnonymizeConfig: a.anonCfg,
		Detector:        a.detector,
		DetectorBackend: a.detectorBackend,
		Filter:          a.filter,
		AuditLog:        a.auditLog,
		Compliance:      a.compliance,
		Runner:          a.runner,
		Availability:    a.availability,
	})

	// Watch the config file so operators get early feedback on edits. The
	// running components keep their startup configuration; a restart applies
	// the new one.
	if configPath, _ := cmd.Flags().GetString("config"); configPath != "" {
		loader, err := config.NewLoader(configPath, a.logger)
		if err != nil {
			return err
		}
		defer loader.Close()
		if err := loader.Watch(func(cfg *config.Config) {
			a.logger.Info("configuration change detected, restart to apply")
		}); err != nil {
			return err
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	a.logger.Info("llm2slm serving",
		"addr", a.cfg.Server.Address,
		"privacy_level", string(a.validator.Level()),
		"detector_backend", a.detectorBackend,
	)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigChan:
		a.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("error during shutdown", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		a.logger.Error("error flushing telemetry", "error", err)
	}

	a.logger.Info("server stopped")
	return nil
}
