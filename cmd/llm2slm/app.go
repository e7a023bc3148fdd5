package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/llm2slm/llm2slm/pkg/config"
	"github.com/llm2slm/llm2slm/pkg/logging"
	"github.com/llm2slm/llm2slm/pkg/pipeline"
	"github.com/llm2slm/llm2slm/pkg/privacy"
	"github.com/llm2slm/llm2slm/pkg/privacy/audit"
	"github.com/llm2slm/llm2slm/pkg/privacy/compliance"
	"github.com/llm2slm/llm2slm/pkg/privacy/filter"
	"github.com/llm2slm/llm2slm/pkg/privacy/onnx"
	"github.com/llm2slm/llm2slm/pkg/privacy/pii"
)

// app holds the assembled privacy components shared by the subcommands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	availability    onnx.Availability
	detector        pii.Detector
	detectorBackend string
	anonCfg         pii.AnonymizationConfig
	anonymizer      *pii.Anonymizer
	filter          *filter.Filter
	auditLog        *audit.Log
	auditSink       *audit.FileSink
	validator       *privacy.Validator
	compliance      *compliance.Engine
	runner          *pipeline.Runner
}

// buildApp loads configuration and assembles the components. Backend
// selection happens here and nowhere else: the ML variants are constructed
// only when the probe succeeds, otherwise the pattern variants are chosen
// explicitly and the reason is logged.
func buildApp(cmd *cobra.Command, pretty bool) (*app, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" && logLevel != defaultLogLevel {
		cfg.Logging.Level = logLevel
	}

	logger := logging.NewLogger(logging.Config{Level: cfg.Logging.Level, Pretty: pretty})
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}

	a.anonCfg, err = cfg.Privacy.ParseAnonymization()
	if err != nil {
		return nil, err
	}
	filterCfg, err := cfg.Privacy.ParseFilter()
	if err != nil {
		return nil, err
	}
	level, err := cfg.Privacy.ParseLevel()
	if err != nil {
		return nil, err
	}

	// Detector and classifier backend selection.
	var classifier filter.Classifier
	if cfg.Privacy.ML.BundleDir != "" {
		a.availability = onnx.Probe(cfg.Privacy.ML.BundleDir)
	}
	if a.availability.OK {
		if err := onnx.Initialize(a.availability); err != nil {
			return nil, err
		}
		mlDetector, err := pii.NewMLDetector(a.anonCfg, a.availability, pii.MLDetectorOptions{
			SequenceLength: cfg.Privacy.ML.SequenceLength,
		})
		if err != nil {
			return nil, err
		}
		mlClassifier, err := filter.NewMLClassifier(a.availability, filter.MLClassifierOptions{
			ModelName:      filterCfg.ModelName,
			SequenceLength: cfg.Privacy.ML.SequenceLength,
		})
		if err != nil {
			return nil, err
		}
		a.detector = mlDetector
		a.detectorBackend = "ml"
		classifier = mlClassifier
		logger.Info("ml backends active", "bundle_dir", a.availability.BundleDir)
	} else {
		patternDetector, err := pii.NewPatternDetector(a.anonCfg)
		if err != nil {
			return nil, err
		}
		a.detector = patternDetector
		a.detectorBackend = "pattern"
		classifier = filter.NewPatternClassifier()
		if cfg.Privacy.ML.BundleDir != "" {
			logger.Warn("ml runtime unavailable, using pattern backends", "reason", a.availability.Reason)
		}
	}

	a.anonymizer, err = pii.NewAnonymizer(a.anonCfg, a.detector)
	if err != nil {
		return nil, err
	}
	a.filter, err = filter.New(filterCfg, classifier)
	if err != nil {
		return nil, err
	}

	auditOpts := []audit.Option{audit.WithLogger(logger)}
	if cfg.Privacy.Audit.LogPath != "" {
		sink, err := audit.NewFileSink(cfg.Privacy.Audit.LogPath)
		if err != nil {
			return nil, fmt.Errorf("open audit sink: %w", err)
		}
		a.auditSink = sink
		auditOpts = append(auditOpts, audit.WithSink(sink))
	}
	a.auditLog = audit.New(auditOpts...)

	a.validator, err = privacy.NewValidator(level, a.auditLog, privacy.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	if len(cfg.Privacy.Compliance.PolicyPaths) > 0 {
		modules, err := compliance.LoadModules(cfg.Privacy.Compliance.PolicyPaths)
		if err != nil {
			return nil, err
		}
		a.compliance, err = compliance.NewEngine(cmd.Context(), compliance.EngineOptions{
			Entrypoint: cfg.Privacy.Compliance.Entrypoint,
			Modules:    modules,
		})
		if err != nil {
			return nil, err
		}
	}

	a.runner, err = pipeline.NewRunner(pipeline.Options{
		Validator:     a.validator,
		Anonymizer:    a.anonymizer,
		Detector:      a.detector,
		Filter:        a.filter,
		Logger:        logger,
		StrictPrivacy: level == privacy.LevelStrict,
	})
	if err != nil {
		return nil, err
	}

	return a, nil
}

// close releases resources that outlive a single command.
func (a *app) close() {
	if a.auditSink != nil {
		if err := a.auditSink.Close(); err != nil {
			a.logger.Error("failed to close audit sink", "error", err)
		}
	}
}
