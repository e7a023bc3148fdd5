package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/llm2slm/llm2slm/pkg/pipeline"
	"github.com/llm2slm/llm2slm/pkg/privacy/compliance"
	"github.com/llm2slm/llm2slm/pkg/privacy/pii"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newAnonymizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anonymize [text]",
		Short: "Detect and anonymize PII in text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.close()

			anonymizer := a.anonymizer
			method, _ := cmd.Flags().GetString("method")
			if method != "" {
				parsed, err := pii.ParseMethod(method)
				if err != nil {
					return err
				}
				cfg := a.anonCfg
				cfg.Method = parsed
				if anonymizer, err = pii.NewAnonymizer(cfg, a.detector); err != nil {
					return err
				}
			}

			text := strings.Join(args, " ")
			spans, err := anonymizer.Detect(cmd.Context(), text)
			if err != nil {
				return err
			}
			anonymized, err := anonymizer.Anonymize(cmd.Context(), text)
			if err != nil {
				return err
			}

			return printJSON(map[string]any{
				"text":     anonymized,
				"entities": spans,
			})
		},
	}
	cmd.Flags().StringP("method", "m", "", "Anonymization method (mask, redact, replace, hash, encrypt)")
	return cmd
}

func newFilterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "filter [text]",
		Short: "Classify text and apply the content policy",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.filter.Apply(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [text]",
		Short: "Validate text against the configured privacy level",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.close()

			result, err := a.validator.Validate(cmd.Context(), strings.Join(args, " "), a.detector, a.filter)
			if err != nil {
				return err
			}

			out := map[string]any{"validation": result}
			if a.compliance != nil {
				source, _ := cmd.Flags().GetString("source")
				decision, err := a.compliance.Evaluate(cmd.Context(), compliance.Input{Result: result, Source: source})
				if err != nil {
					return err
				}
				out["compliance"] = decision
			}
			if err := printJSON(out); err != nil {
				return err
			}
			if !result.Passed {
				return fmt.Errorf("validation failed at level %s", result.Level)
			}
			return nil
		},
	}
	cmd.Flags().String("source", "", "Source label passed to compliance policies")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the effective privacy configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.close()

			return printJSON(map[string]any{
				"level":                 string(a.validator.Level()),
				"anonymization_enabled": a.anonCfg.Enabled,
				"anonymization_method":  string(a.anonCfg.Method),
				"filter_enabled":        a.filter.Enabled(),
				"filter_action":         string(a.filter.Action()),
				"detector_backend":      a.detectorBackend,
				"ml_available":          a.availability.OK,
				"ml_reason":             a.availability.Reason,
				"compliance_enabled":    a.compliance != nil,
				"audit_entries":         a.auditLog.GetSummary().TotalEntries,
			})
		},
	}
}

func newConvertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert [texts...]",
		Short: "Run the conversion pipeline over calibration texts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.close()

			modelID, _ := cmd.Flags().GetString("model")
			outputDir, _ := cmd.Flags().GetString("output")

			result, err := a.runner.Run(cmd.Context(), pipeline.Request{
				ModelID:   modelID,
				Texts:     args,
				OutputDir: outputDir,
			})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringP("model", "M", "", "Model identifier to convert")
	cmd.Flags().StringP("output", "o", "", "Output directory for the exported model")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}
