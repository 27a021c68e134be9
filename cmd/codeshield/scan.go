package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sloppy/codeshield/internal/analysis"
	"github.com/sloppy/codeshield/internal/db"
	"github.com/sloppy/codeshield/internal/export"
	"github.com/sloppy/codeshield/internal/llm"
	"github.com/sloppy/codeshield/internal/model"
	"github.com/sloppy/codeshield/internal/rules"
	"github.com/sloppy/codeshield/internal/scan"
)

// exitFindings is returned when findings meet the --fail-on severity.
const exitFindings = 2

type scanFlags struct {
	ai        bool
	model     string
	languages []string
	exclude   []string
	threshold string
	failOn    string
	format    string
	ollamaURL string
}

func newScanCmd(flags *globalFlags) *cobra.Command {
	sf := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan <dir>",
		Short: "Scan a directory and print the findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			defer log.Sync()

			scanCfg := cfg.Scan
			if cmd.Flags().Changed("ai") {
				scanCfg.EnableAI = sf.ai
			}
			if sf.model != "" {
				scanCfg.Model = sf.model
			}
			if len(sf.languages) > 0 {
				scanCfg.Languages = sf.languages
			}
			if len(sf.exclude) > 0 {
				scanCfg.ExcludePaths = append(append([]string{}, scanCfg.ExcludePaths...), sf.exclude...)
			}
			if sf.threshold != "" {
				sev, ok := model.ParseSeverity(sf.threshold)
				if !ok {
					return fmt.Errorf("invalid --threshold %q", sf.threshold)
				}
				scanCfg.SeverityThreshold = sev
			}
			var failOn model.Severity
			if sf.failOn != "" && sf.failOn != "none" {
				sev, ok := model.ParseSeverity(sf.failOn)
				if !ok {
					return fmt.Errorf("invalid --fail-on %q", sf.failOn)
				}
				failOn = sev
			}
			switch sf.format {
			case "text", "json", "csv":
			default:
				return fmt.Errorf("invalid --format %q (want text, json or csv)", sf.format)
			}
			if sf.ollamaURL != "" {
				cfg.OllamaURL = sf.ollamaURL
			}

			catalog, err := rules.Load(cfg.RulesFile)
			if err != nil {
				return err
			}
			// A one-shot scan never outlives the process.
			database, err := db.Open(db.MemoryPath)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer database.Close()

			opts := scan.Options{
				DB:        database,
				Engine:    analysis.NewEngine(catalog),
				AITimeout: cfg.AITimeout,
				Loader:    scan.DiskLoader{MaxBytes: cfg.MaxFileBytes},
				Log:       log,
			}
			if scanCfg.EnableAI {
				opts.Generator = llm.New(cfg.OllamaURL, llm.WithProbeTimeout(cfg.AIProbeTimeout))
			}
			svc, err := scan.NewService(opts)
			if err != nil {
				return err
			}

			project, err := svc.RegisterProject("", args[0])
			if err != nil {
				return err
			}
			started, err := svc.Start(project.ID, scanCfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := svc.Wait(ctx, started.ID); err != nil {
				log.Warnw("interrupted, cancelling scan", "scan", started.ID)
				_ = svc.Cancel(started.ID)
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := svc.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("stop scan: %w", err)
			}

			sc, err := svc.Scan(started.ID)
			if err != nil {
				return err
			}
			findings, err := svc.Findings(sc.ID, model.FindingFilters{})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch sf.format {
			case "json":
				err = export.ScanJSON(out, export.NewScanExport(project, sc, findings, time.Now()))
			case "csv":
				err = export.FindingsCSV(out, sc, findings)
			default:
				newPrinter(out).scanSummary(project, sc, findings, time.Now())
			}
			if err != nil {
				return err
			}

			switch sc.Status {
			case model.ScanCompleted:
			case model.ScanCancelled:
				return exitError{code: 130, msg: "scan cancelled"}
			default:
				return exitError{code: 1, msg: "scan failed: " + sc.Error}
			}
			if failOn != "" && anyAtLeast(findings, failOn) {
				return exitError{code: exitFindings}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&sf.ai, "ai", false, "verify findings with the local Ollama model")
	cmd.Flags().StringVar(&sf.model, "model", "", "Ollama model for AI verification")
	cmd.Flags().StringSliceVar(&sf.languages, "lang", nil, "only scan these languages (repeatable)")
	cmd.Flags().StringSliceVar(&sf.exclude, "exclude", nil, "exclude paths or globs (repeatable)")
	cmd.Flags().StringVar(&sf.threshold, "threshold", "", "drop findings below this severity")
	cmd.Flags().StringVar(&sf.failOn, "fail-on", "high", "exit 2 when a finding meets this severity (none disables)")
	cmd.Flags().StringVar(&sf.format, "format", "text", "output format: text, json or csv")
	cmd.Flags().StringVar(&sf.ollamaURL, "ollama-url", "", "Ollama base URL")
	return cmd
}

func anyAtLeast(findings []model.Finding, sev model.Severity) bool {
	for _, f := range findings {
		if f.Status == model.FindingFalsePositive {
			continue
		}
		if f.Severity.AtLeast(sev) {
			return true
		}
	}
	return false
}
