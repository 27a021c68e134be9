package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/sloppy/codeshield/internal/model"
	"github.com/sloppy/codeshield/internal/rules"
)

func newRulesCmd(flags *globalFlags) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the detection rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(cmd, flags)
			if err != nil {
				return err
			}
			defer log.Sync()
			catalog, err := rules.Load(cfg.RulesFile)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut {
				type row struct {
					ID        string         `json:"id"`
					Name      string         `json:"name"`
					Severity  model.Severity `json:"severity"`
					CWEID     string         `json:"cwe_id,omitempty"`
					Languages []string       `json:"languages"`
					Enabled   bool           `json:"enabled"`
				}
				rows := make([]row, 0, catalog.Len())
				for _, r := range catalog.Rules() {
					rows = append(rows, row{ID: r.ID, Name: r.Name, Severity: r.Severity, CWEID: r.CWEID, Languages: r.Languages, Enabled: r.Enabled})
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			newPrinter(out).ruleList(catalog.Rules())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print rules as JSON")
	return cmd
}
