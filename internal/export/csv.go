// Package export writes scan results as CSV or JSON documents.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sloppy/codeshield/internal/model"
)

// FindingsCSV writes one row per finding in the given order.
func FindingsCSV(w io.Writer, sc model.Scan, findings []model.Finding) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, f := range findings {
		if err := writer.Write(csvRow(sc, f)); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

func csvHeader() []string {
	return []string{
		"scan_id",
		"finding_id",
		"rule_id",
		"vulnerability",
		"severity",
		"status",
		"type",
		"confidence",
		"cwe_id",
		"owasp_category",
		"file",
		"line_start",
		"line_end",
		"language",
		"description",
		"risk",
		"fix",
		"references",
		"detected_at",
	}
}

func csvRow(sc model.Scan, f model.Finding) []string {
	return []string{
		sc.ID,
		f.ID,
		f.RuleID,
		f.Vulnerability,
		string(f.Severity),
		string(f.Status),
		string(f.Type),
		strconv.FormatFloat(f.Confidence, 'f', 2, 64),
		f.CWEID,
		f.OWASPCategory,
		f.File,
		strconv.Itoa(f.LineStart),
		strconv.Itoa(f.LineEnd),
		f.Language,
		f.Description,
		f.Risk,
		f.Fix,
		strings.Join(f.References, " "),
		formatTime(f.DetectedAt),
	}
}
