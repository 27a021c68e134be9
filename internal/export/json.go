package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/sloppy/codeshield/internal/model"
)

// ScanExport captures a scan with its project and findings.
type ScanExport struct {
	Project    ProjectInfo     `json:"project"`
	Scan       model.Scan      `json:"scan"`
	Summary    Summary         `json:"summary"`
	Findings   []model.Finding `json:"findings"`
	ExportedAt time.Time       `json:"exported_at"`
}

type ProjectInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	UploadedAt time.Time `json:"uploaded_at"`
	FileCount  int       `json:"file_count"`
	Languages  []string  `json:"languages"`
}

// Summary counts findings by status and type. False positives are counted
// separately from the severity tallies held in the scan stats.
type Summary struct {
	Total          int `json:"total"`
	Open           int `json:"open"`
	FalsePositives int `json:"false_positives"`
	AIVerified     int `json:"ai_verified"`
}

// NewScanExport assembles the export payload. A nil findings slice is
// exported as an empty list.
func NewScanExport(project model.Project, sc model.Scan, findings []model.Finding, at time.Time) ScanExport {
	if findings == nil {
		findings = []model.Finding{}
	}
	var sum Summary
	for _, f := range findings {
		sum.Total++
		switch f.Status {
		case model.FindingOpen:
			sum.Open++
		case model.FindingFalsePositive:
			sum.FalsePositives++
		}
		if f.Type == model.FindingAI {
			sum.AIVerified++
		}
	}
	langs := project.Languages
	if langs == nil {
		langs = []string{}
	}
	return ScanExport{
		Project: ProjectInfo{
			ID:         project.ID,
			Name:       project.Name,
			Path:       project.Path,
			UploadedAt: project.UploadedAt,
			FileCount:  project.FileCount,
			Languages:  langs,
		},
		Scan:       sc,
		Summary:    sum,
		Findings:   findings,
		ExportedAt: at.UTC(),
	}
}

// ScanJSON writes the payload as indented JSON.
func ScanJSON(w io.Writer, payload ScanExport) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(payload); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
