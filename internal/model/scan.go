package model

import (
	"strings"
	"time"
)

type ScanStatus string

const (
	ScanPending   ScanStatus = "pending"
	ScanScanning  ScanStatus = "scanning"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
	ScanCancelled ScanStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s ScanStatus) Terminal() bool {
	switch s {
	case ScanCompleted, ScanFailed, ScanCancelled:
		return true
	default:
		return false
	}
}

// CanTransition encodes pending -> scanning -> {completed|failed|cancelled}.
// A pending scan may also be cancelled or failed before it starts.
func (s ScanStatus) CanTransition(to ScanStatus) bool {
	switch s {
	case ScanPending:
		return to == ScanScanning || to == ScanCancelled || to == ScanFailed
	case ScanScanning:
		return to == ScanCompleted || to == ScanFailed || to == ScanCancelled
	default:
		return false
	}
}

type Stage string

const (
	StageStatic Stage = "static"
	StageAI     Stage = "ai"
	StageReport Stage = "report"
)

// ScanProgress is the latest progress snapshot of a scan. It is replaced
// wholesale on every update.
type ScanProgress struct {
	Stage          Stage  `json:"stage"`
	CurrentFile    string `json:"current_file,omitempty"`
	FilesProcessed int    `json:"files_processed"`
	TotalFiles     int    `json:"total_files"`
	Percentage     int    `json:"percentage"`
	Message        string `json:"message"`
}

// ScanStats holds aggregate counters. Severity counts and RiskScore are only
// meaningful once the scan reached a terminal status.
type ScanStats struct {
	FilesScanned    int     `json:"files_scanned"`
	LinesScanned    int     `json:"lines_scanned"`
	Critical        int     `json:"critical"`
	High            int     `json:"high"`
	Medium          int     `json:"medium"`
	Low             int     `json:"low"`
	RiskScore       int     `json:"risk_score"`
	DurationSeconds float64 `json:"duration_seconds"`
}

const DefaultModel = "deepseek-coder"

// ScanConfig is attached to a scan at start and never changes afterwards.
type ScanConfig struct {
	EnableStatic      bool     `json:"enable_static" yaml:"enable_static"`
	EnableAI          bool     `json:"enable_ai" yaml:"enable_ai"`
	Model             string   `json:"model" yaml:"model"`
	MaxConcurrentAI   int      `json:"max_concurrent_ai" yaml:"max_concurrent_ai"`
	Languages         []string `json:"languages,omitempty" yaml:"languages,omitempty"`
	ExcludePaths      []string `json:"exclude_paths" yaml:"exclude_paths"`
	SeverityThreshold Severity `json:"severity_threshold,omitempty" yaml:"severity_threshold,omitempty"`
}

func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		EnableStatic:    true,
		EnableAI:        false,
		Model:           DefaultModel,
		MaxConcurrentAI: 2,
		ExcludePaths:    []string{},
	}
}

// Normalize fills zero values and canonicalizes language names.
func (c ScanConfig) Normalize() ScanConfig {
	if strings.TrimSpace(c.Model) == "" {
		c.Model = DefaultModel
	}
	if c.MaxConcurrentAI < 1 {
		c.MaxConcurrentAI = 1
	}
	if c.ExcludePaths == nil {
		c.ExcludePaths = []string{}
	}
	if len(c.Languages) > 0 {
		langs := make([]string, 0, len(c.Languages))
		for _, l := range c.Languages {
			l = strings.ToLower(strings.TrimSpace(l))
			if l != "" {
				langs = append(langs, l)
			}
		}
		c.Languages = langs
	}
	if c.SeverityThreshold != "" {
		sev, ok := ParseSeverity(string(c.SeverityThreshold))
		if !ok {
			sev = ""
		}
		c.SeverityThreshold = sev
	}
	return c
}

// Scan is one execution of the pipeline against one project.
type Scan struct {
	ID          string       `json:"id"`
	ProjectID   string       `json:"project_id"`
	Config      ScanConfig   `json:"config"`
	Status      ScanStatus   `json:"status"`
	Progress    ScanProgress `json:"progress"`
	Stats       ScanStats    `json:"stats"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Error       string       `json:"error,omitempty"`
}
