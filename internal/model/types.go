package model

import (
	"strings"
	"time"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank orders severities from low (1) to critical (4). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s meets the threshold. An empty threshold admits everything.
func (s Severity) AtLeast(threshold Severity) bool {
	if threshold == "" {
		return true
	}
	return s.Rank() >= threshold.Rank()
}

// ParseSeverity normalizes a severity name. The boolean is false for unknown input.
func ParseSeverity(raw string) (Severity, bool) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if s.Rank() == 0 {
		return "", false
	}
	return s, true
}

type FindingStatus string

const (
	FindingOpen          FindingStatus = "open"
	FindingFixed         FindingStatus = "fixed"
	FindingIgnored       FindingStatus = "ignored"
	FindingFalsePositive FindingStatus = "false_positive"
)

type FindingType string

const (
	FindingStatic FindingType = "static"
	FindingAI     FindingType = "ai" // ai-verified: judged by the model
)

// Finding is one reported potential vulnerability.
type Finding struct {
	ID            string        `json:"id"`
	ScanID        string        `json:"scan_id"`
	Status        FindingStatus `json:"status"`
	Type          FindingType   `json:"type"`
	RuleID        string        `json:"rule_id,omitempty"`
	Vulnerability string        `json:"vulnerability"`
	Severity      Severity      `json:"severity"`
	Confidence    float64       `json:"confidence"`
	CWEID         string        `json:"cwe_id,omitempty"`
	OWASPCategory string        `json:"owasp_category,omitempty"`
	File          string        `json:"file"`
	LineStart     int           `json:"line_start"`
	LineEnd       int           `json:"line_end"`
	Code          string        `json:"code"`
	Description   string        `json:"description"`
	Risk          string        `json:"risk"`
	Fix           string        `json:"fix"`
	References    []string      `json:"references,omitempty"`
	DetectedAt    time.Time     `json:"detected_at"`
	Language      string        `json:"language,omitempty"`
}

// FindingFilters narrows GetFindings results. Empty fields match everything.
type FindingFilters struct {
	Status   FindingStatus
	Severity Severity
	Type     FindingType
	File     string
}

// Matches reports whether f satisfies every non-empty filter field.
func (ff FindingFilters) Matches(f Finding) bool {
	if ff.Status != "" && f.Status != ff.Status {
		return false
	}
	if ff.Severity != "" && f.Severity != ff.Severity {
		return false
	}
	if ff.Type != "" && f.Type != ff.Type {
		return false
	}
	if ff.File != "" && f.File != ff.File {
		return false
	}
	return true
}
