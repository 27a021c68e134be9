package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/sloppy/codeshield/internal/model"
)

var detected = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func fixtureFindings() []model.Finding {
	return []model.Finding{
		{
			ID:            "f1",
			ScanID:        "s1",
			Status:        model.FindingOpen,
			Type:          model.FindingStatic,
			RuleID:        "SEC005",
			Vulnerability: "Hardcoded Password",
			Severity:      model.SeverityHigh,
			Confidence:    1,
			CWEID:         "CWE-259",
			File:          "src/config.js",
			LineStart:     3,
			LineEnd:       3,
			Description:   "Detected a hardcoded password, with \"quotes\".",
			References:    []string{"https://cwe.mitre.org/data/definitions/259.html"},
			DetectedAt:    detected,
			Language:      "javascript",
		},
		{
			ID:            "f2",
			ScanID:        "s1",
			Status:        model.FindingFalsePositive,
			Type:          model.FindingAI,
			RuleID:        "LOG001",
			Vulnerability: "Sensitive Data in Logs",
			Severity:      model.SeverityMedium,
			Confidence:    0.95,
			File:          "src/log.js",
			LineStart:     1,
			LineEnd:       2,
			Fix:           "line one\nline two",
			DetectedAt:    detected,
		},
	}
}

func TestFindingsCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := FindingsCSV(&buf, model.Scan{ID: "s1"}, fixtureFindings()); err != nil {
		t.Fatalf("export csv: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("read csv back: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(records))
	}
	if strings.Join(records[0], ",") != strings.Join(csvHeader(), ",") {
		t.Fatalf("unexpected header %v", records[0])
	}
	first := records[1]
	if first[0] != "s1" || first[2] != "SEC005" || first[4] != "high" || first[7] != "1.00" || first[11] != "3" {
		t.Fatalf("unexpected first row %v", first)
	}
	if first[14] != "Detected a hardcoded password, with \"quotes\"." {
		t.Fatalf("description not round-tripped: %q", first[14])
	}
	if first[18] != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected detected_at %q", first[18])
	}
	second := records[2]
	if second[5] != "false_positive" || second[6] != "ai" || second[16] != "line one\nline two" {
		t.Fatalf("unexpected second row %v", second)
	}
}

func TestFindingsCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := FindingsCSV(&buf, model.Scan{ID: "s1"}, nil); err != nil {
		t.Fatalf("export csv: %v", err)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 1 {
		t.Fatalf("expected header only, got %q", buf.String())
	}
}

func TestScanJSON(t *testing.T) {
	project := model.Project{ID: "p1", Name: "demo", Path: "/srv/demo", FileCount: 4}
	sc := model.Scan{ID: "s1", ProjectID: "p1", Status: model.ScanCompleted}
	payload := NewScanExport(project, sc, fixtureFindings(), detected)

	if payload.Summary != (Summary{Total: 2, Open: 1, FalsePositives: 1, AIVerified: 1}) {
		t.Fatalf("unexpected summary %+v", payload.Summary)
	}

	var buf bytes.Buffer
	if err := ScanJSON(&buf, payload); err != nil {
		t.Fatalf("export json: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	proj := decoded["project"].(map[string]interface{})
	if proj["name"] != "demo" || proj["languages"] == nil {
		t.Fatalf("unexpected project block %v", proj)
	}
	if decoded["exported_at"] != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected exported_at %v", decoded["exported_at"])
	}
	if findings := decoded["findings"].([]interface{}); len(findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(findings))
	}
}

func TestScanJSONEmptyFindingsIsList(t *testing.T) {
	var buf bytes.Buffer
	if err := ScanJSON(&buf, NewScanExport(model.Project{ID: "p1"}, model.Scan{ID: "s1"}, nil, detected)); err != nil {
		t.Fatalf("export json: %v", err)
	}
	if !strings.Contains(buf.String(), "\"findings\": []") {
		t.Fatalf("expected empty findings list, got %s", buf.String())
	}
}
