package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sloppy/codeshield/internal/model"
	"github.com/sloppy/codeshield/internal/rules"
)

const (
	snippetLeadingLines  = 2
	snippetTrailingLines = 1
	staticConfidence     = 1.0
	staticFix            = "Review the code and replace the insecure pattern with a secure alternative."
)

// File is one unit of the file collection handed to the engine.
type File struct {
	Path     string
	Language string
	Content  string
}

// Engine applies the rule catalog to file contents.
type Engine struct {
	catalog *rules.Catalog
	now     func() time.Time
	newID   func() string
}

func NewEngine(catalog *rules.Catalog) *Engine {
	return &Engine{
		catalog: catalog,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// ScanFile returns one finding per rule match, in catalog order and then in
// order of appearance. Files without a language and binary content yield nothing.
func (e *Engine) ScanFile(scanID string, file File) []model.Finding {
	lang := strings.ToLower(strings.TrimSpace(file.Language))
	if lang == "" || lang == model.LanguageUnknown || file.Content == "" {
		return nil
	}
	if IsBinary(file.Content) {
		return nil
	}

	var lines []string
	var findings []model.Finding
	detected := e.now()
	for _, rule := range e.catalog.Rules() {
		if !rule.Enabled || !rule.AppliesTo(lang) {
			continue
		}
		for _, span := range rules.Match(file.Content, rule.Pattern) {
			if lines == nil {
				lines = strings.Split(file.Content, "\n")
			}
			start := rules.LineAt(file.Content, span.Start)
			end := rules.LineAt(file.Content, span.End())
			findings = append(findings, model.Finding{
				ID:            e.newID(),
				ScanID:        scanID,
				Status:        model.FindingOpen,
				Type:          model.FindingStatic,
				RuleID:        rule.ID,
				Vulnerability: rule.Name,
				Severity:      rule.Severity,
				Confidence:    staticConfidence,
				CWEID:         rule.CWEID,
				OWASPCategory: rule.OWASPCategory,
				File:          file.Path,
				LineStart:     start,
				LineEnd:       end,
				Code:          Snippet(lines, start, end),
				Description:   rule.Description,
				Risk:          fmt.Sprintf("This pattern matches a known security vulnerability: %s.", rule.Name),
				Fix:           staticFix,
				References:    append([]string(nil), rule.References...),
				DetectedAt:    detected,
				Language:      lang,
			})
		}
	}
	return findings
}

// Snippet returns lines start..end (1-based, inclusive) with up to two
// leading and one trailing context line, clipped to the file.
func Snippet(lines []string, start, end int) string {
	from := start - 1 - snippetLeadingLines
	if from < 0 {
		from = 0
	}
	to := end + snippetTrailingLines
	if to > len(lines) {
		to = len(lines)
	}
	if from >= to {
		return ""
	}
	return strings.Join(lines[from:to], "\n")
}

// IsBinary treats any NUL byte as binary content.
func IsBinary(content string) bool {
	return strings.IndexByte(content, 0) >= 0
}
