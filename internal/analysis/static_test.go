package analysis

import (
	"strings"
	"testing"

	"github.com/sloppy/codeshield/internal/model"
	"github.com/sloppy/codeshield/internal/rules"
)

func newTestEngine(t *testing.T, defs ...rules.Definition) *Engine {
	t.Helper()
	var (
		catalog *rules.Catalog
		err     error
	)
	if len(defs) == 0 {
		catalog, err = rules.Default()
	} else {
		catalog, err = rules.NewCatalog(defs)
	}
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return NewEngine(catalog)
}

func TestScanFileHardcodedPassword(t *testing.T) {
	engine := newTestEngine(t)
	findings := engine.ScanFile("scan-1", File{
		Path:     "src/config.js",
		Language: "javascript",
		Content:  `const password = "abcd1234efgh"`,
	})
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d: %+v", len(findings), findings)
	}
	f := findings[0]
	if f.RuleID != "SEC005" || f.Severity != model.SeverityHigh {
		t.Fatalf("unexpected rule/severity %s/%s", f.RuleID, f.Severity)
	}
	if f.Type != model.FindingStatic || f.Status != model.FindingOpen || f.Confidence != 1.0 {
		t.Fatalf("unexpected finding metadata %+v", f)
	}
	if f.ScanID != "scan-1" || f.File != "src/config.js" || f.LineStart != 1 || f.LineEnd != 1 {
		t.Fatalf("unexpected location %+v", f)
	}
	if f.CWEID != "CWE-259" || f.ID == "" || f.DetectedAt.IsZero() {
		t.Fatalf("unexpected identity fields %+v", f)
	}
	if len(f.References) == 0 || !strings.Contains(f.References[0], "259") {
		t.Fatalf("expected CWE reference, got %v", f.References)
	}
}

func TestScanFileSkipsUnknownLanguage(t *testing.T) {
	engine := newTestEngine(t)
	content := `const password = "abcd1234efgh"`
	for _, lang := range []string{"", "unknown", "cobol"} {
		if got := engine.ScanFile("s", File{Path: "x", Language: lang, Content: content}); len(got) != 0 {
			t.Fatalf("language %q: expected no findings, got %d", lang, len(got))
		}
	}
}

func TestScanFileSkipsBinaryAndEmpty(t *testing.T) {
	engine := newTestEngine(t)
	if got := engine.ScanFile("s", File{Path: "a.js", Language: "javascript"}); len(got) != 0 {
		t.Fatalf("expected no findings for empty file, got %d", len(got))
	}
	bin := "eval(x)\x00\x01"
	if got := engine.ScanFile("s", File{Path: "a.js", Language: "javascript", Content: bin}); len(got) != 0 {
		t.Fatalf("expected no findings for binary file, got %d", len(got))
	}
}

func TestScanFileOneFindingPerOccurrence(t *testing.T) {
	engine := newTestEngine(t)
	content := "eval(a)\nfoo()\neval(b)\nx = eval (c)\n"
	findings := engine.ScanFile("s", File{Path: "run.py", Language: "python", Content: content})
	if len(findings) != 3 {
		t.Fatalf("expected 3 findings, got %d", len(findings))
	}
	wantLines := []int{1, 3, 4}
	for i, f := range findings {
		if f.RuleID != "INJ003" || f.LineStart != wantLines[i] {
			t.Fatalf("finding %d: got %s line %d", i, f.RuleID, f.LineStart)
		}
	}
}

func TestScanFileSnippetContext(t *testing.T) {
	engine := newTestEngine(t)
	content := "line1\nline2\nline3\neval(x)\nline5\nline6"
	findings := engine.ScanFile("s", File{Path: "a.py", Language: "python", Content: content})
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	want := "line2\nline3\neval(x)\nline5"
	if findings[0].Code != want {
		t.Fatalf("unexpected snippet %q", findings[0].Code)
	}
}

func TestScanFileMultiLineMatch(t *testing.T) {
	engine := newTestEngine(t, rules.Definition{
		ID:        "T001",
		Name:      "Split call",
		Severity:  "low",
		Pattern:   `open\(\s*\n\s*path`,
		Languages: []string{"go"},
	})
	findings := engine.ScanFile("s", File{Path: "m.go", Language: "go", Content: "x\nopen(\n  path)\n"})
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	if findings[0].LineStart != 2 || findings[0].LineEnd != 3 {
		t.Fatalf("expected lines 2-3, got %d-%d", findings[0].LineStart, findings[0].LineEnd)
	}
}

func TestScanFileWildcardAndDisabledRules(t *testing.T) {
	engine := newTestEngine(t,
		rules.Definition{ID: "ANY", Name: "Todo", Severity: "low", Kind: "literal", Pattern: "TODO", Languages: []string{rules.AnyLanguage}},
		rules.Definition{ID: "OFF", Name: "Off", Severity: "low", Kind: "literal", Pattern: "TODO", Languages: []string{"*"}, Disabled: true},
	)
	findings := engine.ScanFile("s", File{Path: "main.rs", Language: "rust", Content: "// TODO fix"})
	if len(findings) != 1 || findings[0].RuleID != "ANY" {
		t.Fatalf("expected only the wildcard rule, got %+v", findings)
	}
}

func TestSnippetClipsToFile(t *testing.T) {
	lines := []string{"a", "b"}
	if got := Snippet(lines, 1, 1); got != "a\nb" {
		t.Fatalf("unexpected snippet %q", got)
	}
	if got := Snippet(lines, 2, 2); got != "a\nb" {
		t.Fatalf("unexpected snippet %q", got)
	}
}
