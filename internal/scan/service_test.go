package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sloppy/codeshield/internal/analysis"
	"github.com/sloppy/codeshield/internal/db"
	"github.com/sloppy/codeshield/internal/llm"
	"github.com/sloppy/codeshield/internal/model"
	"github.com/sloppy/codeshield/internal/progress"
	"github.com/sloppy/codeshield/internal/rules"
	"github.com/sloppy/codeshield/internal/testutil"
)

type fakeGen struct {
	unavailable error
	response    string

	mu    sync.Mutex
	calls int
}

func (g *fakeGen) Available(ctx context.Context) error { return g.unavailable }

func (g *fakeGen) Generate(ctx context.Context, req llm.GenerateRequest) (string, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	return g.response, nil
}

func (g *fakeGen) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()
	database, err := db.Open(db.MemoryPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	catalog, err := rules.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	opts.DB = database
	opts.Engine = analysis.NewEngine(catalog)
	svc, err := NewService(opts)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return svc
}

func registerTree(t *testing.T, svc *Service, files map[string]string) (model.Project, string) {
	t.Helper()
	root := testutil.WriteTree(t, files)
	p, err := svc.RegisterProject("fixture", root)
	if err != nil {
		t.Fatalf("register project: %v", err)
	}
	return p, root
}

func runToEnd(t *testing.T, svc *Service, projectID string, cfg model.ScanConfig) model.Scan {
	t.Helper()
	sc, err := svc.Start(projectID, cfg)
	if err != nil {
		t.Fatalf("start scan: %v", err)
	}
	if sc.Status != model.ScanPending {
		t.Fatalf("expected pending scan from Start, got %s", sc.Status)
	}
	return waitScan(t, svc, sc.ID)
}

func waitScan(t *testing.T, svc *Service, scanID string) model.Scan {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Wait(ctx, scanID); err != nil {
		t.Fatalf("wait scan: %v", err)
	}
	sc, err := svc.Scan(scanID)
	if err != nil {
		t.Fatalf("get scan: %v", err)
	}
	return sc
}

func TestScanWithNoMatchesCompletesWithZeroRisk(t *testing.T) {
	svc := newTestService(t, Options{})
	p, _ := registerTree(t, svc, map[string]string{
		"main.go":      "package main\n\nfunc main() {}\n",
		"util/math.py": "def add(a, b):\n    return a + b\n",
		"web/app.js":   "export const sum = (a, b) => a + b\n",
	})

	sc := runToEnd(t, svc, p.ID, model.DefaultScanConfig())
	if sc.Status != model.ScanCompleted {
		t.Fatalf("expected completed, got %s (%s)", sc.Status, sc.Error)
	}
	if sc.Stats.RiskScore != 0 || sc.Stats.FilesScanned != 3 {
		t.Fatalf("unexpected stats %+v", sc.Stats)
	}
	if sc.Progress.Percentage != 100 || sc.Progress.Stage != model.StageReport {
		t.Fatalf("unexpected final progress %+v", sc.Progress)
	}
	if sc.CompletedAt == nil {
		t.Fatalf("expected completed_at to be set")
	}
	findings, err := svc.Findings(sc.ID, model.FindingFilters{})
	if err != nil {
		t.Fatalf("findings: %v", err)
	}
	if len(findings) != 0 {
		t.Fatalf("expected no findings, got %d", len(findings))
	}
}

func TestScanHardcodedPassword(t *testing.T) {
	svc := newTestService(t, Options{})
	p, _ := registerTree(t, svc, map[string]string{
		"src/config.js": "const password = \"abcd1234efgh\"\n",
	})

	sc := runToEnd(t, svc, p.ID, model.DefaultScanConfig())
	findings, _ := svc.Findings(sc.ID, model.FindingFilters{})
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}
	f := findings[0]
	if f.RuleID != "SEC005" || f.Severity != model.SeverityHigh || f.Type != model.FindingStatic || f.Confidence != 1.0 {
		t.Fatalf("unexpected finding %+v", f)
	}
	if sc.Stats.High != 1 || sc.Stats.RiskScore != 10 {
		t.Fatalf("expected high=1 risk=10, got %+v", sc.Stats)
	}

	report, err := svc.Status(sc.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.FindingsCount != 1 || report.Status != model.ScanCompleted {
		t.Fatalf("unexpected status report %+v", report)
	}
}

func TestScanToleratesUnreadableFile(t *testing.T) {
	svc := newTestService(t, Options{})
	files := map[string]string{}
	for i := 0; i < 10; i++ {
		files[fmt.Sprintf("src/f%02d.py", i)] = "result = eval(user_input)\n"
	}
	p, root := registerTree(t, svc, files)
	if err := os.Remove(filepath.Join(root, "src", "f04.py")); err != nil {
		t.Fatalf("remove: %v", err)
	}

	sc := runToEnd(t, svc, p.ID, model.DefaultScanConfig())
	if sc.Status != model.ScanCompleted {
		t.Fatalf("expected completed, got %s (%s)", sc.Status, sc.Error)
	}
	if sc.Stats.FilesScanned != 9 || sc.Stats.LinesScanned != 9 {
		t.Fatalf("expected 9 files and lines scanned, got %+v", sc.Stats)
	}
	findings, _ := svc.Findings(sc.ID, model.FindingFilters{})
	if len(findings) != 9 {
		t.Fatalf("expected 9 findings, got %d", len(findings))
	}
	for _, f := range findings {
		if f.File == "src/f04.py" {
			t.Fatalf("unexpected finding for unreadable file")
		}
	}
	if sc.Progress.FilesProcessed != 10 || sc.Progress.TotalFiles != 10 {
		t.Fatalf("expected all files processed, got %+v", sc.Progress)
	}
}

func TestScanFiltersAndThreshold(t *testing.T) {
	svc := newTestService(t, Options{})
	p, _ := registerTree(t, svc, map[string]string{
		"app.js":             "debugger;\nconst password = \"abcd1234efgh\"\n",
		"vendor/lib.js":      "eval(x)\n",
		"dist/bundle.min.js": "eval(y)\n",
		"tool.py":            "eval(z)\n",
	})

	cfg := model.DefaultScanConfig()
	cfg.Languages = []string{"JavaScript"}
	cfg.ExcludePaths = []string{"vendor/", "*.min.js"}
	cfg.SeverityThreshold = model.SeverityHigh
	sc := runToEnd(t, svc, p.ID, cfg)

	findings, _ := svc.Findings(sc.ID, model.FindingFilters{})
	if len(findings) != 1 || findings[0].File != "app.js" || findings[0].RuleID != "SEC005" {
		t.Fatalf("expected only the password finding in app.js, got %+v", findings)
	}
	if sc.Stats.FilesScanned != 1 || sc.Progress.TotalFiles != 1 {
		t.Fatalf("expected one selected file, got stats %+v progress %+v", sc.Stats, sc.Progress)
	}
}

func TestScanAIUnavailableStillCompletes(t *testing.T) {
	gen := &fakeGen{unavailable: errors.New("connection refused")}
	svc := newTestService(t, Options{Generator: gen})
	p, _ := registerTree(t, svc, map[string]string{
		"a.js": "eval(a)\n",
		"b.js": "eval(b)\n",
	})

	cfg := model.DefaultScanConfig()
	cfg.EnableAI = true
	sc := runToEnd(t, svc, p.ID, cfg)
	if sc.Status != model.ScanCompleted {
		t.Fatalf("expected completed, got %s (%s)", sc.Status, sc.Error)
	}
	findings, _ := svc.Findings(sc.ID, model.FindingFilters{})
	if len(findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(findings))
	}
	for _, f := range findings {
		if f.Type != model.FindingStatic {
			t.Fatalf("expected static findings, got %+v", f)
		}
	}
	if gen.callCount() != 0 {
		t.Fatalf("expected no generate calls, got %d", gen.callCount())
	}
}

func TestScanExcludesFalsePositivesFromTallies(t *testing.T) {
	gen := &fakeGen{response: "```json\n{\"isTruePositive\":false,\"confidence\":0.95,\"riskAnalysis\":\"test data\",\"fixSuggestion\":\"n/a\"}\n```"}
	svc := newTestService(t, Options{Generator: gen})
	p, _ := registerTree(t, svc, map[string]string{
		"a.js": "const password = \"fixture-one\"\n",
		"b.js": "const password = \"fixture-two\"\n",
	})

	cfg := model.DefaultScanConfig()
	cfg.EnableAI = true
	sc := runToEnd(t, svc, p.ID, cfg)
	if sc.Status != model.ScanCompleted {
		t.Fatalf("expected completed, got %s (%s)", sc.Status, sc.Error)
	}
	fps, _ := svc.Findings(sc.ID, model.FindingFilters{Status: model.FindingFalsePositive, Type: model.FindingAI})
	if len(fps) != 2 {
		t.Fatalf("expected 2 ai false positives, got %d", len(fps))
	}
	if fps[0].Risk != "test data" || fps[0].Confidence != 0.95 {
		t.Fatalf("expected verdict persisted, got %+v", fps[0])
	}
	if sc.Stats.High != 0 || sc.Stats.RiskScore != 0 {
		t.Fatalf("expected false positives excluded from tallies, got %+v", sc.Stats)
	}
	if gen.callCount() != 2 {
		t.Fatalf("expected 2 generate calls, got %d", gen.callCount())
	}
}

func TestProgressSinkCapsBelowCompletion(t *testing.T) {
	svc := newTestService(t, Options{})
	p, _ := registerTree(t, svc, map[string]string{"a.go": "package a\n"})

	sc := model.Scan{ID: "manual", ProjectID: p.ID, Status: model.ScanPending, StartedAt: time.Now()}
	if err := svc.db.SaveScan(sc); err != nil {
		t.Fatalf("save scan: %v", err)
	}
	sink := svc.progressSink(sc.ID)
	var last int
	for i := 0; i <= 4; i++ {
		sink.Report(progress.Update{Stage: model.StageStatic, Current: i, Total: 4})
		got, _ := svc.Scan(sc.ID)
		if got.Progress.Percentage < last {
			t.Fatalf("percentage went backwards: %d after %d", got.Progress.Percentage, last)
		}
		last = got.Progress.Percentage
	}
	if last != 99 {
		t.Fatalf("expected stage progress capped at 99, got %d", last)
	}
}

// blockingLoader holds the first Load until release is closed.
type blockingLoader struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (l *blockingLoader) Load(project model.Project, file model.FileNode) (string, error) {
	l.once.Do(func() {
		close(l.started)
		<-l.release
	})
	return "x = 1\n", nil
}

func TestCancelStopsRunningScan(t *testing.T) {
	loader := &blockingLoader{started: make(chan struct{}), release: make(chan struct{})}
	svc := newTestService(t, Options{Loader: loader})
	files := map[string]string{}
	for i := 0; i < 25; i++ {
		files[fmt.Sprintf("f%02d.py", i)] = "x = 1\n"
	}
	p, _ := registerTree(t, svc, files)

	sc, err := svc.Start(p.ID, model.DefaultScanConfig())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-loader.started:
	case <-time.After(5 * time.Second):
		t.Fatalf("scan never started loading files")
	}
	running, _ := svc.Scan(sc.ID)
	if running.Status != model.ScanScanning {
		t.Fatalf("expected scanning while blocked, got %s", running.Status)
	}
	if err := svc.Cancel(sc.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	close(loader.release)

	done := waitScan(t, svc, sc.ID)
	if done.Status != model.ScanCancelled {
		t.Fatalf("expected cancelled, got %s", done.Status)
	}
	if done.Stats.FilesScanned >= 25 || done.CompletedAt == nil {
		t.Fatalf("expected partial scan with end time, got %+v", done)
	}
	if err := svc.Cancel(sc.ID); !errors.Is(err, ErrScanNotRunning) {
		t.Fatalf("expected ErrScanNotRunning, got %v", err)
	}
	if err := svc.Cancel("missing"); !errors.Is(err, ErrScanNotFound) {
		t.Fatalf("expected ErrScanNotFound, got %v", err)
	}
}

type panicLoader struct{}

func (panicLoader) Load(model.Project, model.FileNode) (string, error) {
	panic("loader exploded")
}

func TestPanicMarksScanFailed(t *testing.T) {
	svc := newTestService(t, Options{Loader: panicLoader{}})
	p, _ := registerTree(t, svc, map[string]string{"a.go": "package a\n"})

	sc := runToEnd(t, svc, p.ID, model.DefaultScanConfig())
	if sc.Status != model.ScanFailed || !strings.Contains(sc.Error, "loader exploded") {
		t.Fatalf("expected failed scan with panic message, got %s %q", sc.Status, sc.Error)
	}
}

func TestConcurrentScansOfSameProject(t *testing.T) {
	svc := newTestService(t, Options{})
	p, _ := registerTree(t, svc, map[string]string{"a.js": "eval(a)\n"})

	first, err := svc.Start(p.ID, model.DefaultScanConfig())
	if err != nil {
		t.Fatalf("start first: %v", err)
	}
	second, err := svc.Start(p.ID, model.DefaultScanConfig())
	if err != nil {
		t.Fatalf("start second: %v", err)
	}
	for _, id := range []string{first.ID, second.ID} {
		sc := waitScan(t, svc, id)
		if sc.Status != model.ScanCompleted {
			t.Fatalf("scan %s: expected completed, got %s", id, sc.Status)
		}
		if n, _ := svc.Findings(id, model.FindingFilters{}); len(n) != 1 {
			t.Fatalf("scan %s: expected its own finding, got %d", id, len(n))
		}
	}
	scans, _ := svc.Scans(p.ID)
	if len(scans) != 2 {
		t.Fatalf("expected 2 scans, got %d", len(scans))
	}
}

func TestAnalyzeFinding(t *testing.T) {
	gen := &fakeGen{response: `{"isTruePositive":true,"confidence":0.7,"riskAnalysis":"exploitable","fixSuggestion":"use env vars"}`}
	svc := newTestService(t, Options{Generator: gen})
	p, _ := registerTree(t, svc, map[string]string{"a.js": "const password = \"abcd1234efgh\"\n"})

	sc := runToEnd(t, svc, p.ID, model.DefaultScanConfig())
	findings, _ := svc.Findings(sc.ID, model.FindingFilters{})
	if len(findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(findings))
	}

	got, err := svc.AnalyzeFinding(context.Background(), sc.ID, findings[0].ID)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if got.Type != model.FindingAI || got.Risk != "exploitable" || got.Status != model.FindingOpen {
		t.Fatalf("unexpected analyzed finding %+v", got)
	}
	stored, _ := svc.Findings(sc.ID, model.FindingFilters{Type: model.FindingAI})
	if len(stored) != 1 {
		t.Fatalf("expected analyzed finding persisted")
	}

	if _, err := svc.AnalyzeFinding(context.Background(), sc.ID, findings[0].ID); err != nil {
		t.Fatalf("second analyze: %v", err)
	}
	if gen.callCount() != 1 {
		t.Fatalf("expected re-analysis of verified finding to be skipped, got %d calls", gen.callCount())
	}

	if _, err := svc.AnalyzeFinding(context.Background(), "other", findings[0].ID); !errors.Is(err, ErrScanNotFound) {
		t.Fatalf("expected ErrScanNotFound, got %v", err)
	}
	if _, err := svc.AnalyzeFinding(context.Background(), sc.ID, "missing"); !errors.Is(err, ErrFindingNotFound) {
		t.Fatalf("expected ErrFindingNotFound, got %v", err)
	}
}

func TestAnalyzeFindingWithoutAI(t *testing.T) {
	svc := newTestService(t, Options{})
	if _, err := svc.AnalyzeFinding(context.Background(), "s", "f"); !errors.Is(err, ErrAIDisabled) {
		t.Fatalf("expected ErrAIDisabled, got %v", err)
	}
}

func TestSetFindingStatus(t *testing.T) {
	svc := newTestService(t, Options{})
	p, _ := registerTree(t, svc, map[string]string{"a.js": "eval(a)\n"})
	sc := runToEnd(t, svc, p.ID, model.DefaultScanConfig())
	findings, _ := svc.Findings(sc.ID, model.FindingFilters{})

	got, err := svc.SetFindingStatus(sc.ID, findings[0].ID, model.FindingIgnored)
	if err != nil {
		t.Fatalf("set status: %v", err)
	}
	if got.Status != model.FindingIgnored {
		t.Fatalf("unexpected status %s", got.Status)
	}
	ignored, _ := svc.Findings(sc.ID, model.FindingFilters{Status: model.FindingIgnored})
	if len(ignored) != 1 {
		t.Fatalf("expected ignored finding persisted")
	}
}

func TestLookupErrors(t *testing.T) {
	svc := newTestService(t, Options{})
	if _, err := svc.Start("missing", model.DefaultScanConfig()); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
	if _, err := svc.Status("missing"); !errors.Is(err, ErrScanNotFound) {
		t.Fatalf("expected ErrScanNotFound, got %v", err)
	}
	if _, err := svc.Findings("missing", model.FindingFilters{}); !errors.Is(err, ErrScanNotFound) {
		t.Fatalf("expected ErrScanNotFound, got %v", err)
	}
	if _, _, err := svc.Project("missing"); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("expected ErrProjectNotFound, got %v", err)
	}
	if _, err := svc.RegisterProject("x", filepath.Join(t.TempDir(), "nope")); !errors.Is(err, ErrInvalidProject) {
		t.Fatalf("expected ErrInvalidProject, got %v", err)
	}
}

func TestRegisterProjectAndFileContent(t *testing.T) {
	svc := newTestService(t, Options{})
	p, _ := registerTree(t, svc, map[string]string{
		"src/a.go":            "package a\n\nvar x = 1\n",
		"node_modules/x/i.js": "ignored\n",
		"assets/logo.png":     "\x89PNG",
	})
	if p.FileCount != 1 || p.TotalLines != 3 || len(p.Languages) != 1 || p.Languages[0] != "go" {
		t.Fatalf("unexpected project summary %+v", p)
	}
	_, files, err := svc.Project(p.ID)
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	if len(files) != 1 || files[0].Path != "src/a.go" {
		t.Fatalf("unexpected files %+v", files)
	}
	content, err := svc.FileContent(p.ID, "src/a.go")
	if err != nil || !strings.Contains(content, "var x") {
		t.Fatalf("unexpected content %q err=%v", content, err)
	}
	if _, err := svc.FileContent(p.ID, "../etc/passwd"); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
}
