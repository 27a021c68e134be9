// Package scan runs the scan pipeline: static analysis, optional AI
// verification and finalization, each scan in its own goroutine.
package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sloppy/codeshield/internal/analysis"
	"github.com/sloppy/codeshield/internal/db"
	"github.com/sloppy/codeshield/internal/filetree"
	"github.com/sloppy/codeshield/internal/model"
)

// ContentLoader returns the text of one project file.
type ContentLoader interface {
	Load(project model.Project, file model.FileNode) (string, error)
}

// DiskLoader reads files from the project root on disk.
type DiskLoader struct {
	MaxBytes int64
}

func (l DiskLoader) Load(project model.Project, file model.FileNode) (string, error) {
	return filetree.ReadContent(project.Path, file.Path, l.MaxBytes)
}

type Options struct {
	DB     *db.DB
	Engine *analysis.Engine
	// Generator enables AI verification; nil disables the AI stage.
	Generator analysis.Generator
	AITimeout time.Duration
	Loader    ContentLoader
	Log       *zap.SugaredLogger
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Service owns scan lifecycles. Scans of the same project run independently.
type Service struct {
	db       *db.DB
	engine   *analysis.Engine
	verifier *analysis.Verifier
	loader   ContentLoader
	log      *zap.SugaredLogger
	now      func() time.Time

	baseCtx context.Context
	stop    context.CancelFunc

	mu    sync.Mutex
	tasks map[string]*task
	wg    sync.WaitGroup
}

func NewService(opts Options) (*Service, error) {
	if opts.DB == nil {
		return nil, errors.New("scan service: db is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("scan service: engine is required")
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	loader := opts.Loader
	if loader == nil {
		loader = DiskLoader{}
	}
	ctx, stop := context.WithCancel(context.Background())
	s := &Service{
		db:      opts.DB,
		engine:  opts.Engine,
		loader:  loader,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		baseCtx: ctx,
		stop:    stop,
		tasks:   make(map[string]*task),
	}
	if opts.Generator != nil {
		s.verifier = analysis.NewVerifier(opts.Generator,
			analysis.WithFindingStore(opts.DB),
			analysis.WithCallTimeout(opts.AITimeout),
			analysis.WithLogger(log),
		)
	}
	return s, nil
}

// AIEnabled reports whether a verification backend is configured.
func (s *Service) AIEnabled() bool {
	return s.verifier != nil
}

// RegisterProject walks root and records it as a project.
func (s *Service) RegisterProject(name, root string) (model.Project, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return model.Project{}, fmt.Errorf("%w: path is required", ErrInvalidProject)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return model.Project{}, fmt.Errorf("%w: %v", ErrInvalidProject, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return model.Project{}, fmt.Errorf("%w: %v", ErrInvalidProject, err)
	}
	if !info.IsDir() {
		return model.Project{}, fmt.Errorf("%w: %s is not a directory", ErrInvalidProject, abs)
	}
	nodes, err := filetree.Build(abs)
	if err != nil {
		return model.Project{}, fmt.Errorf("build file tree: %w", err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = filepath.Base(abs)
	}

	sum := filetree.Summarize(nodes)
	p := model.Project{
		ID:         uuid.NewString(),
		Name:       name,
		Path:       abs,
		UploadedAt: s.now(),
		FileCount:  sum.FileCount,
		TotalLines: sum.TotalLines,
		Languages:  sum.Languages,
		Size:       sum.Size,
	}
	if err := s.db.SaveProject(p, filetree.Flatten(nodes)); err != nil {
		return model.Project{}, err
	}
	s.log.Infow("project registered", "project", p.ID, "path", abs, "files", p.FileCount)
	return p, nil
}

// Project returns a registered project and its files.
func (s *Service) Project(id string) (model.Project, []model.FileNode, error) {
	p, ok, err := s.db.GetProject(id)
	if err != nil {
		return model.Project{}, nil, err
	}
	if !ok {
		return model.Project{}, nil, ErrProjectNotFound
	}
	files, err := s.db.ProjectFiles(id)
	if err != nil {
		return model.Project{}, nil, err
	}
	return p, files, nil
}

// FileContent returns the text of one file inside a project.
func (s *Service) FileContent(projectID, rel string) (string, error) {
	p, ok, err := s.db.GetProject(projectID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrProjectNotFound
	}
	return s.loader.Load(p, model.FileNode{Path: rel, Type: model.NodeFile})
}

// Start creates a pending scan and launches its pipeline in the background.
func (s *Service) Start(projectID string, cfg model.ScanConfig) (model.Scan, error) {
	project, ok, err := s.db.GetProject(projectID)
	if err != nil {
		return model.Scan{}, err
	}
	if !ok {
		return model.Scan{}, ErrProjectNotFound
	}

	sc := model.Scan{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		Config:    cfg.Normalize(),
		Status:    model.ScanPending,
		Progress:  model.ScanProgress{Stage: model.StageStatic, Message: "Scan queued"},
		StartedAt: s.now(),
	}
	if err := s.db.SaveScan(sc); err != nil {
		return model.Scan{}, err
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	t := &task{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.tasks[sc.ID] = t
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, t, sc, project)

	s.log.Infow("scan started", "scan", sc.ID, "project", project.ID, "static", sc.Config.EnableStatic, "ai", sc.Config.EnableAI)
	return sc, nil
}

// Cancel stops a running scan. The scan ends as cancelled at its next
// file or batch boundary.
func (s *Service) Cancel(scanID string) error {
	s.mu.Lock()
	t, ok := s.tasks[scanID]
	s.mu.Unlock()
	if ok {
		t.cancel()
		return nil
	}
	if _, found, err := s.db.GetScan(scanID); err != nil {
		return err
	} else if !found {
		return ErrScanNotFound
	}
	return ErrScanNotRunning
}

// Wait blocks until the scan's pipeline returns or ctx is done. Scans that
// are not running return immediately.
func (s *Service) Wait(ctx context.Context, scanID string) error {
	s.mu.Lock()
	t, ok := s.tasks[scanID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every running scan and waits for the pipelines to exit.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StatusReport is the poll payload for one scan.
type StatusReport struct {
	ID            string             `json:"id"`
	ProjectID     string             `json:"projectId"`
	Status        model.ScanStatus   `json:"status"`
	Progress      model.ScanProgress `json:"progress"`
	Stats         model.ScanStats    `json:"stats"`
	FindingsCount int                `json:"findingsCount"`
	StartedAt     time.Time          `json:"startedAt"`
	CompletedAt   *time.Time         `json:"completedAt,omitempty"`
	Error         string             `json:"error,omitempty"`
}

func (s *Service) Status(scanID string) (StatusReport, error) {
	sc, ok, err := s.db.GetScan(scanID)
	if err != nil {
		return StatusReport{}, err
	}
	if !ok {
		return StatusReport{}, ErrScanNotFound
	}
	n, err := s.db.CountFindings(scanID)
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{
		ID:            sc.ID,
		ProjectID:     sc.ProjectID,
		Status:        sc.Status,
		Progress:      sc.Progress,
		Stats:         sc.Stats,
		FindingsCount: n,
		StartedAt:     sc.StartedAt,
		CompletedAt:   sc.CompletedAt,
		Error:         sc.Error,
	}, nil
}

// Scan returns the full scan record.
func (s *Service) Scan(scanID string) (model.Scan, error) {
	sc, ok, err := s.db.GetScan(scanID)
	if err != nil {
		return model.Scan{}, err
	}
	if !ok {
		return model.Scan{}, ErrScanNotFound
	}
	return sc, nil
}

// Scans lists scans newest first, optionally for one project.
func (s *Service) Scans(projectID string) ([]model.Scan, error) {
	return s.db.ListScans(projectID)
}

func (s *Service) Projects() ([]model.Project, error) {
	return s.db.ListProjects()
}

// Findings returns a scan's findings in detection order.
func (s *Service) Findings(scanID string, filters model.FindingFilters) ([]model.Finding, error) {
	if _, ok, err := s.db.GetScan(scanID); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrScanNotFound
	}
	return s.db.GetFindings(scanID, filters)
}

// SetFindingStatus records a triage decision on one finding.
func (s *Service) SetFindingStatus(scanID, findingID string, status model.FindingStatus) (model.Finding, error) {
	f, err := s.finding(scanID, findingID)
	if err != nil {
		return model.Finding{}, err
	}
	if err := s.db.UpdateFindingStatus(f.ID, status); err != nil {
		return model.Finding{}, fmt.Errorf("set finding status: %w", err)
	}
	f.Status = status
	return f, nil
}

// AnalyzeFinding runs AI verification for one finding using the scan's model
// and returns the finding as stored afterwards. An already verified finding
// is returned unchanged.
func (s *Service) AnalyzeFinding(ctx context.Context, scanID, findingID string) (model.Finding, error) {
	if s.verifier == nil {
		return model.Finding{}, ErrAIDisabled
	}
	sc, ok, err := s.db.GetScan(scanID)
	if err != nil {
		return model.Finding{}, err
	}
	if !ok {
		return model.Finding{}, ErrScanNotFound
	}
	f, err := s.finding(scanID, findingID)
	if err != nil {
		return model.Finding{}, err
	}
	opts := analysis.VerifyOptions{Model: sc.Config.Model, Concurrency: 1}
	if _, err := s.verifier.Verify(ctx, []*model.Finding{&f}, opts, nil); err != nil {
		return model.Finding{}, fmt.Errorf("analyze finding: %w", err)
	}
	return f, nil
}

func (s *Service) finding(scanID, findingID string) (model.Finding, error) {
	f, ok, err := s.db.GetFinding(findingID)
	if err != nil {
		return model.Finding{}, err
	}
	if !ok || f.ScanID != scanID {
		return model.Finding{}, ErrFindingNotFound
	}
	return f, nil
}
