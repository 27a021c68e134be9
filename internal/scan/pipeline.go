package scan

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/sloppy/codeshield/internal/analysis"
	"github.com/sloppy/codeshield/internal/filetree"
	"github.com/sloppy/codeshield/internal/model"
	"github.com/sloppy/codeshield/internal/progress"
)

const (
	// yieldEvery is the file cadence at which the static stage yields and
	// checks for cancellation.
	yieldEvery = 10
	// stagePercentCap keeps 100 reserved for a completed scan.
	stagePercentCap = 99
)

func (s *Service) run(ctx context.Context, t *task, sc model.Scan, project model.Project) {
	defer func() {
		t.cancel()
		s.mu.Lock()
		delete(s.tasks, sc.ID)
		s.mu.Unlock()
		close(t.done)
		s.wg.Done()
	}()
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("scan pipeline panic", "scan", sc.ID, "panic", r)
			s.end(sc.ID, model.ScanFailed, fmt.Sprintf("internal error: %v", r))
		}
	}()

	if err := ctx.Err(); err != nil {
		s.end(sc.ID, model.ScanCancelled, "scan cancelled")
		return
	}
	moved, err := s.db.TransitionStatus(sc.ID, model.ScanPending, model.ScanScanning)
	if err != nil {
		s.end(sc.ID, model.ScanFailed, err.Error())
		return
	}
	if !moved {
		s.log.Warnw("scan left pending before start", "scan", sc.ID)
		return
	}

	err = s.execute(ctx, sc, project)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		s.end(sc.ID, model.ScanCancelled, "scan cancelled")
	default:
		s.end(sc.ID, model.ScanFailed, err.Error())
	}
}

func (s *Service) end(scanID string, status model.ScanStatus, msg string) {
	ok, err := s.db.UpdateStatus(scanID, status, msg, s.now())
	if err != nil {
		s.log.Errorw("record scan end", "scan", scanID, "status", status, "error", err)
		return
	}
	if ok {
		s.log.Infow("scan ended", "scan", scanID, "status", status, "reason", msg)
	}
}

func (s *Service) execute(ctx context.Context, sc model.Scan, project model.Project) error {
	all, err := s.db.ProjectFiles(project.ID)
	if err != nil {
		return err
	}
	files := selectFiles(all, sc.Config)

	if sc.Config.EnableStatic {
		if err := s.runStatic(ctx, sc, project, files); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if sc.Config.EnableAI {
		if err := s.runAI(ctx, sc); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.finalize(sc)
}

func (s *Service) runStatic(ctx context.Context, sc model.Scan, project model.Project, files []model.FileNode) error {
	sink := s.progressSink(sc.ID)
	total := len(files)
	sink.Report(progress.Update{Stage: model.StageStatic, Total: total, Message: "Starting static analysis"})

	for i, f := range files {
		if i > 0 && i%yieldEvery == 0 {
			runtime.Gosched()
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		content, err := s.loader.Load(project, f)
		if err != nil {
			s.log.Warnw("skipping unreadable file", "scan", sc.ID, "file", f.Path, "error", err)
		} else {
			if err := s.scanContent(sc, f, content); err != nil {
				return err
			}
		}
		sink.Report(progress.Update{
			Stage:   model.StageStatic,
			Current: i + 1,
			Total:   total,
			File:    f.Path,
			Message: fmt.Sprintf("Scanning %s", f.Path),
		})
	}
	return nil
}

func (s *Service) scanContent(sc model.Scan, f model.FileNode, content string) error {
	findings := s.engine.ScanFile(sc.ID, analysis.File{Path: f.Path, Language: f.Language, Content: content})
	for _, finding := range findings {
		if !finding.Severity.AtLeast(sc.Config.SeverityThreshold) {
			continue
		}
		if err := s.db.AddFinding(finding); err != nil {
			return err
		}
	}
	return s.db.AddScanCounters(sc.ID, 1, filetree.LineCount(content))
}

func (s *Service) runAI(ctx context.Context, sc model.Scan) error {
	if s.verifier == nil {
		s.log.Warnw("ai verification requested but not configured", "scan", sc.ID)
		return nil
	}
	stored, err := s.db.GetFindings(sc.ID, model.FindingFilters{})
	if err != nil {
		return err
	}
	candidates := make([]*model.Finding, 0, len(stored))
	for i := range stored {
		if stored[i].Status == model.FindingFalsePositive {
			continue
		}
		candidates = append(candidates, &stored[i])
	}

	sink := s.progressSink(sc.ID)
	sink.Report(progress.Update{Stage: model.StageAI, Total: len(candidates), Message: "Starting AI verification"})
	if len(candidates) == 0 {
		return nil
	}
	sum, err := s.verifier.Verify(ctx, candidates, analysis.VerifyOptions{
		Model:       sc.Config.Model,
		Concurrency: sc.Config.MaxConcurrentAI,
	}, sink)
	if err != nil {
		return err
	}
	s.log.Infow("ai verification finished", "scan", sc.ID,
		"available", sum.Available, "verified", sum.Verified, "failed", sum.Failed,
		"skipped", sum.Skipped, "false_positives", sum.FalsePositives)
	return nil
}

func (s *Service) finalize(sc model.Scan) error {
	counts, err := s.db.SeverityCounts(sc.ID)
	if err != nil {
		return err
	}
	current, ok, err := s.db.GetScan(sc.ID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrScanNotFound
	}

	now := s.now()
	stats := current.Stats
	stats.Critical = counts[model.SeverityCritical]
	stats.High = counts[model.SeverityHigh]
	stats.Medium = counts[model.SeverityMedium]
	stats.Low = counts[model.SeverityLow]
	stats.RiskScore = RiskScore(counts, stats.FilesScanned)
	stats.DurationSeconds = now.Sub(sc.StartedAt).Seconds()

	final := model.ScanProgress{
		Stage:          model.StageReport,
		FilesProcessed: current.Progress.FilesProcessed,
		TotalFiles:     current.Progress.TotalFiles,
		Percentage:     100,
		Message:        "Scan completed",
	}
	done, err := s.db.FinalizeScan(sc.ID, stats, final, now)
	if err != nil {
		return err
	}
	if !done {
		return fmt.Errorf("finalize scan %s: scan is no longer running", sc.ID)
	}
	s.log.Infow("scan completed", "scan", sc.ID, "files", stats.FilesScanned, "risk", stats.RiskScore,
		"critical", stats.Critical, "high", stats.High, "medium", stats.Medium, "low", stats.Low)
	return nil
}

// progressSink persists stage updates as the scan's progress snapshot.
func (s *Service) progressSink(scanID string) progress.Sink {
	return progress.SinkFunc(func(u progress.Update) {
		pct := u.Percent()
		if pct > stagePercentCap {
			pct = stagePercentCap
		}
		err := s.db.UpdateProgress(scanID, model.ScanProgress{
			Stage:          u.Stage,
			CurrentFile:    u.File,
			FilesProcessed: u.Current,
			TotalFiles:     u.Total,
			Percentage:     pct,
			Message:        u.Message,
		})
		if err != nil {
			s.log.Warnw("update scan progress", "scan", scanID, "error", err)
		}
	})
}
