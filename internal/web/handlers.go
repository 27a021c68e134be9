package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sloppy/codeshield/internal/export"
	"github.com/sloppy/codeshield/internal/model"
	"github.com/sloppy/codeshield/internal/rules"
	"github.com/sloppy/codeshield/internal/scan"
)

// cancelSettle bounds how long a cancel request waits for the pipeline to
// record the cancelled status.
const cancelSettle = 2 * time.Second

type projectRequest struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

type startRequest struct {
	ProjectID string          `json:"projectId"`
	Config    json.RawMessage `json:"config,omitempty"`
}

type scanStateResponse struct {
	ScanID string           `json:"scanId"`
	Status model.ScanStatus `json:"status"`
}

type ruleView struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Severity    model.Severity    `json:"severity"`
	CWEID       string            `json:"cwe_id,omitempty"`
	OWASP       string            `json:"owasp_category,omitempty"`
	Kind        rules.PatternKind `json:"kind"`
	Pattern     string            `json:"pattern"`
	Languages   []string          `json:"languages"`
	Enabled     bool              `json:"enabled"`
}

func (s *Server) handleAPIProjectsList(w http.ResponseWriter, r *http.Request) {
	projects, err := s.Scans.Projects()
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.jsonResponse(w, map[string]interface{}{"projects": projects}, http.StatusOK)
}

func (s *Server) handleAPIProjectsCreate(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	project, err := s.Scans.RegisterProject(req.Name, req.Path)
	if err != nil {
		s.failure(w, err)
		return
	}
	s.jsonResponse(w, project, http.StatusCreated)
}

func (s *Server) handleAPIProject(w http.ResponseWriter, r *http.Request) {
	project, files, err := s.Scans.Project(chi.URLParam(r, "id"))
	if err != nil {
		s.failure(w, err)
		return
	}
	s.jsonResponse(w, map[string]interface{}{"project": project, "files": files}, http.StatusOK)
}

func (s *Server) handleAPIProjectFile(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimSpace(r.URL.Query().Get("path"))
	if rel == "" {
		s.badRequest(w, errors.New("path is required"))
		return
	}
	content, err := s.Scans.FileContent(chi.URLParam(r, "id"), rel)
	if err != nil {
		s.failure(w, err)
		return
	}
	s.jsonResponse(w, map[string]string{"path": rel, "content": content}, http.StatusOK)
}

func (s *Server) handleAPIScansList(w http.ResponseWriter, r *http.Request) {
	scans, err := s.Scans.Scans(strings.TrimSpace(r.URL.Query().Get("projectId")))
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.jsonResponse(w, map[string]interface{}{"scans": scans}, http.StatusOK)
}

func (s *Server) handleAPIScanStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	if strings.TrimSpace(req.ProjectID) == "" {
		s.badRequest(w, errors.New("projectId is required"))
		return
	}
	cfg, err := s.scanConfig(req.Config)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	sc, err := s.Scans.Start(strings.TrimSpace(req.ProjectID), cfg)
	if err != nil {
		s.failure(w, err)
		return
	}
	s.jsonResponse(w, scanStateResponse{ScanID: sc.ID, Status: sc.Status}, http.StatusAccepted)
}

// scanConfig overlays a partial request config onto the server default.
func (s *Server) scanConfig(raw json.RawMessage) (model.ScanConfig, error) {
	cfg := s.DefaultScan
	cfg.Languages = append([]string(nil), s.DefaultScan.Languages...)
	cfg.ExcludePaths = append([]string{}, s.DefaultScan.ExcludePaths...)
	if len(raw) == 0 || string(raw) == "null" {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return model.ScanConfig{}, fmt.Errorf("invalid scan config: %w", err)
	}
	if cfg.SeverityThreshold != "" {
		if _, ok := model.ParseSeverity(string(cfg.SeverityThreshold)); !ok {
			return model.ScanConfig{}, fmt.Errorf("invalid severity_threshold %q", cfg.SeverityThreshold)
		}
	}
	if cfg.MaxConcurrentAI < 0 {
		return model.ScanConfig{}, errors.New("max_concurrent_ai must not be negative")
	}
	return cfg.Normalize(), nil
}

func (s *Server) handleAPIScanStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.Scans.Status(chi.URLParam(r, "id"))
	if err != nil {
		s.failure(w, err)
		return
	}
	s.jsonResponse(w, report, http.StatusOK)
}

func (s *Server) handleAPIScanFindings(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFindingFilters(r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	findings, err := s.Scans.Findings(chi.URLParam(r, "id"), filters)
	if err != nil {
		s.failure(w, err)
		return
	}
	s.jsonResponse(w, map[string]interface{}{"findings": findings, "total": len(findings)}, http.StatusOK)
}

func (s *Server) handleAPIScanExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "csv" {
		s.badRequest(w, fmt.Errorf("unsupported export format %q", format))
		return
	}
	sc, err := s.Scans.Scan(chi.URLParam(r, "id"))
	if err != nil {
		s.failure(w, err)
		return
	}
	project, _, err := s.Scans.Project(sc.ProjectID)
	if err != nil {
		s.failure(w, err)
		return
	}
	findings, err := s.Scans.Findings(sc.ID, model.FindingFilters{})
	if err != nil {
		s.failure(w, err)
		return
	}

	filename := fmt.Sprintf("codeshield-scan-%s.%s", sc.ID, format)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		err = export.FindingsCSV(w, sc, findings)
	default:
		w.Header().Set("Content-Type", "application/json")
		err = export.ScanJSON(w, export.NewScanExport(project, sc, findings, time.Now()))
	}
	if err != nil {
		s.Log.Warnw("write scan export", "scan", sc.ID, "format", format, "error", err)
	}
}

func (s *Server) handleAPIFindingAnalyze(w http.ResponseWriter, r *http.Request) {
	finding, err := s.Scans.AnalyzeFinding(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "findingID"))
	if err != nil {
		s.failure(w, err)
		return
	}
	s.jsonResponse(w, map[string]interface{}{"finding": finding}, http.StatusOK)
}

func (s *Server) handleAPIFindingStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	status, ok := parseFindingStatus(req.Status)
	if !ok {
		s.badRequest(w, fmt.Errorf("invalid finding status %q", req.Status))
		return
	}
	finding, err := s.Scans.SetFindingStatus(chi.URLParam(r, "id"), chi.URLParam(r, "findingID"), status)
	if err != nil {
		s.failure(w, err)
		return
	}
	s.jsonResponse(w, map[string]interface{}{"finding": finding}, http.StatusOK)
}

func (s *Server) handleAPIScanCancel(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "id")
	if err := s.Scans.Cancel(scanID); err != nil {
		s.failure(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), cancelSettle)
	defer cancel()
	if err := s.Scans.Wait(ctx, scanID); err != nil {
		s.Log.Debugw("cancel still settling", "scan", scanID, "error", err)
	}
	sc, err := s.Scans.Scan(scanID)
	if err != nil {
		s.failure(w, err)
		return
	}
	s.jsonResponse(w, scanStateResponse{ScanID: sc.ID, Status: sc.Status}, http.StatusOK)
}

func (s *Server) handleAPILLMHealth(w http.ResponseWriter, r *http.Request) {
	if s.LLM == nil {
		s.jsonResponse(w, map[string]interface{}{
			"isRunning": false,
			"models":    []string{},
			"error":     scan.ErrAIDisabled.Error(),
		}, http.StatusOK)
		return
	}
	s.jsonResponse(w, s.LLM.Health(r.Context()), http.StatusOK)
}

func (s *Server) handleAPIRules(w http.ResponseWriter, r *http.Request) {
	catalog := s.Catalog.Rules()
	views := make([]ruleView, 0, len(catalog))
	for _, rule := range catalog {
		views = append(views, ruleView{
			ID:          rule.ID,
			Name:        rule.Name,
			Description: rule.Description,
			Severity:    rule.Severity,
			CWEID:       rule.CWEID,
			OWASP:       rule.OWASPCategory,
			Kind:        rule.Pattern.Kind(),
			Pattern:     rule.Pattern.String(),
			Languages:   rule.Languages,
			Enabled:     rule.Enabled,
		})
	}
	s.jsonResponse(w, map[string]interface{}{"rules": views, "total": len(views)}, http.StatusOK)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	projects, err := s.Scans.Projects()
	if err != nil {
		http.Error(w, "failed to list projects", http.StatusInternalServerError)
		return
	}
	scans, err := s.Scans.Scans("")
	if err != nil {
		http.Error(w, "failed to list scans", http.StatusInternalServerError)
		return
	}
	render(w, r, projectsPage(projects, scans, time.Now()))
}

func (s *Server) handleProjectsCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	_, err := s.Scans.RegisterProject(r.FormValue("name"), r.FormValue("path"))
	if err != nil {
		if errors.Is(err, scan.ErrInvalidProject) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.Log.Errorw("register project", "error", err)
		http.Error(w, "failed to register project", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleProjectScan(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	cfg, _ := s.scanConfig(nil)
	cfg.EnableAI = r.FormValue("ai") == "on"
	sc, err := s.Scans.Start(chi.URLParam(r, "id"), cfg)
	if err != nil {
		if errors.Is(err, scan.ErrProjectNotFound) {
			http.Error(w, "project not found", http.StatusNotFound)
			return
		}
		s.Log.Errorw("start scan", "error", err)
		http.Error(w, "failed to start scan", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/scans/"+sc.ID, http.StatusSeeOther)
}

func (s *Server) handleScanDashboard(w http.ResponseWriter, r *http.Request) {
	sc, err := s.Scans.Scan(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, scan.ErrScanNotFound) {
			http.Error(w, "scan not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load scan", http.StatusInternalServerError)
		return
	}
	project, _, err := s.Scans.Project(sc.ProjectID)
	if err != nil {
		http.Error(w, "failed to load project", http.StatusInternalServerError)
		return
	}
	findings, err := s.Scans.Findings(sc.ID, model.FindingFilters{})
	if err != nil {
		http.Error(w, "failed to load findings", http.StatusInternalServerError)
		return
	}
	render(w, r, scanPage(project, sc, findings, time.Now()))
}

func parseFindingFilters(r *http.Request) (model.FindingFilters, error) {
	query := r.URL.Query()
	var filters model.FindingFilters
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status, ok := parseFindingStatus(raw)
		if !ok {
			return filters, fmt.Errorf("invalid status filter %q", raw)
		}
		filters.Status = status
	}
	if raw := strings.TrimSpace(query.Get("severity")); raw != "" {
		sev, ok := model.ParseSeverity(raw)
		if !ok {
			return filters, fmt.Errorf("invalid severity filter %q", raw)
		}
		filters.Severity = sev
	}
	if raw := strings.TrimSpace(query.Get("type")); raw != "" {
		switch model.FindingType(strings.ToLower(raw)) {
		case model.FindingStatic:
			filters.Type = model.FindingStatic
		case model.FindingAI:
			filters.Type = model.FindingAI
		default:
			return filters, fmt.Errorf("invalid type filter %q", raw)
		}
	}
	filters.File = strings.TrimSpace(query.Get("file"))
	return filters, nil
}

func parseFindingStatus(raw string) (model.FindingStatus, bool) {
	status := model.FindingStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case model.FindingOpen, model.FindingFixed, model.FindingIgnored, model.FindingFalsePositive:
		return status, true
	default:
		return "", false
	}
}
