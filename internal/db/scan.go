package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sloppy/codeshield/internal/model"
)

const scanColumns = `id, project_id, config, status,
	stage, current_file, files_processed, total_files, percentage, message,
	files_scanned, lines_scanned, critical, high, medium, low, risk_score, duration_seconds,
	started_at, completed_at, error`

// SaveScan inserts a new scan record.
func (db *DB) SaveScan(s model.Scan) error {
	cfg, err := json.Marshal(s.Config)
	if err != nil {
		return fmt.Errorf("encode scan config: %w", err)
	}
	if s.Status == "" {
		s.Status = model.ScanPending
	}
	if s.Progress.Stage == "" {
		s.Progress.Stage = model.StageStatic
	}
	_, err = db.Exec(
		`INSERT INTO scan (`+scanColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ProjectID, string(cfg), s.Status,
		s.Progress.Stage, s.Progress.CurrentFile, s.Progress.FilesProcessed, s.Progress.TotalFiles, s.Progress.Percentage, s.Progress.Message,
		s.Stats.FilesScanned, s.Stats.LinesScanned, s.Stats.Critical, s.Stats.High, s.Stats.Medium, s.Stats.Low, s.Stats.RiskScore, s.Stats.DurationSeconds,
		formatTime(s.StartedAt), nullTime(s.CompletedAt), s.Error,
	)
	if err != nil {
		return fmt.Errorf("insert scan: %w", err)
	}
	return nil
}

// GetScan returns a scan by ID.
func (db *DB) GetScan(id string) (model.Scan, bool, error) {
	s, err := scanScan(db.QueryRow(`SELECT `+scanColumns+` FROM scan WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Scan{}, false, nil
		}
		return model.Scan{}, false, fmt.Errorf("get scan: %w", err)
	}
	return s, true, nil
}

// ListScans returns scans newest first. An empty projectID lists every project.
func (db *DB) ListScans(projectID string) ([]model.Scan, error) {
	query := `SELECT ` + scanColumns + ` FROM scan`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY started_at DESC, id`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	var scans []model.Scan
	for rows.Next() {
		s, err := scanScan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scan row: %w", err)
		}
		scans = append(scans, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return scans, nil
}

// UpdateProgress replaces the progress snapshot of a non-terminal scan.
// Updates arriving after the scan ended are dropped.
func (db *DB) UpdateProgress(id string, p model.ScanProgress) error {
	_, err := db.Exec(
		`UPDATE scan SET stage = ?, current_file = ?, files_processed = ?, total_files = ?, percentage = ?, message = ?
		 WHERE id = ? AND status IN ('pending', 'scanning')`,
		p.Stage, p.CurrentFile, p.FilesProcessed, p.TotalFiles, p.Percentage, p.Message, id,
	)
	if err != nil {
		return fmt.Errorf("update scan progress: %w", err)
	}
	return nil
}

// TransitionStatus moves a scan from one status to another only if it is
// currently in from. It reports whether the transition happened.
func (db *DB) TransitionStatus(id string, from, to model.ScanStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, fmt.Errorf("invalid scan transition %s -> %s", from, to)
	}
	res, err := db.Exec(`UPDATE scan SET status = ? WHERE id = ? AND status = ?`, to, id, from)
	if err != nil {
		return false, fmt.Errorf("transition scan status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// UpdateStatus ends a running or pending scan as failed or cancelled,
// recording errMsg and the end time. Stats keep their partial values.
// Completed scans go through FinalizeScan instead.
func (db *DB) UpdateStatus(id string, to model.ScanStatus, errMsg string, at time.Time) (bool, error) {
	if to != model.ScanFailed && to != model.ScanCancelled {
		return false, fmt.Errorf("update scan status: unsupported target %s", to)
	}
	res, err := db.Exec(
		`UPDATE scan SET status = ?, error = ?, completed_at = ?
		 WHERE id = ? AND status IN ('pending', 'scanning')`,
		to, errMsg, formatTime(at), id,
	)
	if err != nil {
		return false, fmt.Errorf("update scan status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// FailScan marks a scan failed with the given message.
func (db *DB) FailScan(id, errMsg string, at time.Time) (bool, error) {
	return db.UpdateStatus(id, model.ScanFailed, errMsg, at)
}

// AddScanCounters increments the files/lines scanned counters.
func (db *DB) AddScanCounters(id string, files, lines int) error {
	_, err := db.Exec(
		`UPDATE scan SET files_scanned = files_scanned + ?, lines_scanned = lines_scanned + ? WHERE id = ?`,
		files, lines, id,
	)
	if err != nil {
		return fmt.Errorf("add scan counters: %w", err)
	}
	return nil
}

// FinalizeScan writes final tallies and progress and marks a scanning scan
// completed. File and line counters are left as accumulated.
func (db *DB) FinalizeScan(id string, stats model.ScanStats, p model.ScanProgress, completedAt time.Time) (bool, error) {
	res, err := db.Exec(
		`UPDATE scan SET status = 'completed',
		   critical = ?, high = ?, medium = ?, low = ?, risk_score = ?, duration_seconds = ?,
		   stage = ?, current_file = ?, files_processed = ?, total_files = ?, percentage = ?, message = ?,
		   completed_at = ?
		 WHERE id = ? AND status = 'scanning'`,
		stats.Critical, stats.High, stats.Medium, stats.Low, stats.RiskScore, stats.DurationSeconds,
		p.Stage, p.CurrentFile, p.FilesProcessed, p.TotalFiles, p.Percentage, p.Message,
		formatTime(completedAt), id,
	)
	if err != nil {
		return false, fmt.Errorf("finalize scan: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func scanScan(row rowScanner) (model.Scan, error) {
	var (
		s         model.Scan
		cfg       string
		started   string
		completed sql.NullString
	)
	err := row.Scan(
		&s.ID, &s.ProjectID, &cfg, &s.Status,
		&s.Progress.Stage, &s.Progress.CurrentFile, &s.Progress.FilesProcessed, &s.Progress.TotalFiles, &s.Progress.Percentage, &s.Progress.Message,
		&s.Stats.FilesScanned, &s.Stats.LinesScanned, &s.Stats.Critical, &s.Stats.High, &s.Stats.Medium, &s.Stats.Low, &s.Stats.RiskScore, &s.Stats.DurationSeconds,
		&started, &completed, &s.Error,
	)
	if err != nil {
		return model.Scan{}, err
	}
	if err := json.Unmarshal([]byte(cfg), &s.Config); err != nil {
		return model.Scan{}, fmt.Errorf("decode scan config: %w", err)
	}
	if s.StartedAt, err = parseTime(started); err != nil {
		return model.Scan{}, err
	}
	if completed.Valid {
		t, err := parseTime(completed.String)
		if err != nil {
			return model.Scan{}, err
		}
		s.CompletedAt = &t
	}
	return s, nil
}
