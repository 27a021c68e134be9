package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sloppy/codeshield/internal/model"
)

const findingColumns = `id, scan_id, status, type, rule_id, vulnerability, severity, confidence,
	cwe_id, owasp_category, file, line_start, line_end, code, description, risk, fix, refs,
	detected_at, language`

// AddFinding appends a finding to its scan. Insertion order is preserved.
func (db *DB) AddFinding(f model.Finding) error {
	refs, err := json.Marshal(nonNilStrings(f.References))
	if err != nil {
		return fmt.Errorf("encode finding references: %w", err)
	}
	_, err = db.Exec(
		`INSERT INTO finding (`+findingColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ScanID, f.Status, f.Type, f.RuleID, f.Vulnerability, f.Severity, f.Confidence,
		f.CWEID, f.OWASPCategory, f.File, f.LineStart, f.LineEnd, f.Code, f.Description, f.Risk, f.Fix, string(refs),
		formatTime(f.DetectedAt), f.Language,
	)
	if err != nil {
		return fmt.Errorf("insert finding: %w", err)
	}
	return nil
}

// GetFindings returns a scan's findings in insertion order, narrowed by filters.
func (db *DB) GetFindings(scanID string, filters model.FindingFilters) ([]model.Finding, error) {
	where := []string{"scan_id = ?"}
	args := []any{scanID}
	if filters.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filters.Status)
	}
	if filters.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, filters.Severity)
	}
	if filters.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filters.Type)
	}
	if filters.File != "" {
		where = append(where, "file = ?")
		args = append(args, filters.File)
	}

	rows, err := db.Query(
		`SELECT `+findingColumns+` FROM finding WHERE `+strings.Join(where, " AND ")+` ORDER BY seq`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	findings := []model.Finding{}
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return findings, nil
}

// CountFindings returns the number of findings recorded for a scan.
func (db *DB) CountFindings(scanID string) (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM finding WHERE scan_id = ?`, scanID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count findings: %w", err)
	}
	return n, nil
}

// SeverityCounts tallies a scan's findings by severity, excluding false positives.
func (db *DB) SeverityCounts(scanID string) (map[model.Severity]int, error) {
	rows, err := db.Query(
		`SELECT severity, COUNT(*) FROM finding
		 WHERE scan_id = ? AND status != 'false_positive'
		 GROUP BY severity`,
		scanID,
	)
	if err != nil {
		return nil, fmt.Errorf("tally findings: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Severity]int, 4)
	for rows.Next() {
		var (
			sev model.Severity
			n   int
		)
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, fmt.Errorf("scan tally: %w", err)
		}
		counts[sev] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

// GetFinding returns a finding by ID across all scans.
func (db *DB) GetFinding(id string) (model.Finding, bool, error) {
	f, err := scanFinding(db.QueryRow(`SELECT `+findingColumns+` FROM finding WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Finding{}, false, nil
		}
		return model.Finding{}, false, fmt.Errorf("get finding: %w", err)
	}
	return f, true, nil
}

// UpdateFinding writes back the mutable fields of a finding: status, type,
// confidence, risk and fix.
func (db *DB) UpdateFinding(f model.Finding) error {
	res, err := db.Exec(
		`UPDATE finding SET status = ?, type = ?, confidence = ?, risk = ?, fix = ? WHERE id = ?`,
		f.Status, f.Type, f.Confidence, f.Risk, f.Fix, f.ID,
	)
	if err != nil {
		return fmt.Errorf("update finding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateFindingStatus sets only the lifecycle status of a finding.
func (db *DB) UpdateFindingStatus(id string, status model.FindingStatus) error {
	res, err := db.Exec(`UPDATE finding SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update finding status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanFinding(row rowScanner) (model.Finding, error) {
	var (
		f        model.Finding
		refs     string
		detected string
	)
	err := row.Scan(
		&f.ID, &f.ScanID, &f.Status, &f.Type, &f.RuleID, &f.Vulnerability, &f.Severity, &f.Confidence,
		&f.CWEID, &f.OWASPCategory, &f.File, &f.LineStart, &f.LineEnd, &f.Code, &f.Description, &f.Risk, &f.Fix, &refs,
		&detected, &f.Language,
	)
	if err != nil {
		return model.Finding{}, err
	}
	if err := json.Unmarshal([]byte(refs), &f.References); err != nil {
		return model.Finding{}, fmt.Errorf("decode finding references: %w", err)
	}
	if f.DetectedAt, err = parseTime(detected); err != nil {
		return model.Finding{}, err
	}
	return f, nil
}
