package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sloppy/codeshield/internal/model"
)

const projectColumns = `id, name, path, uploaded_at, file_count, total_lines, size, languages`

// SaveProject inserts a project and its flattened file list in one transaction.
// Directory nodes in files are ignored.
func (db *DB) SaveProject(p model.Project, files []model.FileNode) error {
	langs, err := json.Marshal(nonNilStrings(p.Languages))
	if err != nil {
		return fmt.Errorf("encode project languages: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(
		`INSERT INTO project (`+projectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Path, formatTime(p.UploadedAt), p.FileCount, p.TotalLines, p.Size, string(langs),
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("insert project: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO project_file (project_id, path, name, extension, language, size, lines)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare project_file insert: %w", err)
	}
	defer stmt.Close()
	for _, f := range files {
		if f.Type == model.NodeDirectory {
			continue
		}
		if _, err := stmt.Exec(p.ID, f.Path, f.Name, f.Extension, f.Language, f.Size, f.Lines); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert project_file %s: %w", f.Path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit project: %w", err)
	}
	return nil
}

// GetProject returns a project by ID.
func (db *DB) GetProject(id string) (model.Project, bool, error) {
	p, err := scanProject(db.QueryRow(`SELECT `+projectColumns+` FROM project WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Project{}, false, nil
		}
		return model.Project{}, false, fmt.Errorf("get project: %w", err)
	}
	return p, true, nil
}

// ListProjects returns all projects, most recently registered first.
func (db *DB) ListProjects() ([]model.Project, error) {
	rows, err := db.Query(`SELECT ` + projectColumns + ` FROM project ORDER BY uploaded_at DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return projects, nil
}

// ProjectFiles returns the project's files ordered by path.
func (db *DB) ProjectFiles(projectID string) ([]model.FileNode, error) {
	rows, err := db.Query(
		`SELECT path, name, extension, language, size, lines
		 FROM project_file WHERE project_id = ? ORDER BY path`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("list project files: %w", err)
	}
	defer rows.Close()

	var files []model.FileNode
	for rows.Next() {
		f := model.FileNode{Type: model.NodeFile}
		if err := rows.Scan(&f.Path, &f.Name, &f.Extension, &f.Language, &f.Size, &f.Lines); err != nil {
			return nil, fmt.Errorf("scan project file: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return files, nil
}

// DeleteProject removes a project and, by cascade, its files, scans and findings.
func (db *DB) DeleteProject(id string) error {
	res, err := db.Exec(`DELETE FROM project WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (model.Project, error) {
	var (
		p        model.Project
		uploaded string
		langs    string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Path, &uploaded, &p.FileCount, &p.TotalLines, &p.Size, &langs); err != nil {
		return model.Project{}, err
	}
	t, err := parseTime(uploaded)
	if err != nil {
		return model.Project{}, err
	}
	p.UploadedAt = t
	if err := json.Unmarshal([]byte(langs), &p.Languages); err != nil {
		return model.Project{}, fmt.Errorf("decode project languages: %w", err)
	}
	if p.Languages == nil {
		p.Languages = []string{}
	}
	return p, nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
