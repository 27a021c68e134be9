package model

import "time"

// Project is a registered codebase rooted at a local directory.
type Project struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	UploadedAt time.Time `json:"uploaded_at"`
	FileCount  int       `json:"file_count"`
	TotalLines int       `json:"total_lines"`
	Languages  []string  `json:"languages"`
	Size       int64     `json:"size"`
}

type NodeType string

const (
	NodeFile      NodeType = "file"
	NodeDirectory NodeType = "directory"
)

const LanguageUnknown = "unknown"

// FileNode is a file or directory in a project tree. Paths are slash
// separated and relative to the project root.
type FileNode struct {
	Path      string     `json:"path"`
	Name      string     `json:"name"`
	Type      NodeType   `json:"type"`
	Extension string     `json:"extension,omitempty"`
	Language  string     `json:"language,omitempty"`
	Size      int64      `json:"size"`
	Lines     int        `json:"lines,omitempty"`
	Children  []FileNode `json:"children,omitempty"`
}

// HasLanguage is false for files without a detected language.
func (n FileNode) HasLanguage() bool {
	return n.Language != "" && n.Language != LanguageUnknown
}
