// Package filetree turns a project directory into the file collection the
// scanner consumes: a tree of nodes tagged file/directory with a detected
// language per file, and on-demand content loading.
package filetree

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sloppy/codeshield/internal/model"
)

var ignoredDirs = map[string]struct{}{
	"node_modules": {}, ".git": {}, ".next": {}, "dist": {}, "build": {}, "coverage": {},
	".vscode": {}, ".idea": {}, "__pycache__": {}, "venv": {}, ".env": {},
}

var ignoredExts = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".ico": {},
	".mp4": {}, ".mov": {}, ".avi": {},
	".pdf": {}, ".doc": {}, ".docx": {},
	".zip": {}, ".tar": {}, ".gz": {},
	".exe": {}, ".dll": {}, ".so": {}, ".dylib": {},
	".class": {}, ".pyc": {},
}

var languages = map[string]string{
	".js":   "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".py":   "python",
	".java": "java",
	".go":   "go",
	".rs":   "rust",
	".c":    "c",
	".cpp":  "cpp",
	".h":    "c",
	".hpp":  "cpp",
	".rb":   "ruby",
	".php":  "php",
	".html": "html",
	".css":  "css",
	".json": "json",
	".md":   "markdown",
	".sql":  "sql",
	".sh":   "shell",
	".yaml": "yaml",
	".yml":  "yaml",
}

// countLinesLimit bounds the files whose lines are counted while building the tree.
const countLinesLimit = 2 * 1024 * 1024

// DetectLanguage maps a file extension (with leading dot) to a language tag.
func DetectLanguage(ext string) string {
	if lang, ok := languages[strings.ToLower(ext)]; ok {
		return lang
	}
	return model.LanguageUnknown
}

// Build walks root and returns its tree. Ignored directories and binary
// extensions are left out.
func Build(root string) ([]model.FileNode, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat project root: %w", err)
	}
	if !info.IsDir() {
		return nil, errors.New("project root must be a directory")
	}
	return walk(root, "")
}

func walk(root, rel string) ([]model.FileNode, error) {
	entries, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", rel, err)
	}
	var nodes []model.FileNode
	for _, entry := range entries {
		name := entry.Name()
		childRel := path.Join(rel, name)
		switch {
		case entry.IsDir():
			if _, skip := ignoredDirs[name]; skip {
				continue
			}
			children, err := walk(root, childRel)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, model.FileNode{
				Path:     childRel,
				Name:     name,
				Type:     model.NodeDirectory,
				Children: children,
			})
		case entry.Type().IsRegular():
			ext := strings.ToLower(filepath.Ext(name))
			if _, skip := ignoredExts[ext]; skip {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", childRel, err)
			}
			nodes = append(nodes, model.FileNode{
				Path:      childRel,
				Name:      name,
				Type:      model.NodeFile,
				Extension: strings.TrimPrefix(ext, "."),
				Language:  DetectLanguage(ext),
				Size:      info.Size(),
				Lines:     countLines(filepath.Join(root, filepath.FromSlash(childRel)), info.Size()),
			})
		}
	}
	return nodes, nil
}

func countLines(full string, size int64) int {
	if size == 0 || size > countLinesLimit {
		return 0
	}
	data, err := os.ReadFile(full)
	if err != nil || bytes.IndexByte(data, 0) >= 0 {
		return 0
	}
	return LineCount(string(data))
}

// LineCount counts lines the way an editor does: a trailing newline does not
// start a new line.
func LineCount(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}

// Flatten returns the file nodes of the tree in depth-first order.
func Flatten(nodes []model.FileNode) []model.FileNode {
	var files []model.FileNode
	for _, n := range nodes {
		if n.Type == model.NodeFile {
			leaf := n
			leaf.Children = nil
			files = append(files, leaf)
			continue
		}
		files = append(files, Flatten(n.Children)...)
	}
	return files
}

// Summary aggregates a tree for the project record.
type Summary struct {
	FileCount  int
	TotalLines int
	Size       int64
	Languages  []string
}

func Summarize(nodes []model.FileNode) Summary {
	var s Summary
	seen := map[string]struct{}{}
	for _, f := range Flatten(nodes) {
		s.FileCount++
		s.TotalLines += f.Lines
		s.Size += f.Size
		if f.HasLanguage() {
			seen[f.Language] = struct{}{}
		}
	}
	s.Languages = make([]string, 0, len(seen))
	for lang := range seen {
		s.Languages = append(s.Languages, lang)
	}
	sort.Strings(s.Languages)
	return s
}
