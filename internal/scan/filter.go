package scan

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/sloppy/codeshield/internal/model"
)

// selectFiles keeps the files a scan will visit: a detected language, inside
// the language allow-list when one is set, and not excluded.
func selectFiles(files []model.FileNode, cfg model.ScanConfig) []model.FileNode {
	var allowed map[string]struct{}
	if len(cfg.Languages) > 0 {
		allowed = make(map[string]struct{}, len(cfg.Languages))
		for _, l := range cfg.Languages {
			allowed[strings.ToLower(l)] = struct{}{}
		}
	}

	out := make([]model.FileNode, 0, len(files))
	for _, f := range files {
		if f.Type == model.NodeDirectory || !f.HasLanguage() {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[strings.ToLower(f.Language)]; !ok {
				continue
			}
		}
		if excluded(f.Path, cfg.ExcludePaths) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// excluded matches a slash separated relative path against exclusion entries.
// An entry is a directory prefix ("vendor" or "vendor/") or a doublestar glob
// ("**/testdata/**") matched against the full path and the base name.
func excluded(rel string, patterns []string) bool {
	base := path.Base(rel)
	for _, p := range patterns {
		p = strings.Trim(strings.TrimSpace(strings.ReplaceAll(p, "\\", "/")), "/")
		if p == "" {
			continue
		}
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, base); ok {
			return true
		}
	}
	return false
}
