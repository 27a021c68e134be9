package web

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/dustin/go-humanize"

	"github.com/sloppy/codeshield/internal/model"
)

// refreshSeconds is the dashboard reload interval while a scan is running.
const refreshSeconds = 2

func render(w http.ResponseWriter, r *http.Request, component templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := component.Render(r.Context(), w); err != nil {
		http.Error(w, "render failed", http.StatusInternalServerError)
	}
}

// layout wraps body in the page shell. refresh > 0 reloads the page every
// refresh seconds.
func layout(title string, refresh int, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, "<!doctype html><html lang=\"en\"><head>"); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "<meta charset=\"utf-8\">"); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">"); err != nil {
			return err
		}
		if refresh > 0 {
			if _, err := fmt.Fprintf(w, "<meta http-equiv=\"refresh\" content=\"%d\">", refresh); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "<title>%s</title>", html.EscapeString(title)); err != nil {
			return err
		}
		if _, err := io.WriteString(w, layoutStyles); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "</head><body><main class=\"shell\">"); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "</main></body></html>"); err != nil {
			return err
		}
		return nil
	})
}

func projectsPage(projects []model.Project, scans []model.Scan, now time.Time) templ.Component {
	names := make(map[string]string, len(projects))
	for _, p := range projects {
		names[p.ID] = p.Name
	}
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, "<header class=\"page-header\"><p class=\"eyebrow\">CodeShield</p><h1>Projects</h1><p class=\"subhead\">Register a local directory, then run a security scan against it.</p></header>"); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "<section class=\"card\"><form method=\"post\" action=\"/projects\" class=\"project-form\"><label for=\"project-path\">Directory</label><div class=\"project-form__row\"><input id=\"project-name\" name=\"name\" placeholder=\"Name (optional)\"><input id=\"project-path\" name=\"path\" placeholder=\"/srv/app\" required><button type=\"submit\">Register</button></div></form></section>"); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "<section class=\"card\"><h2>Registered projects</h2>"); err != nil {
			return err
		}
		if len(projects) == 0 {
			if _, err := io.WriteString(w, "<p class=\"empty\">No projects yet. Register a directory to get started.</p>"); err != nil {
				return err
			}
		} else {
			if _, err := io.WriteString(w, "<table><thead><tr><th>Name</th><th>Files</th><th>Lines</th><th>Size</th><th>Languages</th><th>Registered</th><th></th></tr></thead><tbody>"); err != nil {
				return err
			}
			for _, p := range projects {
				if _, err := fmt.Fprintf(w, "<tr><td title=\"%s\">%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td>",
					html.EscapeString(p.Path),
					html.EscapeString(p.Name),
					humanize.Comma(int64(p.FileCount)),
					humanize.Comma(int64(p.TotalLines)),
					humanize.Bytes(uint64(p.Size)),
					html.EscapeString(strings.Join(p.Languages, ", ")),
					humanize.RelTime(p.UploadedAt, now, "ago", "from now"),
				); err != nil {
					return err
				}
				if _, err := fmt.Fprintf(w, "<td><form method=\"post\" action=\"/projects/%s/scan\" class=\"inline\"><label><input type=\"checkbox\" name=\"ai\"> AI</label><button type=\"submit\">Scan</button></form></td></tr>", html.EscapeString(p.ID)); err != nil {
					return err
				}
			}
			if _, err := io.WriteString(w, "</tbody></table>"); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "</section>"); err != nil {
			return err
		}

		if _, err := io.WriteString(w, "<section class=\"card\"><h2>Recent scans</h2>"); err != nil {
			return err
		}
		if len(scans) == 0 {
			if _, err := io.WriteString(w, "<p class=\"empty\">No scans yet.</p></section>"); err != nil {
				return err
			}
			return nil
		}
		if _, err := io.WriteString(w, "<table><thead><tr><th>Project</th><th>Status</th><th>Risk</th><th>Started</th></tr></thead><tbody>"); err != nil {
			return err
		}
		for _, sc := range scans {
			if _, err := fmt.Fprintf(w, "<tr><td><a href=\"/scans/%s\">%s</a></td><td><span class=\"pill status-%s\">%s</span></td><td>%d/10</td><td>%s</td></tr>",
				html.EscapeString(sc.ID),
				html.EscapeString(names[sc.ProjectID]),
				sc.Status, sc.Status,
				sc.Stats.RiskScore,
				humanize.RelTime(sc.StartedAt, now, "ago", "from now"),
			); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "</tbody></table></section>"); err != nil {
			return err
		}
		return nil
	})
	return layout("CodeShield - Projects", 0, body)
}

func scanPage(project model.Project, sc model.Scan, findings []model.Finding, now time.Time) templ.Component {
	refresh := 0
	if !sc.Status.Terminal() {
		refresh = refreshSeconds
	}
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, "<header class=\"page-header\"><p class=\"eyebrow\">Scan</p><h1>%s</h1><p class=\"subhead\"><span class=\"pill status-%s\">%s</span> started %s</p></header>",
			html.EscapeString(project.Name), sc.Status, sc.Status, humanize.RelTime(sc.StartedAt, now, "ago", "from now")); err != nil {
			return err
		}
		if sc.Error != "" {
			if _, err := fmt.Fprintf(w, "<section class=\"card error\"><p>%s</p></section>", html.EscapeString(sc.Error)); err != nil {
				return err
			}
		}

		if _, err := fmt.Fprintf(w, "<section class=\"card\"><h2>Progress</h2><p class=\"progress\">Stage <strong>%s</strong>: %s</p>", sc.Progress.Stage, html.EscapeString(sc.Progress.Message)); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "<div class=\"bar\"><div class=\"bar__fill\" style=\"width:%d%%\"></div></div><p class=\"stat-label\">%d%% (%d / %d)</p></section>",
			sc.Progress.Percentage, sc.Progress.Percentage, sc.Progress.FilesProcessed, sc.Progress.TotalFiles); err != nil {
			return err
		}

		if _, err := io.WriteString(w, "<section class=\"card\"><h2>Summary</h2><div class=\"stats-grid\">"); err != nil {
			return err
		}
		stats := []struct {
			label string
			value string
		}{
			{"Risk score", fmt.Sprintf("%d/10", sc.Stats.RiskScore)},
			{"Critical", humanize.Comma(int64(sc.Stats.Critical))},
			{"High", humanize.Comma(int64(sc.Stats.High))},
			{"Medium", humanize.Comma(int64(sc.Stats.Medium))},
			{"Low", humanize.Comma(int64(sc.Stats.Low))},
			{"Files scanned", humanize.Comma(int64(sc.Stats.FilesScanned))},
			{"Lines scanned", humanize.Comma(int64(sc.Stats.LinesScanned))},
			{"Duration", fmt.Sprintf("%.1fs", sc.Stats.DurationSeconds)},
		}
		for _, st := range stats {
			if _, err := fmt.Fprintf(w, "<div><p class=\"stat-label\">%s</p><p class=\"stat-value\">%s</p></div>", st.label, st.value); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "</div></section>"); err != nil {
			return err
		}

		if _, err := fmt.Fprintf(w, "<section class=\"card\"><h2>Findings (%d)</h2>", len(findings)); err != nil {
			return err
		}
		if len(findings) == 0 {
			if _, err := io.WriteString(w, "<p class=\"empty\">No findings.</p></section>"); err != nil {
				return err
			}
		} else {
			if _, err := io.WriteString(w, "<table><thead><tr><th>Severity</th><th>Vulnerability</th><th>Location</th><th>Status</th><th>Confidence</th></tr></thead><tbody>"); err != nil {
				return err
			}
			for _, f := range findings {
				if _, err := fmt.Fprintf(w, "<tr><td><span class=\"pill sev-%s\">%s</span></td><td>%s<br><span class=\"muted\">%s</span></td><td><code>%s:%d</code></td><td>%s</td><td>%.0f%% %s</td></tr>",
					f.Severity, f.Severity,
					html.EscapeString(f.Vulnerability),
					html.EscapeString(f.CWEID),
					html.EscapeString(f.File), f.LineStart,
					f.Status,
					f.Confidence*100, f.Type,
				); err != nil {
					return err
				}
			}
			if _, err := io.WriteString(w, "</tbody></table></section>"); err != nil {
				return err
			}
		}

		if _, err := fmt.Fprintf(w, "<div class=\"page-actions\"><a class=\"back-link\" href=\"/api/scan/%s/export?format=json\">Export JSON</a> <a class=\"back-link\" href=\"/api/scan/%s/export?format=csv\">Export CSV</a> <a class=\"back-link\" href=\"/\">Back to projects</a></div>", html.EscapeString(sc.ID), html.EscapeString(sc.ID)); err != nil {
			return err
		}
		return nil
	})
	return layout("CodeShield - "+project.Name, refresh, body)
}

const layoutStyles = `<style>
:root {
  color-scheme: light;
  --bg: #f4f6f8;
  --ink: #1b2430;
  --muted: #5d6b78;
  --card: #ffffff;
  --stroke: rgba(27, 36, 48, 0.12);
  --accent: #2d5f8b;
  --critical: #9b1c1c;
  --high: #c2410c;
  --medium: #b7791f;
  --low: #3f6212;
}

* {
  box-sizing: border-box;
}

body {
  margin: 0;
  font-family: system-ui, -apple-system, "Segoe UI", sans-serif;
  color: var(--ink);
  background: var(--bg);
}

.shell {
  max-width: 980px;
  margin: 0 auto;
  padding: 40px 24px 64px;
  display: grid;
  gap: 20px;
}

.page-header h1 {
  margin: 6px 0;
  font-size: 2rem;
}

.eyebrow, .stat-label {
  text-transform: uppercase;
  letter-spacing: 0.16em;
  font-size: 0.72rem;
  color: var(--muted);
  margin: 0;
}

.subhead, .muted, .empty {
  color: var(--muted);
  margin: 0;
}

.card {
  background: var(--card);
  border: 1px solid var(--stroke);
  border-radius: 12px;
  padding: 18px 20px;
}

.card.error {
  border-color: var(--critical);
  color: var(--critical);
}

.project-form__row {
  display: flex;
  gap: 10px;
  flex-wrap: wrap;
}

input {
  padding: 8px 10px;
  border: 1px solid var(--stroke);
  border-radius: 8px;
  flex: 1 1 200px;
}

button {
  padding: 8px 14px;
  border: 0;
  border-radius: 8px;
  background: var(--accent);
  color: #fff;
  cursor: pointer;
}

form.inline {
  display: flex;
  gap: 8px;
  align-items: center;
}

table {
  width: 100%;
  border-collapse: collapse;
}

th, td {
  text-align: left;
  padding: 8px 6px;
  border-bottom: 1px solid var(--stroke);
  vertical-align: top;
}

.stats-grid {
  display: grid;
  grid-template-columns: repeat(auto-fit, minmax(140px, 1fr));
  gap: 12px;
}

.stat-value {
  font-size: 1.5rem;
  margin: 4px 0 0;
}

.bar {
  height: 10px;
  border-radius: 5px;
  background: var(--stroke);
  overflow: hidden;
}

.bar__fill {
  height: 100%;
  background: var(--accent);
}

.pill {
  display: inline-block;
  padding: 2px 8px;
  border-radius: 999px;
  font-size: 0.78rem;
  background: var(--stroke);
}

.sev-critical { background: var(--critical); color: #fff; }
.sev-high { background: var(--high); color: #fff; }
.sev-medium { background: var(--medium); color: #fff; }
.sev-low { background: var(--low); color: #fff; }
.status-failed, .status-cancelled { background: #fde2e2; }
.status-completed { background: #dcfce7; }

.back-link {
  color: var(--accent);
}
</style>`
