package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/sloppy/codeshield/internal/model"
	"github.com/sloppy/codeshield/internal/rules"
)

// printer writes terminal reports. Styles only apply when out is a terminal.
type printer struct {
	out   io.Writer
	color bool

	critical lipgloss.Style
	high     lipgloss.Style
	medium   lipgloss.Style
	low      lipgloss.Style
	title    lipgloss.Style
	fileRef  lipgloss.Style
	muted    lipgloss.Style
}

func newPrinter(out io.Writer) *printer {
	r := lipgloss.NewRenderer(out)
	return &printer{
		out:      out,
		color:    isTerminal(out),
		critical: r.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("9")),
		high:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		medium:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("11")),
		low:      r.NewStyle().Faint(true),
		title:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		fileRef:  r.NewStyle().Foreground(lipgloss.Color("6")),
		muted:    r.NewStyle().Foreground(lipgloss.Color("241")),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) style(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *printer) severity(sev model.Severity) string {
	label := strings.ToUpper(string(sev))
	switch sev {
	case model.SeverityCritical:
		return p.style(p.critical, label)
	case model.SeverityHigh:
		return p.style(p.high, label)
	case model.SeverityMedium:
		return p.style(p.medium, label)
	case model.SeverityLow:
		return p.style(p.low, label)
	default:
		return label
	}
}

func (p *printer) scanSummary(project model.Project, sc model.Scan, findings []model.Finding, now time.Time) {
	sorted := make([]model.Finding, 0, len(findings))
	for _, f := range findings {
		if f.Status != model.FindingFalsePositive {
			sorted = append(sorted, f)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity.Rank() > sorted[j].Severity.Rank()
	})

	fmt.Fprintf(p.out, "%s %s (%s)\n", p.style(p.title, "codeshield"), project.Name, project.Path)
	fmt.Fprintf(p.out, "status %s, risk %d/10, %d findings (%d critical, %d high, %d medium, %d low)\n\n",
		sc.Status, sc.Stats.RiskScore, len(sorted),
		sc.Stats.Critical, sc.Stats.High, sc.Stats.Medium, sc.Stats.Low)

	for _, f := range sorted {
		fmt.Fprintf(p.out, "  %s  %s [%s]\n", p.severity(f.Severity), f.Vulnerability, f.RuleID)
		fmt.Fprintf(p.out, "    %s\n", p.style(p.fileRef, fmt.Sprintf("%s:%d", f.File, f.LineStart)))
		if f.Type == model.FindingAI {
			fmt.Fprintf(p.out, "    %s\n", p.style(p.muted, fmt.Sprintf("ai verified, confidence %.0f%%", f.Confidence*100)))
		}
		if fix := strings.TrimSpace(f.Fix); fix != "" {
			fix = strings.ReplaceAll(fix, "\n", " ")
			if len(fix) > 200 {
				fix = fix[:200] + "..."
			}
			fmt.Fprintf(p.out, "    %s\n", p.style(p.muted, "fix: "+fix))
		}
		fmt.Fprintln(p.out)
	}

	var took time.Duration
	if sc.CompletedAt != nil {
		took = sc.CompletedAt.Sub(sc.StartedAt)
	}
	fmt.Fprintf(p.out, "scanned %s files, %s lines in %s (started %s)\n",
		humanize.Comma(int64(sc.Stats.FilesScanned)),
		humanize.Comma(int64(sc.Stats.LinesScanned)),
		took.Round(time.Millisecond),
		humanize.RelTime(sc.StartedAt, now, "ago", "from now"),
	)
	if sc.Error != "" {
		fmt.Fprintf(p.out, "error: %s\n", sc.Error)
	}
}

func (p *printer) ruleList(list []rules.Rule) {
	for _, r := range list {
		state := ""
		if !r.Enabled {
			state = p.style(p.muted, " (disabled)")
		}
		fmt.Fprintf(p.out, "%-8s %-8s %s%s\n", r.ID, p.severity(r.Severity), r.Name, state)
		fmt.Fprintf(p.out, "         %s\n", p.style(p.muted, fmt.Sprintf("%s %s", r.CWEID, strings.Join(r.Languages, ","))))
	}
	fmt.Fprintf(p.out, "%s rules\n", humanize.Comma(int64(len(list))))
}
