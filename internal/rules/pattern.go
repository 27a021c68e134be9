package rules

import (
	"fmt"
	"regexp"
	"strings"
)

type PatternKind string

const (
	KindLiteral PatternKind = "literal"
	KindRegex   PatternKind = "regex"
)

// Pattern is either a literal substring or a compiled regular expression.
// The kind is fixed when the catalog is built.
type Pattern struct {
	kind     PatternKind
	text     string
	re       *regexp.Regexp
	group    int
	notAfter *regexp.Regexp
}

// Span is a match location as a byte offset and length into the content.
type Span struct {
	Start  int
	Length int
}

func (s Span) End() int { return s.Start + s.Length }

func Literal(text string) (Pattern, error) {
	if text == "" {
		return Pattern{}, fmt.Errorf("literal pattern is empty")
	}
	return Pattern{kind: KindLiteral, text: text}, nil
}

// Regex compiles expr. When group > 0 the span of that capture group is
// reported instead of the whole match, which stands in for look-around
// assertions RE2 does not support.
func Regex(expr string, group int) (Pattern, error) {
	if strings.TrimSpace(expr) == "" {
		return Pattern{}, fmt.Errorf("regex pattern is empty")
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("compile regex %q: %w", expr, err)
	}
	if group < 0 || group > re.NumSubexp() {
		return Pattern{}, fmt.Errorf("regex %q has no capture group %d", expr, group)
	}
	return Pattern{kind: KindRegex, text: expr, re: re, group: group}, nil
}

// NotFollowedBy returns a copy of p that drops any match immediately followed
// by text matching expr. It replaces a trailing negative look-ahead without
// consuming the following character, so adjacent matches stay separate.
func (p Pattern) NotFollowedBy(expr string) (Pattern, error) {
	if p.kind != KindRegex {
		return Pattern{}, fmt.Errorf("not-followed-by needs a regex pattern")
	}
	if strings.TrimSpace(expr) == "" {
		return p, nil
	}
	re, err := regexp.Compile(`^(?:` + expr + `)`)
	if err != nil {
		return Pattern{}, fmt.Errorf("compile not-followed-by %q: %w", expr, err)
	}
	p.notAfter = re
	return p, nil
}

func (p Pattern) Kind() PatternKind { return p.kind }

func (p Pattern) String() string { return p.text }

// Match returns every match of p in content, in order of appearance.
// Literal search restarts one byte after the previous hit, so overlapping
// occurrences are each reported. Regex search always finds all
// non-overlapping matches.
func Match(content string, p Pattern) []Span {
	switch p.kind {
	case KindLiteral:
		return literalMatches(content, p.text)
	case KindRegex:
		return regexMatches(content, p.re, p.group, p.notAfter)
	default:
		return nil
	}
}

func literalMatches(content, needle string) []Span {
	if needle == "" {
		return nil
	}
	var out []Span
	offset := 0
	for offset <= len(content)-len(needle) {
		idx := strings.Index(content[offset:], needle)
		if idx < 0 {
			break
		}
		start := offset + idx
		out = append(out, Span{Start: start, Length: len(needle)})
		offset = start + 1
	}
	return out
}

func regexMatches(content string, re *regexp.Regexp, group int, notAfter *regexp.Regexp) []Span {
	if re == nil {
		return nil
	}
	raw := re.FindAllStringSubmatchIndex(content, -1)
	out := make([]Span, 0, len(raw))
	for _, m := range raw {
		start, end := m[0], m[1]
		if group > 0 && 2*group+1 < len(m) && m[2*group] >= 0 {
			start, end = m[2*group], m[2*group+1]
		}
		if notAfter != nil && notAfter.MatchString(content[end:]) {
			continue
		}
		out = append(out, Span{Start: start, Length: end - start})
	}
	return out
}

// LineAt converts a byte offset to a 1-based line number.
func LineAt(content string, offset int) int {
	if offset < 0 {
		offset = 0
	}
	if offset > len(content) {
		offset = len(content)
	}
	return strings.Count(content[:offset], "\n") + 1
}
