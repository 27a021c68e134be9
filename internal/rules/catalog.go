package rules

import (
	"fmt"
	"strings"

	"github.com/sloppy/codeshield/internal/model"
)

// AnyLanguage in a rule's language list makes it apply to every detected language.
const AnyLanguage = "*"

// Definition is the authored form of a rule, before its pattern is compiled.
// NotFollowedBy drops regex matches whose next text matches it.
type Definition struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	Severity      string   `yaml:"severity"`
	CWEID         string   `yaml:"cwe,omitempty"`
	OWASP         string   `yaml:"owasp,omitempty"`
	Kind          string   `yaml:"kind"`
	Pattern       string   `yaml:"pattern"`
	Group         int      `yaml:"group,omitempty"`
	NotFollowedBy string   `yaml:"not_followed_by,omitempty"`
	Languages     []string `yaml:"languages"`
	Disabled      bool     `yaml:"disabled,omitempty"`
	References    []string `yaml:"references,omitempty"`
}

// Rule is a compiled, immutable detection rule.
type Rule struct {
	ID            string
	Name          string
	Description   string
	Severity      model.Severity
	CWEID         string
	OWASPCategory string
	Pattern       Pattern
	Languages     []string
	Enabled       bool
	References    []string
}

// AppliesTo reports whether the rule runs on files of the given language.
func (r Rule) AppliesTo(language string) bool {
	language = strings.ToLower(strings.TrimSpace(language))
	if language == "" || language == model.LanguageUnknown {
		return false
	}
	for _, l := range r.Languages {
		if l == AnyLanguage || l == language {
			return true
		}
	}
	return false
}

// Catalog is the ordered, read-only rule table.
type Catalog struct {
	rules []Rule
	byID  map[string]int
}

// NewCatalog compiles defs in order. Any malformed definition fails the whole catalog.
func NewCatalog(defs []Definition) (*Catalog, error) {
	c := &Catalog{
		rules: make([]Rule, 0, len(defs)),
		byID:  make(map[string]int, len(defs)),
	}
	for _, def := range defs {
		rule, err := compile(def)
		if err != nil {
			return nil, err
		}
		if _, dup := c.byID[rule.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %q", rule.ID)
		}
		c.byID[rule.ID] = len(c.rules)
		c.rules = append(c.rules, rule)
	}
	return c, nil
}

// Default builds the catalog from the built-in definitions.
func Default() (*Catalog, error) {
	return NewCatalog(Builtin())
}

func compile(def Definition) (Rule, error) {
	id := strings.TrimSpace(def.ID)
	if id == "" {
		return Rule{}, fmt.Errorf("rule %q: id is required", def.Name)
	}
	sev, ok := model.ParseSeverity(def.Severity)
	if !ok {
		return Rule{}, fmt.Errorf("rule %s: unknown severity %q", id, def.Severity)
	}
	var (
		pattern Pattern
		err     error
	)
	switch PatternKind(strings.ToLower(strings.TrimSpace(def.Kind))) {
	case KindLiteral:
		pattern, err = Literal(def.Pattern)
	case KindRegex, "":
		pattern, err = Regex(def.Pattern, def.Group)
		if err == nil {
			pattern, err = pattern.NotFollowedBy(def.NotFollowedBy)
		}
	default:
		err = fmt.Errorf("unsupported pattern kind %q", def.Kind)
	}
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: %w", id, err)
	}
	if len(def.Languages) == 0 {
		return Rule{}, fmt.Errorf("rule %s: at least one language is required", id)
	}
	langs := make([]string, 0, len(def.Languages))
	for _, l := range def.Languages {
		langs = append(langs, strings.ToLower(strings.TrimSpace(l)))
	}
	refs := append([]string(nil), def.References...)
	if len(refs) == 0 {
		refs = defaultReferences(def.CWEID)
	}
	name := strings.TrimSpace(def.Name)
	if name == "" {
		name = id
	}
	return Rule{
		ID:            id,
		Name:          name,
		Description:   strings.TrimSpace(def.Description),
		Severity:      sev,
		CWEID:         strings.TrimSpace(def.CWEID),
		OWASPCategory: strings.TrimSpace(def.OWASP),
		Pattern:       pattern,
		Languages:     langs,
		Enabled:       !def.Disabled,
		References:    refs,
	}, nil
}

func defaultReferences(cwe string) []string {
	num := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(cwe)), "CWE-")
	if num == "" {
		return nil
	}
	return []string{fmt.Sprintf("https://cwe.mitre.org/data/definitions/%s.html", num)}
}

// Rules returns the rules in catalog order. The slice is a copy.
func (c *Catalog) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Rule looks up a rule by id.
func (c *Catalog) Rule(id string) (Rule, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return Rule{}, false
	}
	return c.rules[idx], true
}

func (c *Catalog) Len() int { return len(c.rules) }
