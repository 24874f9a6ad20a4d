// Package pattern turns human-authored message templates into case-insensitive
// regular expressions.
//
// A template is matched literally: regex metacharacters are escaped, every run
// of interior whitespace matches one or more whitespace characters, and a colon
// followed by whitespace tolerates any spacing around it ("LABEL:VALUE" and
// "LABEL : VALUE" both match the template "LABEL: VALUE"). Whitespace is any
// Unicode space, so no-break and thin spaces count.
//
// A template starting with "regex:" is taken as a regular expression instead.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

const (
	// Separator splits a FILTER_PATTERNS value into templates.
	Separator = ";"

	// RawPrefix marks a template that is already a regular expression.
	RawPrefix = "regex:"

	// space matches what unicode.IsSpace accepts; \s alone is ASCII only.
	space         = `[\s\v\x{85}\p{Z}]`
	flexibleSpace = space + "+"
	flexibleColon = space + "*:" + space + "*"
)

// Pattern is one compiled template.
type Pattern struct {
	Template string // as written by the user
	Expr     string // generated expression, without the case-insensitive flag
	re       *regexp.Regexp
}

// MatchString reports whether text contains the pattern.
func (p Pattern) MatchString(text string) bool {
	if p.re == nil {
		return false
	}
	return p.re.MatchString(text)
}

func (p Pattern) String() string {
	return p.Expr
}

// ParseTemplates splits raw on ';', trims each piece and drops empty ones.
func ParseTemplates(raw string) []string {
	var out []string
	for _, piece := range strings.Split(raw, Separator) {
		piece = strings.TrimSpace(piece)
		if piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

// Expression converts a literal template into its regular expression source.
func Expression(template string) string {
	var b strings.Builder
	var word strings.Builder
	inSpace := false

	flushWord := func() {
		if word.Len() > 0 {
			b.WriteString(regexp.QuoteMeta(word.String()))
			word.Reset()
		}
	}

	for _, r := range template {
		if unicode.IsSpace(r) {
			if !inSpace {
				flushWord()
				b.WriteString(flexibleSpace)
				inSpace = true
			}
			continue
		}
		inSpace = false
		word.WriteRune(r)
	}
	flushWord()

	return relaxColons(b.String())
}

// relaxColons rewrites a colon followed by whitespace so that any spacing,
// including none, is accepted on both sides. Only colons get this treatment;
// other punctuation keeps the strict one-or-more rule.
func relaxColons(expr string) string {
	return strings.ReplaceAll(expr, ":"+flexibleSpace, flexibleColon)
}

// Compile builds a case-insensitive Pattern from one template.
func Compile(template string) (Pattern, error) {
	template = strings.TrimSpace(template)
	if template == "" {
		return Pattern{}, fmt.Errorf("empty template")
	}

	var expr string
	if raw, ok := strings.CutPrefix(template, RawPrefix); ok {
		expr = strings.TrimSpace(raw)
		if expr == "" {
			return Pattern{}, fmt.Errorf("template %q: empty expression", template)
		}
	} else {
		expr = Expression(template)
	}

	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("template %q: %w", template, err)
	}
	return Pattern{Template: template, Expr: expr, re: re}, nil
}

// CompileAll compiles templates in order. The first failure aborts.
func CompileAll(templates []string) (Set, error) {
	set := make(Set, 0, len(templates))
	for _, t := range templates {
		p, err := Compile(t)
		if err != nil {
			return nil, err
		}
		set = append(set, p)
	}
	return set, nil
}

// Set is an ordered list of patterns.
type Set []Pattern

// Match returns the index of the first pattern that matches text.
func (s Set) Match(text string) (int, bool) {
	for i, p := range s {
		if p.MatchString(text) {
			return i, true
		}
	}
	return -1, false
}

// Templates returns the source template of every pattern.
func (s Set) Templates() []string {
	out := make([]string, len(s))
	for i, p := range s {
		out[i] = p.Template
	}
	return out
}
