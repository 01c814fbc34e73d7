package stencil

import (
	"fmt"
	"regexp"
	"strings"
)

// placeholderPattern matches {{name}} markers, tolerating spaces inside
// the delimiters.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Position locates a variable's first occurrence within template text.
// Offset is a 0-based byte offset of the opening delimiter; Line and
// Column are 1-based, with columns counted in runes.
type Position struct {
	Offset int
	Line   int
	Column int
}

// Variable describes a named placeholder within a template.
// Immutable once the template is parsed; names are unique per template.
type Variable struct {
	Name        string
	Description string
	Default     string
	Required    bool
	Position    Position
}

// span records one placeholder occurrence for rendering.
type span struct {
	start int
	end   int
	name  string
}

// Template is parsed template text together with its placeholder
// variables and their validation options.
type Template struct {
	name      string
	text      string
	variables []Variable
	index     map[string]int
	spans     []span
	opts      map[string]Options
}

// Parse scans text for {{name}} placeholders and returns the template.
// Repeated occurrences of the same name collapse into one variable whose
// position marks the first occurrence. Text without placeholders yields
// a template with no variables; Parse itself never fails.
func Parse(text string) *Template {
	t := &Template{
		text:  text,
		index: make(map[string]int),
		opts:  make(map[string]Options),
	}

	for _, m := range placeholderPattern.FindAllStringSubmatchIndex(text, -1) {
		name := text[m[2]:m[3]]
		t.spans = append(t.spans, span{start: m[0], end: m[1], name: name})
		if _, ok := t.index[name]; ok {
			continue
		}
		t.index[name] = len(t.variables)
		t.variables = append(t.variables, Variable{
			Name:     name,
			Position: positionAt(text, m[0]),
		})
	}
	return t
}

// positionAt converts a byte offset into a 1-based line and rune column.
func positionAt(text string, offset int) Position {
	line, col := 1, 1
	for _, r := range text[:offset] {
		if r == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return Position{Offset: offset, Line: line, Column: col}
}

// Name returns the template's name, empty unless set by a manifest.
func (t *Template) Name() string {
	return t.name
}

// Text returns the raw template text.
func (t *Template) Text() string {
	return t.text
}

// Variables returns the template's variables in first-occurrence order.
func (t *Template) Variables() []Variable {
	out := make([]Variable, len(t.variables))
	copy(out, t.variables)
	return out
}

// Variable returns the named variable and true, or the zero value and
// false if the template does not define it.
func (t *Template) Variable(name string) (Variable, bool) {
	i, ok := t.index[name]
	if !ok {
		return Variable{}, false
	}
	return t.variables[i], true
}

// Options returns the validation options for the named variable, falling
// back to DefaultOptions for variables without manifest overrides.
func (t *Template) Options(name string) Options {
	if o, ok := t.opts[name]; ok {
		return o
	}
	return DefaultOptions()
}

// Render substitutes values into the template text. A missing or empty
// value falls back to the variable's default. Required variables that
// still resolve to an empty value abort with ErrMissingVariable naming
// every offender.
func (t *Template) Render(values map[string]string) (string, error) {
	var missing []string
	for _, v := range t.variables {
		if v.Required && strings.TrimSpace(t.resolve(v, values)) == "" {
			missing = append(missing, v.Name)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingVariable, strings.Join(missing, ", "))
	}

	var b strings.Builder
	b.Grow(len(t.text))
	last := 0
	for _, sp := range t.spans {
		b.WriteString(t.text[last:sp.start])
		b.WriteString(t.resolve(t.variables[t.index[sp.name]], values))
		last = sp.end
	}
	b.WriteString(t.text[last:])
	return b.String(), nil
}

// resolve picks the effective value for a variable: the supplied value
// when non-empty, otherwise the default.
func (t *Template) resolve(v Variable, values map[string]string) string {
	if val, ok := values[v.Name]; ok && val != "" {
		return val
	}
	return v.Default
}
