// Package taxonomy holds the immutable entity-label catalogs used for one
// extraction session.
package taxonomy

import (
	"embed"
	"fmt"
	"os"
	"path"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// ErrUnknownTaxonomy is returned (wrapped in a LoadError) when a taxonomy
// name is not present in the catalog.
var ErrUnknownTaxonomy = eris.New("unknown taxonomy")

// UnknownLabelError is returned when a label is queried that the active
// taxonomy does not define.
type UnknownLabelError struct {
	Taxonomy string
	Label    string
}

func (e *UnknownLabelError) Error() string {
	return fmt.Sprintf("taxonomy %s: unknown label %q", e.Taxonomy, e.Label)
}

// LoadError means no usable taxonomy could be produced. It is fatal for the
// extraction session.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("taxonomy load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Entity is one label definition.
type Entity struct {
	Label       string   `yaml:"label" json:"label"`
	Description string   `yaml:"description" json:"description"`
	Category    string   `yaml:"category" json:"category"`
	Patterns    []string `yaml:"patterns" json:"patterns,omitempty"`
	Hotkey      string   `yaml:"hotkey" json:"hotkey,omitempty"`
	Examples    []string `yaml:"examples" json:"examples,omitempty"`

	compiled []*regexp.Regexp
}

type document struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Entities    []Entity `yaml:"entities"`
}

// Taxonomy is a read-only label catalog. It is safe for concurrent use.
type Taxonomy struct {
	name        string
	description string
	entities    []Entity
	byLabel     map[string]*Entity
	labels      []string
}

// Parse decodes and validates a YAML taxonomy. source is used in errors.
func Parse(source string, data []byte) (*Taxonomy, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &LoadError{Source: source, Err: eris.Wrap(err, "decode yaml")}
	}
	t, err := newTaxonomy(doc)
	if err != nil {
		return nil, &LoadError{Source: source, Err: err}
	}
	return t, nil
}

// LoadFile reads a taxonomy from a YAML file on disk.
func LoadFile(p string) (*Taxonomy, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, &LoadError{Source: p, Err: eris.Wrap(err, "read file")}
	}
	return Parse(p, data)
}

// Builtin loads one of the embedded taxonomies by name.
func Builtin(name string) (*Taxonomy, error) {
	data, err := builtinFS.ReadFile(path.Join("builtin", name+".yaml"))
	if err != nil {
		return nil, &LoadError{Source: name, Err: ErrUnknownTaxonomy}
	}
	return Parse(name, data)
}

// BuiltinNames lists the embedded taxonomy names.
func BuiltinNames() []string {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

func newTaxonomy(doc document) (*Taxonomy, error) {
	if strings.TrimSpace(doc.Name) == "" {
		return nil, eris.New("missing name")
	}
	if len(doc.Entities) == 0 {
		return nil, eris.New("no entities defined")
	}

	t := &Taxonomy{
		name:        doc.Name,
		description: doc.Description,
		entities:    make([]Entity, len(doc.Entities)),
		byLabel:     make(map[string]*Entity, len(doc.Entities)),
	}
	copy(t.entities, doc.Entities)

	for i := range t.entities {
		e := &t.entities[i]
		e.Label = strings.TrimSpace(e.Label)
		if e.Label == "" {
			return nil, eris.Errorf("entity %d: empty label", i)
		}
		if _, dup := t.byLabel[e.Label]; dup {
			return nil, eris.Errorf("duplicate label %q", e.Label)
		}
		for _, p := range e.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, eris.Wrapf(err, "label %q: compile pattern %q", e.Label, p)
			}
			e.compiled = append(e.compiled, re)
		}
		t.byLabel[e.Label] = e
		t.labels = append(t.labels, e.Label)
	}
	sort.Strings(t.labels)
	return t, nil
}

// Name returns the taxonomy identifier.
func (t *Taxonomy) Name() string { return t.name }

// Description returns the human-readable description.
func (t *Taxonomy) Description() string { return t.description }

// Labels returns the sorted label set.
func (t *Taxonomy) Labels() []string {
	return slices.Clone(t.labels)
}

// Has reports whether label is defined.
func (t *Taxonomy) Has(label string) bool {
	_, ok := t.byLabel[label]
	return ok
}

// Entity returns a copy of the definition for label.
func (t *Taxonomy) Entity(label string) (Entity, error) {
	e, ok := t.byLabel[label]
	if !ok {
		return Entity{}, &UnknownLabelError{Taxonomy: t.name, Label: label}
	}
	out := *e
	out.Patterns = slices.Clone(e.Patterns)
	out.Examples = slices.Clone(e.Examples)
	out.compiled = slices.Clone(e.compiled)
	return out, nil
}

// Entities returns the definitions in file order.
func (t *Taxonomy) Entities() []Entity {
	out := make([]Entity, 0, len(t.entities))
	for _, e := range t.entities {
		c, _ := t.Entity(e.Label)
		out = append(out, c)
	}
	return out
}

// CategoryOf returns the category of label.
func (t *Taxonomy) CategoryOf(label string) (string, error) {
	e, ok := t.byLabel[label]
	if !ok {
		return "", &UnknownLabelError{Taxonomy: t.name, Label: label}
	}
	return e.Category, nil
}

// PatternsOf returns the compiled validation patterns of label in order.
func (t *Taxonomy) PatternsOf(label string) ([]*regexp.Regexp, error) {
	e, ok := t.byLabel[label]
	if !ok {
		return nil, &UnknownLabelError{Taxonomy: t.name, Label: label}
	}
	return slices.Clone(e.compiled), nil
}

// Matches reports whether any pattern of label matches text. Unknown labels
// and labels without patterns never match.
func (t *Taxonomy) Matches(label, text string) bool {
	e, ok := t.byLabel[label]
	if !ok {
		return false
	}
	for _, re := range e.compiled {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Categories returns the distinct categories in first-seen order.
func (t *Taxonomy) Categories() []string {
	var out []string
	seen := make(map[string]bool)
	for _, e := range t.entities {
		if !seen[e.Category] {
			seen[e.Category] = true
			out = append(out, e.Category)
		}
	}
	return out
}
