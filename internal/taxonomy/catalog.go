package taxonomy

import (
	"sort"
)

// Catalog is the process-wide set of loaded taxonomies. It is built once at
// startup and never mutated afterwards.
type Catalog struct {
	byName map[string]*Taxonomy
}

// NewCatalog indexes the given taxonomies by name. Later entries replace
// earlier ones with the same name.
func NewCatalog(ts ...*Taxonomy) *Catalog {
	c := &Catalog{byName: make(map[string]*Taxonomy, len(ts))}
	for _, t := range ts {
		if t != nil {
			c.byName[t.Name()] = t
		}
	}
	return c
}

// LoadCatalog loads every built-in taxonomy plus the given YAML files. Any
// load failure is returned as a *LoadError.
func LoadCatalog(extraPaths ...string) (*Catalog, error) {
	var ts []*Taxonomy
	for _, name := range BuiltinNames() {
		t, err := Builtin(name)
		if err != nil {
			return nil, err
		}
		ts = append(ts, t)
	}
	for _, p := range extraPaths {
		if p == "" {
			continue
		}
		t, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		ts = append(ts, t)
	}
	return NewCatalog(ts...), nil
}

// Get returns the taxonomy registered under name.
func (c *Catalog) Get(name string) (*Taxonomy, error) {
	t, ok := c.byName[name]
	if !ok {
		return nil, &LoadError{Source: name, Err: ErrUnknownTaxonomy}
	}
	return t, nil
}

// Names returns the sorted taxonomy names.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for n := range c.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
