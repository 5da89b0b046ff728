package assistant

import (
	"sort"

	"bizdash/dataset"
)

// Namespace binds the names plotting code may reference: plain table names
// such as df and df_filtered, and uploaded files reachable through
// dataframes['name']. Tables are never modified by the interpreter.
type Namespace struct {
	tables map[string]*dataset.Table
	files  map[string]*dataset.Table
}

// NewNamespace creates an empty namespace
func NewNamespace() *Namespace {
	return &Namespace{
		tables: make(map[string]*dataset.Table),
		files:  make(map[string]*dataset.Table),
	}
}

// Bind makes t available under name
func (n *Namespace) Bind(name string, t *dataset.Table) *Namespace {
	n.tables[name] = t
	return n
}

// BindFile makes t available as dataframes[key]
func (n *Namespace) BindFile(key string, t *dataset.Table) *Namespace {
	n.files[key] = t
	return n
}

// Lookup resolves a table by name, then by file key
func (n *Namespace) Lookup(name string) (*dataset.Table, bool) {
	if t, ok := n.tables[name]; ok {
		return t, true
	}
	t, ok := n.files[name]
	return t, ok
}

// Default is the table charts read when none is named
func (n *Namespace) Default() (*dataset.Table, bool) {
	for _, name := range []string{"df_filtered", "df"} {
		if t, ok := n.tables[name]; ok {
			return t, true
		}
	}
	if len(n.files) == 1 {
		for _, t := range n.files {
			return t, true
		}
	}
	return nil, false
}

// Names lists the bound table names
func (n *Namespace) Names() []string {
	return sortedKeys(n.tables)
}

// Files lists the bound file keys
func (n *Namespace) Files() []string {
	return sortedKeys(n.files)
}

func sortedKeys(m map[string]*dataset.Table) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
