package assistant

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"bizdash/analytics"
	"bizdash/chart"
	"bizdash/dataset"
	"bizdash/utils"
)

// DefaultMaxSourceBytes bounds the size of a single snippet
const DefaultMaxSourceBytes = 64 << 10

// ErrSecondFigure is returned when a snippet builds more than one figure
var ErrSecondFigure = errors.New("a snippet may build only one figure")

// Interpreter evaluates the plotting subset assistants write: plotly express
// and graph_objects calls over the bound tables, groupby aggregations and
// boolean row filters. Nothing is executed; unknown constructs are errors.
type Interpreter struct {
	MaxSourceBytes int
	// Logger receives recovered panics; nil discards them
	Logger *utils.Logger
}

type (
	tableVal struct {
		t *dataset.Table
		// sizeCol names the column a size() aggregation produced
		sizeCol string
	}
	columnVal struct {
		t    *dataset.Table
		name string
	}
	maskVal struct {
		t    *dataset.Table
		keep []bool
	}
	groupVal struct {
		t    *dataset.Table
		by   []string
		cols []string
	}
	moduleVal string
	filesVal  struct{}
	funcVal   string
	methodVal struct {
		recv any
		name string
	}
	traceVal struct{ tr chart.Trace }
	figVal   struct{ fig *chart.Figure }
)

type interp struct {
	ns     *Namespace
	locals map[string]any
	fig    *figVal
}

// Interpret evaluates src and returns the figure it built, or nil when it
// built none. Failures are *ExecutionError.
func (it Interpreter) Interpret(src string, ns *Namespace) (*chart.Figure, error) {
	fig, err := it.guarded(func() (*chart.Figure, error) { return it.interpret(src, ns) })
	if err != nil {
		return nil, &ExecutionError{Snippet: src, Err: err}
	}
	return fig, nil
}

func (it Interpreter) logger() *utils.Logger {
	if it.Logger == nil {
		return utils.NewNopLogger()
	}
	return it.Logger
}

// guarded runs fn, reporting a panic as an error
func (it Interpreter) guarded(fn func() (*chart.Figure, error)) (fig *chart.Figure, err error) {
	defer utils.RecoverInto(it.logger(), "snippet", &err)
	return fn()
}

func (it Interpreter) interpret(src string, ns *Namespace) (*chart.Figure, error) {
	limit := it.MaxSourceBytes
	if limit <= 0 {
		limit = DefaultMaxSourceBytes
	}
	if len(src) > limit {
		return nil, fmt.Errorf("snippet is %d bytes, limit is %d", len(src), limit)
	}
	stmts, err := parse(src)
	if err != nil {
		return nil, err
	}
	if ns == nil {
		ns = NewNamespace()
	}
	in := &interp{ns: ns, locals: make(map[string]any)}
	for _, s := range stmts {
		if err := in.exec(s); err != nil {
			return nil, err
		}
	}
	if in.fig == nil {
		return nil, nil
	}
	return in.fig.fig, nil
}

func errAt(n node, format string, args ...any) error {
	line, col := n.pos()
	return &SyntaxError{Line: line, Col: col, Msg: fmt.Sprintf(format, args...)}
}

// wrapAt keeps err matchable while adding the source position
func wrapAt(n node, err error) error {
	line, _ := n.pos()
	return fmt.Errorf("line %d: %w", line, err)
}

func (in *interp) exec(s stmt) error {
	switch s := s.(type) {
	case *importStmt:
		return nil
	case *assignStmt:
		v, err := in.eval(s.value)
		if err != nil {
			return err
		}
		if err := in.track(s, v); err != nil {
			return err
		}
		in.locals[s.target] = v
		return nil
	case *exprStmt:
		v, err := in.eval(s.x)
		if err != nil {
			return err
		}
		return in.track(s, v)
	}
	return errAt(s, "unsupported statement")
}

// track records the snippet's figure; a second distinct figure is an error
func (in *interp) track(n node, v any) error {
	f, ok := v.(*figVal)
	if !ok {
		return nil
	}
	if in.fig != nil && in.fig != f {
		return wrapAt(n, ErrSecondFigure)
	}
	in.fig = f
	return nil
}

func (in *interp) eval(n node) (any, error) {
	switch n := n.(type) {
	case *litNode:
		return n.val, nil
	case *nameNode:
		return in.lookup(n)
	case *listNode:
		out := make([]any, len(n.elems))
		for i, e := range n.elems {
			v, err := in.eval(e)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *dictNode:
		out := make(map[string]any, len(n.keys))
		for i, k := range n.keys {
			kv, err := in.eval(k)
			if err != nil {
				return nil, err
			}
			key, ok := kv.(string)
			if !ok {
				return nil, errAt(k, "dictionary keys must be strings")
			}
			v, err := in.eval(n.vals[i])
			if err != nil {
				return nil, err
			}
			out[key] = v
		}
		return out, nil
	case *unaryNode:
		return in.unary(n)
	case *binaryNode:
		return in.binary(n)
	case *attrNode:
		return in.attr(n)
	case *indexNode:
		return in.index(n)
	case *callNode:
		return in.call(n)
	}
	return nil, errAt(n, "unsupported expression")
}

func (in *interp) lookup(n *nameNode) (any, error) {
	if v, ok := in.locals[n.name]; ok {
		return v, nil
	}
	switch n.name {
	case "px", "go", "pd", "np":
		return moduleVal(n.name), nil
	case "dataframes":
		return filesVal{}, nil
	case "print", "len":
		return funcVal(n.name), nil
	}
	if t, ok := in.ns.tables[n.name]; ok {
		return &tableVal{t: t}, nil
	}
	return nil, errAt(n, "name %q is not defined", n.name)
}

func (in *interp) unary(n *unaryNode) (any, error) {
	v, err := in.eval(n.x)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "-", "+":
		f, ok := v.(float64)
		if !ok {
			return nil, errAt(n, "bad operand for unary %s", n.op)
		}
		if n.op == "-" {
			return -f, nil
		}
		return f, nil
	case "~":
		m, ok := v.(*maskVal)
		if !ok {
			return nil, errAt(n, "~ needs a boolean mask")
		}
		out := &maskVal{t: m.t, keep: make([]bool, len(m.keep))}
		for i, k := range m.keep {
			out.keep[i] = !k
		}
		return out, nil
	}
	return nil, errAt(n, "unsupported operator %s", n.op)
}

func (in *interp) binary(n *binaryNode) (any, error) {
	l, err := in.eval(n.l)
	if err != nil {
		return nil, err
	}
	r, err := in.eval(n.r)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "&", "|":
		lm, ok1 := l.(*maskVal)
		rm, ok2 := r.(*maskVal)
		if !ok1 || !ok2 {
			return nil, errAt(n, "%s combines boolean masks only", n.op)
		}
		if lm.t != rm.t {
			return nil, errAt(n, "masks come from different tables")
		}
		out := &maskVal{t: lm.t, keep: make([]bool, len(lm.keep))}
		for i := range lm.keep {
			if n.op == "&" {
				out.keep[i] = lm.keep[i] && rm.keep[i]
			} else {
				out.keep[i] = lm.keep[i] || rm.keep[i]
			}
		}
		return out, nil
	}

	col, lit, op := columnOperand(l, r, n.op)
	if col == nil {
		return nil, errAt(n, "comparisons need a column on one side")
	}
	return in.compareColumn(n, col, op, lit)
}

// columnOperand orders a comparison as column op literal
func columnOperand(l, r any, op string) (*columnVal, any, string) {
	if c, ok := l.(*columnVal); ok {
		return c, r, op
	}
	if c, ok := r.(*columnVal); ok {
		flipped := map[string]string{"<": ">", ">": "<", "<=": ">=", ">=": "<=", "==": "==", "!=": "!="}
		return c, l, flipped[op]
	}
	return nil, nil, op
}

func (in *interp) compareColumn(n node, c *columnVal, op string, lit any) (*maskVal, error) {
	col, _ := c.t.Column(c.name)
	want, err := literalFor(col, lit)
	if err != nil {
		return nil, errAt(n, "%v", err)
	}
	m := &maskVal{t: c.t, keep: make([]bool, c.t.Len())}
	for i := range m.keep {
		cmp, ok := compareCell(c.t.Value(i, c.name), want)
		if !ok {
			continue
		}
		switch op {
		case "==":
			m.keep[i] = cmp == 0
		case "!=":
			m.keep[i] = cmp != 0
		case "<":
			m.keep[i] = cmp < 0
		case "<=":
			m.keep[i] = cmp <= 0
		case ">":
			m.keep[i] = cmp > 0
		case ">=":
			m.keep[i] = cmp >= 0
		}
	}
	return m, nil
}

var dateLayouts = []string{"2006-01-02", "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01"}

// literalFor converts a literal to the column's value type
func literalFor(col dataset.Column, v any) (any, error) {
	switch col.Type {
	case dataset.Number:
		if f, ok := v.(float64); ok {
			return f, nil
		}
	case dataset.Date:
		if s, ok := v.(string); ok {
			for _, layout := range dateLayouts {
				if d, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
					return d, nil
				}
			}
			return nil, fmt.Errorf("cannot read %q as a date", s)
		}
	default:
		if s, ok := v.(string); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("cannot compare %s column %q with %v", col.Type, col.Name, v)
}

// compareCell orders a cell against a value of the same type; NaN never matches
func compareCell(cell, want any) (int, bool) {
	switch x := cell.(type) {
	case float64:
		y, ok := want.(float64)
		if !ok || math.IsNaN(x) {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case time.Time:
		y, ok := want.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	case string:
		y, ok := want.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	}
	return 0, false
}

func (in *interp) attr(n *attrNode) (any, error) {
	x, err := in.eval(n.x)
	if err != nil {
		return nil, err
	}
	switch x := x.(type) {
	case moduleVal:
		if x == "pd" || x == "np" {
			return nil, errAt(n, "%s.%s is not supported", x, n.name)
		}
		return &methodVal{recv: x, name: n.name}, nil
	case *tableVal:
		if x.t.Has(n.name) {
			return &columnVal{t: x.t, name: n.name}, nil
		}
		return &methodVal{recv: x, name: n.name}, nil
	case *groupVal, *figVal, *columnVal:
		return &methodVal{recv: x, name: n.name}, nil
	}
	return nil, errAt(n, "no attribute %q", n.name)
}

func (in *interp) index(n *indexNode) (any, error) {
	x, err := in.eval(n.x)
	if err != nil {
		return nil, err
	}
	idx, err := in.eval(n.index)
	if err != nil {
		return nil, err
	}
	switch x := x.(type) {
	case filesVal:
		key, ok := idx.(string)
		if !ok {
			return nil, errAt(n, "dataframes is indexed by file name")
		}
		t, ok := in.ns.files[key]
		if !ok {
			return nil, errAt(n, "no uploaded file %q", key)
		}
		return &tableVal{t: t}, nil
	case *tableVal:
		switch idx := idx.(type) {
		case string:
			if !x.t.Has(idx) {
				return nil, errAt(n, "unknown column %q", idx)
			}
			return &columnVal{t: x.t, name: idx}, nil
		case []any:
			names, ok := stringList(idx)
			if !ok {
				return nil, errAt(n, "column selection must list names")
			}
			t, err := project(x.t, names)
			if err != nil {
				return nil, errAt(n, "%v", err)
			}
			return &tableVal{t: t}, nil
		case *maskVal:
			if idx.t != x.t {
				return nil, errAt(n, "boolean mask was built from a different table")
			}
			var keep []int
			for i, k := range idx.keep {
				if k {
					keep = append(keep, i)
				}
			}
			return &tableVal{t: x.t.Subset(keep)}, nil
		}
		return nil, errAt(n, "unsupported table index")
	case *groupVal:
		var cols []string
		switch idx := idx.(type) {
		case string:
			cols = []string{idx}
		case []any:
			names, ok := stringList(idx)
			if !ok {
				return nil, errAt(n, "column selection must list names")
			}
			cols = names
		default:
			return nil, errAt(n, "unsupported group index")
		}
		for _, c := range cols {
			if !x.t.Has(c) {
				return nil, errAt(n, "unknown column %q", c)
			}
		}
		return &groupVal{t: x.t, by: x.by, cols: cols}, nil
	case map[string]any:
		key, ok := idx.(string)
		if !ok {
			return nil, errAt(n, "dictionary keys must be strings")
		}
		v, ok := x[key]
		if !ok {
			return nil, errAt(n, "no key %q", key)
		}
		return v, nil
	case []any:
		f, ok := idx.(float64)
		if !ok || f != math.Trunc(f) {
			return nil, errAt(n, "list index must be an integer")
		}
		i := int(f)
		if i < 0 {
			i += len(x)
		}
		if i < 0 || i >= len(x) {
			return nil, errAt(n, "list index out of range")
		}
		return x[i], nil
	}
	return nil, errAt(n, "value is not indexable")
}

type callArgs struct {
	pos   []any
	kw    map[string]any
	order []string
}

func (a callArgs) get(name string) (any, bool) {
	v, ok := a.kw[name]
	return v, ok
}

func (in *interp) call(n *callNode) (any, error) {
	fn, err := in.eval(n.fn)
	if err != nil {
		return nil, err
	}
	args := callArgs{kw: make(map[string]any, len(n.kwargs))}
	for _, a := range n.args {
		v, err := in.eval(a)
		if err != nil {
			return nil, err
		}
		args.pos = append(args.pos, v)
	}
	for _, kw := range n.kwargs {
		v, err := in.eval(kw.val)
		if err != nil {
			return nil, err
		}
		args.kw[kw.name] = v
		args.order = append(args.order, kw.name)
	}

	switch fn := fn.(type) {
	case funcVal:
		switch fn {
		case "print":
			return nil, nil
		case "len":
			if len(args.pos) != 1 {
				return nil, errAt(n, "len takes one argument")
			}
			switch v := args.pos[0].(type) {
			case *tableVal:
				return float64(v.t.Len()), nil
			case []any:
				return float64(len(v)), nil
			case string:
				return float64(len([]rune(v))), nil
			}
			return nil, errAt(n, "len of unsupported value")
		}
	case *methodVal:
		switch recv := fn.recv.(type) {
		case moduleVal:
			if recv == "px" {
				return in.express(n, fn.name, args)
			}
			return in.graphObjects(n, fn.name, args)
		case *tableVal:
			return in.tableMethod(n, recv, fn.name, args)
		case *groupVal:
			return in.groupMethod(n, recv, fn.name, args)
		case *figVal:
			return in.figMethod(n, recv, fn.name, args)
		case *columnVal:
			return in.columnMethod(n, recv, fn.name, args)
		}
	}
	return nil, errAt(n, "value is not callable")
}

func stringList(vs []any) ([]string, bool) {
	out := make([]string, len(vs))
	for i, v := range vs {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out[i] = s
	}
	return out, true
}

func numberList(vs []any) ([]float64, bool) {
	out := make([]float64, len(vs))
	for i, v := range vs {
		f, ok := v.(float64)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

func intArg(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// rebuild copies t under a new column list, transforming each row
func rebuild(t *dataset.Table, cols []dataset.Column, names []string) (*dataset.Table, error) {
	out := dataset.New(cols...)
	vals := make([]any, len(names))
	for i := 0; i < t.Len(); i++ {
		for j, name := range names {
			vals[j] = t.Value(i, name)
		}
		if err := out.AppendRow(vals...); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func project(t *dataset.Table, names []string) (*dataset.Table, error) {
	cols := make([]dataset.Column, len(names))
	seen := make(map[string]bool, len(names))
	for i, name := range names {
		c, ok := t.Column(name)
		if !ok {
			return nil, fmt.Errorf("unknown column %q", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("column %q selected twice", name)
		}
		seen[name] = true
		cols[i] = c
	}
	return rebuild(t, cols, names)
}

func renameColumn(t *dataset.Table, from, to string) (*dataset.Table, error) {
	if from == to {
		return t, nil
	}
	if t.Has(to) {
		return nil, fmt.Errorf("column %q already exists", to)
	}
	cols := t.Columns()
	names := t.ColumnNames()
	for i := range cols {
		if cols[i].Name == from {
			cols[i].Name = to
		}
	}
	return rebuild(t, cols, names)
}

func (in *interp) tableMethod(n *callNode, tv *tableVal, name string, args callArgs) (any, error) {
	t := tv.t
	switch name {
	case "copy":
		return &tableVal{t: t, sizeCol: tv.sizeCol}, nil
	case "head", "tail":
		count := 5
		if len(args.pos) > 0 {
			c, ok := intArg(args.pos[0])
			if !ok || c < 0 {
				return nil, errAt(n, "%s takes a row count", name)
			}
			count = c
		}
		if name == "head" {
			return &tableVal{t: t.Head(count)}, nil
		}
		start := t.Len() - count
		if start < 0 {
			start = 0
		}
		idx := make([]int, 0, t.Len()-start)
		for i := start; i < t.Len(); i++ {
			idx = append(idx, i)
		}
		return &tableVal{t: t.Subset(idx)}, nil
	case "groupby":
		var by []string
		if len(args.pos) > 0 {
			switch v := args.pos[0].(type) {
			case string:
				by = []string{v}
			case []any:
				by, _ = stringList(v)
			}
		} else if v, ok := args.get("by"); ok {
			switch v := v.(type) {
			case string:
				by = []string{v}
			case []any:
				by, _ = stringList(v)
			}
		}
		if len(by) == 0 {
			return nil, errAt(n, "groupby needs column names")
		}
		for _, b := range by {
			if !t.Has(b) {
				return nil, errAt(n, "unknown column %q", b)
			}
		}
		return &groupVal{t: t, by: by}, nil
	case "reset_index":
		if v, ok := args.get("name"); ok {
			newName, ok := v.(string)
			if !ok || tv.sizeCol == "" {
				return nil, errAt(n, "reset_index(name=...) follows size()")
			}
			out, err := renameColumn(t, tv.sizeCol, newName)
			if err != nil {
				return nil, errAt(n, "%v", err)
			}
			return &tableVal{t: out}, nil
		}
		return tv, nil
	case "sort_values":
		return in.sortValues(n, t, args)
	case "rename":
		cols, ok := args.get("columns")
		mapping, isMap := cols.(map[string]any)
		if !ok || !isMap {
			return nil, errAt(n, "rename needs columns={...}")
		}
		out := t
		for _, from := range sortedAnyKeys(mapping) {
			to, ok := mapping[from].(string)
			if !ok || !out.Has(from) {
				return nil, errAt(n, "cannot rename %q", from)
			}
			var err error
			if out, err = renameColumn(out, from, to); err != nil {
				return nil, errAt(n, "%v", err)
			}
		}
		return &tableVal{t: out}, nil
	case "dropna":
		var keep []int
		for i := 0; i < t.Len(); i++ {
			ok := true
			for _, c := range t.Columns() {
				if f, isNum := t.Value(i, c.Name).(float64); isNum && math.IsNaN(f) {
					ok = false
					break
				}
			}
			if ok {
				keep = append(keep, i)
			}
		}
		return &tableVal{t: t.Subset(keep)}, nil
	}
	return nil, errAt(n, "DataFrame.%s is not supported", name)
}

func sortedAnyKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (in *interp) sortValues(n *callNode, t *dataset.Table, args callArgs) (any, error) {
	var by []string
	v, ok := args.get("by")
	if !ok && len(args.pos) > 0 {
		v, ok = args.pos[0], true
	}
	switch v := v.(type) {
	case string:
		by = []string{v}
	case []any:
		by, _ = stringList(v)
	}
	if !ok || len(by) == 0 {
		return nil, errAt(n, "sort_values needs column names")
	}
	for _, b := range by {
		if !t.Has(b) {
			return nil, errAt(n, "unknown column %q", b)
		}
	}
	ascending := true
	if a, ok := args.get("ascending"); ok {
		b, isBool := a.(bool)
		if !isBool {
			return nil, errAt(n, "ascending must be True or False")
		}
		ascending = b
	}
	idx := make([]int, t.Len())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		for _, col := range by {
			c, _ := compareCell(t.Value(idx[a], col), t.Value(idx[b], col))
			if c != 0 {
				if ascending {
					return c < 0
				}
				return c > 0
			}
		}
		return false
	})
	return &tableVal{t: t.Subset(idx)}, nil
}

func (in *interp) columnMethod(n *callNode, c *columnVal, name string, args callArgs) (any, error) {
	switch name {
	case "isin":
		if len(args.pos) != 1 {
			return nil, errAt(n, "isin takes a list")
		}
		vals, ok := args.pos[0].([]any)
		if !ok {
			return nil, errAt(n, "isin takes a list")
		}
		m := &maskVal{t: c.t, keep: make([]bool, c.t.Len())}
		for _, v := range vals {
			part, err := in.compareColumn(n, c, "==", v)
			if err != nil {
				return nil, err
			}
			for i, k := range part.keep {
				m.keep[i] = m.keep[i] || k
			}
		}
		return m, nil
	case "sum", "mean", "min", "max", "count":
		op, _ := analytics.ParseOp(name)
		agg, err := analytics.Aggregate(c.t, nil, []analytics.Metric{{Column: c.name, Op: op, As: "value"}})
		if err != nil {
			return nil, wrapAt(n, err)
		}
		return agg.Value(0, "value"), nil
	}
	return nil, errAt(n, "Series.%s is not supported", name)
}

func (in *interp) groupMethod(n *callNode, g *groupVal, name string, args callArgs) (any, error) {
	switch name {
	case "size":
		out, err := analytics.Aggregate(g.t, g.by, []analytics.Metric{{Op: analytics.OpCount, As: "size"}})
		if err != nil {
			return nil, wrapAt(n, err)
		}
		return &tableVal{t: out, sizeCol: "size"}, nil
	case "sum", "mean", "min", "max", "count":
		op, _ := analytics.ParseOp(name)
		return in.aggregate(n, g, g.valueColumns(op), op)
	case "agg", "aggregate":
		return in.agg(n, g, args)
	}
	return nil, errAt(n, "GroupBy.%s is not supported", name)
}

// valueColumns are the selected columns, or every numeric non-key column
func (g *groupVal) valueColumns(op analytics.Op) []string {
	if len(g.cols) > 0 {
		return g.cols
	}
	var out []string
	for _, c := range g.t.Columns() {
		if contains(g.by, c.Name) {
			continue
		}
		if c.Type == dataset.Number || op == analytics.OpCount {
			out = append(out, c.Name)
		}
	}
	return out
}

func contains(vs []string, s string) bool {
	for _, v := range vs {
		if v == s {
			return true
		}
	}
	return false
}

func (in *interp) aggregate(n *callNode, g *groupVal, cols []string, op analytics.Op) (any, error) {
	metrics := make([]analytics.Metric, len(cols))
	for i, c := range cols {
		metrics[i] = analytics.Metric{Column: c, Op: op, As: c}
	}
	out, err := analytics.Aggregate(g.t, g.by, metrics)
	if err != nil {
		return nil, wrapAt(n, err)
	}
	return &tableVal{t: out}, nil
}

func (in *interp) agg(n *callNode, g *groupVal, args callArgs) (any, error) {
	var metrics []analytics.Metric
	switch {
	case len(args.pos) == 1:
		switch spec := args.pos[0].(type) {
		case string:
			op, err := analytics.ParseOp(spec)
			if err != nil {
				return nil, wrapAt(n, err)
			}
			return in.aggregate(n, g, g.valueColumns(op), op)
		case map[string]any:
			for _, col := range sortedAnyKeys(spec) {
				opName, ok := spec[col].(string)
				if !ok {
					return nil, errAt(n, "aggregation for %q must be a name", col)
				}
				op, err := analytics.ParseOp(opName)
				if err != nil {
					return nil, wrapAt(n, err)
				}
				metrics = append(metrics, analytics.Metric{Column: col, Op: op, As: col})
			}
		default:
			return nil, errAt(n, "unsupported agg argument")
		}
	case len(args.pos) == 0 && len(args.order) > 0:
		// named aggregation: total=('col', 'sum')
		for _, as := range args.order {
			pair, ok := args.kw[as].([]any)
			if !ok || len(pair) != 2 {
				return nil, errAt(n, "named aggregation %q needs (column, function)", as)
			}
			col, ok1 := pair[0].(string)
			opName, ok2 := pair[1].(string)
			if !ok1 || !ok2 {
				return nil, errAt(n, "named aggregation %q needs (column, function)", as)
			}
			op, err := analytics.ParseOp(opName)
			if err != nil {
				return nil, wrapAt(n, err)
			}
			metrics = append(metrics, analytics.Metric{Column: col, Op: op, As: as})
		}
	default:
		return nil, errAt(n, "agg takes one argument")
	}
	out, err := analytics.Aggregate(g.t, g.by, metrics)
	if err != nil {
		return nil, wrapAt(n, err)
	}
	return &tableVal{t: out}, nil
}

// cosmeticArgs are styling keywords that do not change the data drawn
var cosmeticArgs = map[string]bool{
	"template": true, "color_discrete_sequence": true, "color_discrete_map": true,
	"color_continuous_scale": true, "hover_data": true, "hover_name": true,
	"text": true, "text_auto": true, "markers": true, "height": true, "width": true,
	"opacity": true, "orientation": true, "log_x": true, "log_y": true,
	"category_orders": true, "facet_col": true, "facet_row": true, "symbol": true,
	"line_shape": true, "trendline": true, "marginal": true, "points": true,
	"notched": true, "histnorm": true, "range_x": true, "range_y": true,
	"marker": true, "line": true, "textposition": true, "hovertemplate": true,
	"showlegend": true, "fill": true, "marker_color": true, "line_color": true,
	"textinfo": true, "boxmean": true, "boxpoints": true, "legendgroup": true,
}

func (in *interp) express(n *callNode, fn string, args callArgs) (any, error) {
	kind := chart.Kind(fn)
	if !contains(chartKinds(), fn) {
		return nil, errAt(n, "px.%s is not supported", fn)
	}
	spec := chart.Spec{Kind: kind}
	var table *dataset.Table
	if len(args.pos) > 1 {
		return nil, errAt(n, "px.%s takes at most one positional argument", fn)
	}
	if len(args.pos) == 1 {
		tv, ok := args.pos[0].(*tableVal)
		if !ok {
			return nil, errAt(n, "px.%s expects a DataFrame", fn)
		}
		table = tv.t
	}
	if v, ok := args.get("data_frame"); ok {
		tv, isTable := v.(*tableVal)
		if !isTable || table != nil {
			return nil, errAt(n, "data_frame must be a single DataFrame")
		}
		table = tv.t
	}

	inline := &chart.Inline{}
	literal, bound := false, false
	bind := func(key string, v any) (string, error) {
		switch v := v.(type) {
		case string:
			bound = true
			return v, nil
		case *columnVal:
			if table == nil {
				table = v.t
			} else if !table.Has(v.name) {
				return "", fmt.Errorf("%s column %q is not in the plotted table", key, v.name)
			}
			bound = true
			return v.name, nil
		}
		return "", fmt.Errorf("%s must name a column", key)
	}

	for _, key := range args.order {
		v := args.kw[key]
		var err error
		switch key {
		case "data_frame":
		case "x":
			if list, ok := v.([]any); ok {
				literal = true
				inline.X = list
				continue
			}
			spec.X, err = bind(key, v)
		case "y":
			if list, ok := v.([]any); ok {
				if names, ok := stringList(list); ok && len(list) > 0 {
					spec.Y = names
					bound = true
					continue
				}
				nums, ok := numberList(list)
				if !ok {
					return nil, errAt(n, "y must list numbers or column names")
				}
				literal = true
				inline.Y = nums
				continue
			}
			var col string
			col, err = bind(key, v)
			spec.Y = chart.StringList{col}
		case "names":
			if list, ok := v.([]any); ok {
				names, ok := stringList(list)
				if !ok {
					return nil, errAt(n, "names must list strings")
				}
				literal = true
				inline.Names = names
				continue
			}
			spec.Names, err = bind(key, v)
		case "values":
			if list, ok := v.([]any); ok {
				nums, ok := numberList(list)
				if !ok {
					return nil, errAt(n, "values must list numbers")
				}
				literal = true
				inline.Values = nums
				continue
			}
			spec.Values, err = bind(key, v)
		case "color":
			spec.Color, err = bind(key, v)
		case "size":
			spec.Size, err = bind(key, v)
		case "title":
			s, ok := v.(string)
			if !ok {
				return nil, errAt(n, "title must be a string")
			}
			spec.Title = s
		case "labels":
			m, ok := v.(map[string]any)
			if !ok {
				return nil, errAt(n, "labels must be a dict")
			}
			spec.Labels = make(map[string]string, len(m))
			for k, lv := range m {
				s, ok := lv.(string)
				if !ok {
					return nil, errAt(n, "label for %q must be a string", k)
				}
				spec.Labels[k] = s
			}
		case "nbins":
			b, ok := intArg(v)
			if !ok {
				return nil, errAt(n, "nbins must be an integer")
			}
			spec.Bins = b
		case "hole":
			f, ok := v.(float64)
			if !ok {
				return nil, errAt(n, "hole must be a number")
			}
			spec.Hole = f
		case "barmode":
			s, ok := v.(string)
			if !ok {
				return nil, errAt(n, "barmode must be a string")
			}
			spec.BarMode = s
		default:
			if !cosmeticArgs[key] {
				return nil, errAt(n, "px.%s: unsupported argument %q", fn, key)
			}
		}
		if err != nil {
			return nil, errAt(n, "%v", err)
		}
	}

	if literal {
		if bound {
			return nil, errAt(n, "px.%s mixes literal data with column names", fn)
		}
		spec.Inline = inline
		table = nil
	}
	fig, err := chart.Build(table, spec)
	if err != nil {
		return nil, wrapAt(n, err)
	}
	return &figVal{fig: fig}, nil
}

func chartKinds() []string {
	var out []string
	for _, k := range chart.Kinds() {
		out = append(out, string(k))
	}
	return out
}

var traceKinds = map[string]chart.Kind{
	"Bar":       chart.Bar,
	"Scatter":   chart.Scatter,
	"Pie":       chart.Pie,
	"Histogram": chart.Histogram,
	"Box":       chart.Box,
}

func (in *interp) graphObjects(n *callNode, fn string, args callArgs) (any, error) {
	switch fn {
	case "Figure":
		fig := &chart.Figure{Data: []chart.Trace{}}
		data, ok := args.get("data")
		if !ok && len(args.pos) > 0 {
			data, ok = args.pos[0], true
		}
		if ok {
			switch d := data.(type) {
			case *traceVal:
				fig.Data = append(fig.Data, d.tr)
			case []any:
				for _, e := range d {
					tr, isTrace := e.(*traceVal)
					if !isTrace {
						return nil, errAt(n, "go.Figure data must hold traces")
					}
					fig.Data = append(fig.Data, tr.tr)
				}
			default:
				return nil, errAt(n, "go.Figure data must hold traces")
			}
		}
		if l, ok := args.get("layout"); ok {
			m, isMap := l.(map[string]any)
			if !isMap {
				return nil, errAt(n, "layout must be a dict or go.Layout")
			}
			if err := applyLayout(fig, m, sortedAnyKeys(m)); err != nil {
				return nil, errAt(n, "%v", err)
			}
		}
		return &figVal{fig: fig}, nil
	case "Layout":
		out := make(map[string]any, len(args.kw))
		for k, v := range args.kw {
			out[k] = v
		}
		return out, nil
	}
	kind, ok := traceKinds[fn]
	if !ok {
		return nil, errAt(n, "go.%s is not supported", fn)
	}
	tr, err := in.trace(kind, args)
	if err != nil {
		return nil, errAt(n, "go.%s: %v", fn, err)
	}
	return &traceVal{tr: tr}, nil
}

// traceData reads literal lists or table columns into plot values
func traceData(v any) ([]any, error) {
	switch v := v.(type) {
	case []any:
		return v, nil
	case *columnVal:
		return chart.ColumnValues(v.t, v.name), nil
	}
	return nil, fmt.Errorf("expected a list or a column")
}

func traceNumbers(v any) ([]float64, error) {
	switch v := v.(type) {
	case []any:
		nums, ok := numberList(v)
		if !ok {
			return nil, fmt.Errorf("expected numbers")
		}
		return nums, nil
	case *columnVal:
		if c, _ := v.t.Column(v.name); c.Type != dataset.Number {
			return nil, fmt.Errorf("column %q is not numeric", v.name)
		}
		return v.t.Numbers(v.name), nil
	}
	return nil, fmt.Errorf("expected a list or a column")
}

func traceStrings(v any) ([]string, error) {
	switch v := v.(type) {
	case []any:
		out := make([]string, len(v))
		for i, e := range v {
			out[i] = dataset.FormatValue(e)
		}
		return out, nil
	case *columnVal:
		out := make([]string, v.t.Len())
		for i := range out {
			out[i] = dataset.FormatValue(v.t.Value(i, v.name))
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a list or a column")
}

func (in *interp) trace(kind chart.Kind, args callArgs) (chart.Trace, error) {
	if len(args.pos) > 0 {
		return chart.Trace{}, fmt.Errorf("arguments must be passed by keyword")
	}
	spec := chart.Spec{Kind: kind, Inline: &chart.Inline{}}
	mode := ""
	orientation := ""
	for _, key := range args.order {
		v := args.kw[key]
		var err error
		switch key {
		case "x":
			if kind == chart.Box || kind == chart.Histogram || kind == chart.Bar || kind == chart.Scatter {
				spec.Inline.X, err = traceData(v)
			}
		case "y":
			if kind == chart.Histogram {
				return chart.Trace{}, fmt.Errorf("histogram traces take x values")
			}
			spec.Inline.Y, err = traceNumbers(v)
		case "labels":
			spec.Inline.Names, err = traceStrings(v)
		case "values":
			spec.Inline.Values, err = traceNumbers(v)
		case "name":
			s, ok := v.(string)
			if !ok {
				return chart.Trace{}, fmt.Errorf("name must be a string")
			}
			spec.Name = s
		case "mode":
			s, ok := v.(string)
			if !ok {
				return chart.Trace{}, fmt.Errorf("mode must be a string")
			}
			mode = s
		case "orientation":
			s, ok := v.(string)
			if !ok || (s != "h" && s != "v") {
				return chart.Trace{}, fmt.Errorf("orientation must be 'h' or 'v'")
			}
			orientation = s
		case "hole":
			f, ok := v.(float64)
			if !ok {
				return chart.Trace{}, fmt.Errorf("hole must be a number")
			}
			spec.Hole = f
		case "nbinsx":
			b, ok := intArg(v)
			if !ok {
				return chart.Trace{}, fmt.Errorf("nbinsx must be an integer")
			}
			spec.Bins = b
		default:
			if !cosmeticArgs[key] {
				return chart.Trace{}, fmt.Errorf("unsupported argument %q", key)
			}
		}
		if err != nil {
			return chart.Trace{}, fmt.Errorf("%s: %w", key, err)
		}
	}
	if kind == chart.Scatter && strings.Contains(mode, "lines") {
		spec.Kind = chart.Line
	}
	if kind == chart.Bar && orientation == "h" {
		// horizontal bars carry numbers on x
		spec.Inline.X, spec.Inline.Y = nil, nil
		xs, err := traceNumbers(args.kw["x"])
		if err != nil {
			return chart.Trace{}, fmt.Errorf("x: %w", err)
		}
		ys, err := traceData(args.kw["y"])
		if err != nil {
			return chart.Trace{}, fmt.Errorf("y: %w", err)
		}
		spec.Inline.X, spec.Inline.Y = ys, xs
		fig, err := chart.Build(nil, spec)
		if err != nil {
			return chart.Trace{}, err
		}
		tr := fig.Data[0]
		tr.X, tr.Y = tr.Y, tr.X
		tr.Orientation = "h"
		return tr, nil
	}
	fig, err := chart.Build(nil, spec)
	if err != nil {
		return chart.Trace{}, err
	}
	tr := fig.Data[0]
	if mode != "" {
		tr.Mode = mode
	}
	if orientation != "" {
		tr.Orientation = orientation
	}
	return tr, nil
}

func (in *interp) figMethod(n *callNode, f *figVal, name string, args callArgs) (any, error) {
	switch name {
	case "show", "write_html", "write_image", "to_json":
		return nil, nil
	case "add_trace":
		var tv any
		if len(args.pos) == 1 {
			tv = args.pos[0]
		} else if v, ok := args.get("trace"); ok {
			tv = v
		}
		tr, ok := tv.(*traceVal)
		if !ok {
			return nil, errAt(n, "add_trace takes a go trace")
		}
		f.fig.Data = append(f.fig.Data, tr.tr)
		return f, nil
	case "update_layout":
		if len(args.pos) == 1 {
			m, ok := args.pos[0].(map[string]any)
			if !ok {
				return nil, errAt(n, "update_layout takes a dict")
			}
			if err := applyLayout(f.fig, m, sortedAnyKeys(m)); err != nil {
				return nil, errAt(n, "%v", err)
			}
		}
		if err := applyLayout(f.fig, args.kw, args.order); err != nil {
			return nil, errAt(n, "%v", err)
		}
		return f, nil
	case "update_xaxes", "update_yaxes":
		if v, ok := args.get("title_text"); ok {
			s, isStr := v.(string)
			if !isStr {
				return nil, errAt(n, "title_text must be a string")
			}
			if name == "update_xaxes" {
				f.fig.Layout.XAxis = &chart.Axis{Title: &chart.Text{Text: s}}
			} else {
				f.fig.Layout.YAxis = &chart.Axis{Title: &chart.Text{Text: s}}
			}
		}
		return f, nil
	case "update_traces":
		return f, nil
	}
	return nil, errAt(n, "Figure.%s is not supported", name)
}

var cosmeticLayout = []string{
	"template", "hovermode", "legend", "height", "width", "margin", "plot_bgcolor",
	"paper_bgcolor", "font", "bargap", "bargroupgap", "autosize", "uniformtext",
	"hoverlabel", "title_x", "title_y", "title_font", "title_xanchor", "title_yanchor",
	"xaxis_tick", "yaxis_tick", "xaxis_range", "yaxis_range", "xaxis_showgrid",
	"yaxis_showgrid", "coloraxis", "xaxis_type", "yaxis_type",
}

func titleText(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case map[string]any:
		if s, ok := v["text"].(string); ok {
			return s, nil
		}
	}
	return "", fmt.Errorf("title must be a string or {'text': ...}")
}

func applyLayout(fig *chart.Figure, kw map[string]any, order []string) error {
	for _, key := range order {
		v := kw[key]
		switch key {
		case "title", "title_text":
			s, err := titleText(v)
			if err != nil {
				return err
			}
			fig.SetTitle(s)
		case "xaxis_title", "xaxis_title_text":
			s, err := titleText(v)
			if err != nil {
				return err
			}
			fig.SetAxisTitles(s, "")
		case "yaxis_title", "yaxis_title_text":
			s, err := titleText(v)
			if err != nil {
				return err
			}
			fig.SetAxisTitles("", s)
		case "xaxis", "yaxis":
			m, ok := v.(map[string]any)
			if !ok {
				return fmt.Errorf("%s must be a dict", key)
			}
			t, ok := m["title"]
			if !ok {
				continue
			}
			s, err := titleText(t)
			if err != nil {
				return err
			}
			if key == "xaxis" {
				fig.SetAxisTitles(s, "")
			} else {
				fig.SetAxisTitles("", s)
			}
		case "legend_title", "legend_title_text":
			s, err := titleText(v)
			if err != nil {
				return err
			}
			fig.Layout.Legend = &chart.Legend{Title: &chart.Text{Text: s}}
		case "showlegend":
			b, ok := v.(bool)
			if !ok {
				return fmt.Errorf("showlegend must be True or False")
			}
			fig.SetShowLegend(b)
		case "barmode":
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("barmode must be a string")
			}
			fig.Layout.BarMode = s
		default:
			if !hasAnyPrefix(key, cosmeticLayout) {
				return fmt.Errorf("unsupported layout attribute %q", key)
			}
		}
	}
	return nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
