package assistant

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// SyntaxError locates a problem in plotting code
type SyntaxError struct {
	Line int
	Col  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d:%d: %s", e.Line, e.Col, e.Msg)
}

type node interface {
	pos() (line, col int)
}

type at struct{ line, col int }

func (a at) pos() (int, int) { return a.line, a.col }

type (
	litNode struct {
		at
		val any // string, float64, bool or nil
	}
	nameNode struct {
		at
		name string
	}
	attrNode struct {
		at
		x    node
		name string
	}
	kwarg struct {
		name string
		val  node
	}
	callNode struct {
		at
		fn     node
		args   []node
		kwargs []kwarg
	}
	indexNode struct {
		at
		x     node
		index node
	}
	listNode struct {
		at
		elems []node
	}
	dictNode struct {
		at
		keys []node
		vals []node
	}
	unaryNode struct {
		at
		op string
		x  node
	}
	binaryNode struct {
		at
		op   string
		l, r node
	}
)

type stmt interface{ node }

type (
	assignStmt struct {
		at
		target string
		value  node
	}
	exprStmt struct {
		at
		x node
	}
	importStmt struct{ at }
)

// forbidden names reach code execution or the interpreter's internals
var forbidden = map[string]bool{
	"exec": true, "eval": true, "compile": true, "open": true,
	"globals": true, "locals": true, "vars": true,
	"getattr": true, "setattr": true, "delattr": true,
}

var comparisonOps = map[string]bool{"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}

// parse reads plotting code with the tree-sitter Python grammar and lowers
// the statements the interpreter understands into its own nodes
func parse(src string) ([]stmt, error) {
	content := []byte(src)
	p := sitter.NewParser()
	defer p.Close()
	p.SetLanguage(python.GetLanguage())

	tree, err := p.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		bad := firstError(root)
		if bad.IsMissing() {
			return nil, errorf(bad, "expected %q", bad.Type())
		}
		return nil, errorf(bad, "invalid syntax near %q", firstLine(bad.Content(content)))
	}

	l := lowering{src: content}
	var out []stmt
	for _, n := range namedChildren(root) {
		s, err := l.statement(n)
		if err != nil {
			return nil, err
		}
		if s != nil {
			out = append(out, s)
		}
	}
	return out, nil
}

func posOf(n *sitter.Node) at {
	p := n.StartPoint()
	return at{line: int(p.Row) + 1, col: int(p.Column) + 1}
}

func errorf(n *sitter.Node, format string, args ...any) error {
	p := posOf(n)
	return &SyntaxError{Line: p.line, Col: p.col, Msg: fmt.Sprintf(format, args...)}
}

// firstError returns the earliest ERROR or MISSING node under n
func firstError(n *sitter.Node) *sitter.Node {
	if n.Type() == "ERROR" || n.IsMissing() {
		return n
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.HasError() || c.IsMissing() {
			return firstError(c)
		}
	}
	return n
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// namedChildren skips comments, which the grammar attaches anywhere
func namedChildren(n *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "comment", "line_continuation":
			continue
		}
		out = append(out, c)
	}
	return out
}

// describe turns a grammar node type into words for error messages
func describe(typ string) string {
	return strings.ReplaceAll(strings.TrimSuffix(typ, "_statement"), "_", " ")
}

type lowering struct {
	src []byte
}

func (l lowering) text(n *sitter.Node) string { return n.Content(l.src) }

func (l lowering) statement(n *sitter.Node) (stmt, error) {
	switch n.Type() {
	case "import_statement", "import_from_statement", "future_import_statement":
		return &importStmt{posOf(n)}, nil
	case "pass_statement":
		return nil, nil
	case "expression_statement":
	default:
		return nil, errorf(n, "%q statements are not supported", describe(n.Type()))
	}

	kids := namedChildren(n)
	if len(kids) != 1 {
		return nil, errorf(n, "tuple expressions are not supported")
	}
	x := kids[0]
	switch x.Type() {
	case "assignment":
		left, right := x.ChildByFieldName("left"), x.ChildByFieldName("right")
		if right == nil {
			return nil, errorf(x, "annotations without a value are not supported")
		}
		if left.Type() != "identifier" {
			return nil, errorf(left, "only assignments to plain names are supported")
		}
		if right.Type() == "assignment" {
			return nil, errorf(right, "chained assignments are not supported")
		}
		v, err := l.expr(right)
		if err != nil {
			return nil, err
		}
		return &assignStmt{at: posOf(x), target: l.text(left), value: v}, nil
	case "augmented_assignment":
		return nil, errorf(x, "augmented assignment is not supported")
	}
	v, err := l.expr(x)
	if err != nil {
		return nil, err
	}
	return &exprStmt{at: posOf(x), x: v}, nil
}

func (l lowering) expr(n *sitter.Node) (node, error) {
	pos := posOf(n)
	switch n.Type() {
	case "identifier":
		name := l.text(n)
		if forbidden[name] || strings.HasPrefix(name, "__") {
			return nil, errorf(n, "%q is not supported", name)
		}
		return &nameNode{at: pos, name: name}, nil
	case "integer", "float":
		return l.number(n)
	case "string":
		s, err := l.str(n)
		if err != nil {
			return nil, err
		}
		return &litNode{at: pos, val: s}, nil
	case "concatenated_string":
		var b strings.Builder
		for _, part := range namedChildren(n) {
			s, err := l.str(part)
			if err != nil {
				return nil, err
			}
			b.WriteString(s)
		}
		return &litNode{at: pos, val: b.String()}, nil
	case "true":
		return &litNode{at: pos, val: true}, nil
	case "false":
		return &litNode{at: pos, val: false}, nil
	case "none":
		return &litNode{at: pos, val: nil}, nil
	case "parenthesized_expression":
		kids := namedChildren(n)
		if len(kids) != 1 {
			return nil, errorf(n, "invalid parenthesized expression")
		}
		return l.expr(kids[0])
	case "list", "tuple":
		// tuples are read as lists
		list := &listNode{at: pos}
		for _, c := range namedChildren(n) {
			e, err := l.expr(c)
			if err != nil {
				return nil, err
			}
			list.elems = append(list.elems, e)
		}
		return list, nil
	case "dictionary":
		dict := &dictNode{at: pos}
		for _, c := range namedChildren(n) {
			if c.Type() != "pair" {
				return nil, errorf(c, "%q in a dict literal is not supported", describe(c.Type()))
			}
			k, err := l.expr(c.ChildByFieldName("key"))
			if err != nil {
				return nil, err
			}
			v, err := l.expr(c.ChildByFieldName("value"))
			if err != nil {
				return nil, err
			}
			dict.keys = append(dict.keys, k)
			dict.vals = append(dict.vals, v)
		}
		return dict, nil
	case "unary_operator":
		x, err := l.expr(n.ChildByFieldName("argument"))
		if err != nil {
			return nil, err
		}
		return &unaryNode{at: pos, op: n.ChildByFieldName("operator").Type(), x: x}, nil
	case "not_operator":
		return nil, errorf(n, "\"not\" is not supported, use ~ on masks")
	case "binary_operator":
		op := n.ChildByFieldName("operator").Type()
		if op != "&" && op != "|" {
			return nil, errorf(n, "operator %q is not supported", op)
		}
		left, err := l.expr(n.ChildByFieldName("left"))
		if err != nil {
			return nil, err
		}
		right, err := l.expr(n.ChildByFieldName("right"))
		if err != nil {
			return nil, err
		}
		return &binaryNode{at: pos, op: op, l: left, r: right}, nil
	case "comparison_operator":
		return l.comparison(n)
	case "attribute":
		x, err := l.expr(n.ChildByFieldName("object"))
		if err != nil {
			return nil, err
		}
		attr := n.ChildByFieldName("attribute")
		name := l.text(attr)
		if strings.HasPrefix(name, "__") {
			return nil, errorf(attr, "%q is not supported", name)
		}
		return &attrNode{at: posOf(attr), x: x, name: name}, nil
	case "call":
		return l.call(n)
	case "subscript":
		kids := namedChildren(n)
		if len(kids) != 2 {
			return nil, errorf(n, "multi-dimensional indexing is not supported")
		}
		if kids[1].Type() == "slice" {
			return nil, errorf(kids[1], "slices are not supported")
		}
		x, err := l.expr(kids[0])
		if err != nil {
			return nil, err
		}
		idx, err := l.expr(kids[1])
		if err != nil {
			return nil, err
		}
		return &indexNode{at: pos, x: x, index: idx}, nil
	}
	return nil, errorf(n, "%q is not supported", describe(n.Type()))
}

func (l lowering) comparison(n *sitter.Node) (node, error) {
	var (
		operands []*sitter.Node
		ops      []string
	)
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch {
		case c.Type() == "comment":
		case c.IsNamed():
			operands = append(operands, c)
		case len(ops) < len(operands):
			ops = append(ops, c.Type())
		default:
			// two-word operators such as "not in" and "is not"
			ops[len(ops)-1] += " " + c.Type()
		}
	}
	if len(operands) != 2 {
		return nil, errorf(n, "chained comparisons are not supported")
	}
	if !comparisonOps[ops[0]] {
		return nil, errorf(n, "comparison %q is not supported", ops[0])
	}
	left, err := l.expr(operands[0])
	if err != nil {
		return nil, err
	}
	right, err := l.expr(operands[1])
	if err != nil {
		return nil, err
	}
	return &binaryNode{at: posOf(n), op: ops[0], l: left, r: right}, nil
}

func (l lowering) call(n *sitter.Node) (node, error) {
	fn, err := l.expr(n.ChildByFieldName("function"))
	if err != nil {
		return nil, err
	}
	call := &callNode{at: posOf(n), fn: fn}

	args := n.ChildByFieldName("arguments")
	if args.Type() != "argument_list" {
		return nil, errorf(args, "generator arguments are not supported")
	}
	for _, a := range namedChildren(args) {
		switch a.Type() {
		case "keyword_argument":
			name := l.text(a.ChildByFieldName("name"))
			for _, kw := range call.kwargs {
				if kw.name == name {
					return nil, errorf(a, "keyword argument %q repeated", name)
				}
			}
			v, err := l.expr(a.ChildByFieldName("value"))
			if err != nil {
				return nil, err
			}
			call.kwargs = append(call.kwargs, kwarg{name: name, val: v})
		case "list_splat", "dictionary_splat":
			return nil, errorf(a, "argument unpacking is not supported")
		default:
			if len(call.kwargs) > 0 {
				return nil, errorf(a, "positional argument follows keyword argument")
			}
			v, err := l.expr(a)
			if err != nil {
				return nil, err
			}
			call.args = append(call.args, v)
		}
	}
	return call, nil
}

func (l lowering) number(n *sitter.Node) (node, error) {
	text := strings.ReplaceAll(l.text(n), "_", "")
	if strings.HasSuffix(text, "j") || strings.HasSuffix(text, "J") {
		return nil, errorf(n, "complex numbers are not supported")
	}
	if n.Type() == "integer" {
		if i, err := strconv.ParseInt(text, 0, 64); err == nil {
			return &litNode{at: posOf(n), val: float64(i)}, nil
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, errorf(n, "invalid number %q", text)
	}
	return &litNode{at: posOf(n), val: f}, nil
}

// str decodes a plain quoted literal with the common backslash escapes.
// Prefixed literals (f, r, b) are rejected.
func (l lowering) str(n *sitter.Node) (string, error) {
	text := l.text(n)
	quote := strings.IndexAny(text, `'"`)
	if quote < 0 {
		return "", errorf(n, "invalid string literal")
	}
	if quote > 0 {
		return "", errorf(n, "string prefix %q is not supported", text[:quote])
	}
	delim := text[:1]
	if strings.HasPrefix(text, strings.Repeat(delim, 3)) && len(text) >= 6 {
		delim = strings.Repeat(delim, 3)
	}
	body := strings.TrimSuffix(strings.TrimPrefix(text, delim), delim)

	var b strings.Builder
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' || i+1 == len(body) {
			b.WriteByte(c)
			continue
		}
		i++
		switch e := body[i]; e {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case '\\', '\'', '"':
			b.WriteByte(e)
		case '\n':
		default:
			b.WriteByte('\\')
			b.WriteByte(e)
		}
	}
	return b.String(), nil
}
