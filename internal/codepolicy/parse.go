package codepolicy

import (
	"errors"
	"strings"
)

type importNode struct {
	module string
	line   int
}

func (n importNode) root() string {
	if i := strings.IndexByte(n.module, '.'); i >= 0 {
		return n.module[:i]
	}
	return n.module
}

type callNode struct {
	target string // dotted path as written, e.g. "importlib.import_module"
	line   int
}

type attrNode struct {
	name string // single attribute component
	line int
}

type nameNode struct {
	name string
	line int
}

type program struct {
	imports []importNode
	calls   []callNode
	attrs   []attrNode
	names   []nameNode
}

func asSyntaxError(err error, target **syntaxError) bool {
	return errors.As(err, target)
}

// parse builds a flat statement-level view of the source: every import,
// every call target, every attribute access, every bare name reference.
// That is all the capability policy needs; full expression structure is
// deliberately not modelled.
func parse(src string) (*program, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	prog := &program{}

	i := 0
	for i < len(toks) {
		t := toks[i]
		if t.kind != tokName {
			i++
			continue
		}
		switch t.text {
		case "import":
			i = parseImport(prog, toks, i+1)
		case "from":
			i = parseFromImport(prog, toks, i+1)
		default:
			i = parseChain(prog, toks, i)
		}
	}
	return prog, nil
}

// parseImport handles `import a.b as c, d.e` starting after the keyword.
func parseImport(prog *program, toks []token, i int) int {
	for i < len(toks) {
		mod, next := dottedName(toks, i)
		if mod == "" {
			return i + 1
		}
		prog.imports = append(prog.imports, importNode{module: mod, line: toks[i].line})
		i = next
		// optional "as alias"
		if i < len(toks) && toks[i].kind == tokName && toks[i].text == "as" {
			i += 2
		}
		if i < len(toks) && toks[i].kind == tokOp && toks[i].text == "," {
			i++
			continue
		}
		return i
	}
	return i
}

// parseFromImport handles `from a.b import x, y` starting after "from".
func parseFromImport(prog *program, toks []token, i int) int {
	mod, next := dottedName(toks, i)
	if mod == "" {
		return i + 1
	}
	prog.imports = append(prog.imports, importNode{module: mod, line: toks[i].line})
	i = next
	if i < len(toks) && toks[i].kind == tokName && toks[i].text == "import" {
		i++
	}
	return i
}

// parseChain consumes a dotted name chain starting at a plain name and
// records the resulting name/attr/call nodes.
func parseChain(prog *program, toks []token, i int) int {
	start := i
	parts := []string{toks[i].text}
	if i > 0 && toks[i-1].kind == tokOp && toks[i-1].text == "." {
		// chain hanging off a non-name expression, e.g. `f().__globals__`
		prog.attrs = append(prog.attrs, attrNode{name: toks[i].text, line: toks[i].line})
	} else {
		prog.names = append(prog.names, nameNode{name: toks[i].text, line: toks[i].line})
	}
	i++
	for i+1 < len(toks) && toks[i].kind == tokOp && toks[i].text == "." && toks[i+1].kind == tokName {
		prog.attrs = append(prog.attrs, attrNode{name: toks[i+1].text, line: toks[i+1].line})
		parts = append(parts, toks[i+1].text)
		i += 2
	}
	if i < len(toks) && toks[i].kind == tokOp && toks[i].text == "(" {
		prog.calls = append(prog.calls, callNode{target: strings.Join(parts, "."), line: toks[start].line})
	}
	return i
}

func dottedName(toks []token, i int) (string, int) {
	if i >= len(toks) || toks[i].kind != tokName {
		return "", i
	}
	parts := []string{toks[i].text}
	i++
	for i+1 < len(toks) && toks[i].kind == tokOp && toks[i].text == "." && toks[i+1].kind == tokName {
		parts = append(parts, toks[i+1].text)
		i += 2
	}
	return strings.Join(parts, "."), i
}
