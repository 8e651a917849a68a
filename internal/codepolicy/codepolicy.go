// Package codepolicy statically validates candidate code against a
// capability policy before it is handed to the sandbox. The validator is
// pure: no I/O, no shared state, safe for concurrent use.
package codepolicy

import (
	"fmt"
	"strings"
)

// Level selects how restrictive validation is.
type Level int

const (
	// LevelStrict allows only modules on the explicit allow-list.
	LevelStrict Level = iota
	// LevelNormal allows anything not on the deny-list.
	LevelNormal
	// LevelLegacy performs keyword scanning only, for callers that submit
	// fragments the parser cannot handle.
	LevelLegacy
)

// ParseLevel maps a configuration string to a Level. Unrecognized values
// fall back to LevelStrict.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return LevelNormal
	case "legacy":
		return LevelLegacy
	default:
		return LevelStrict
	}
}

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelLegacy:
		return "legacy"
	default:
		return "strict"
	}
}

// ViolationKind classifies why validation failed.
type ViolationKind string

const (
	// KindSyntax marks code the parser could not understand.
	KindSyntax ViolationKind = "syntax_error"
	// KindCapability marks code that requests a forbidden capability.
	KindCapability ViolationKind = "security_violation"
)

// Result is the outcome of a validation pass.
type Result struct {
	Allowed bool
	Kind    ViolationKind
	Reason  string
	Line    int
}

func allowed() Result {
	return Result{Allowed: true}
}

func violation(kind ViolationKind, line int, format string, args ...any) Result {
	return Result{Allowed: false, Kind: kind, Reason: fmt.Sprintf(format, args...), Line: line}
}

// denyModules are rejected at every level. Each grants a capability the
// sandbox is supposed to withhold: process spawning, raw sockets, FFI,
// bulk filesystem mutation, dynamic code loading, or interpreter access.
var denyModules = map[string]string{
	"subprocess":      "process spawning",
	"multiprocessing": "process spawning",
	"pty":             "process spawning",
	"os":              "process and filesystem control",
	"sys":             "interpreter internals",
	"socket":          "raw network sockets",
	"asyncio":         "network and subprocess primitives",
	"ctypes":          "foreign function interface",
	"cffi":            "foreign function interface",
	"shutil":          "bulk filesystem operations",
	"pathlib":         "filesystem traversal",
	"glob":            "filesystem traversal",
	"tempfile":        "filesystem access",
	"importlib":       "dynamic module loading",
	"imp":             "dynamic module loading",
	"runpy":           "dynamic module loading",
	"code":            "interactive interpreter access",
	"codeop":          "interactive interpreter access",
	"pickle":          "arbitrary object deserialization",
	"marshal":         "arbitrary object deserialization",
	"shelve":          "arbitrary object deserialization",
	"inspect":         "frame and namespace introspection",
	"gc":              "object graph introspection",
}

// strictAllowModules is the whitelist consulted by LevelStrict.
var strictAllowModules = map[string]struct{}{
	"math":        {},
	"cmath":       {},
	"decimal":     {},
	"fractions":   {},
	"random":      {},
	"statistics":  {},
	"json":        {},
	"re":          {},
	"string":      {},
	"textwrap":    {},
	"datetime":    {},
	"calendar":    {},
	"collections": {},
	"itertools":   {},
	"functools":   {},
	"operator":    {},
	"heapq":       {},
	"bisect":      {},
	"copy":        {},
	"enum":        {},
	"dataclasses": {},
	"typing":      {},
	"uuid":        {},
	"base64":      {},
	"hashlib":     {},
	"hmac":        {},
	"unicodedata": {},
}

// denyCalls are rejected at every level regardless of what was imported.
var denyCalls = map[string]string{
	"eval":       "dynamic code evaluation",
	"exec":       "dynamic code execution",
	"compile":    "dynamic code compilation",
	"__import__": "dynamic import",
	"getattr":    "dynamic attribute access",
	"setattr":    "dynamic attribute mutation",
	"delattr":    "dynamic attribute deletion",
	"globals":    "namespace introspection",
	"locals":     "namespace introspection",
	"vars":       "namespace introspection",
	"breakpoint": "debugger access",
	"memoryview": "raw memory access",
}

// denyAttributes are interpreter-internal attribute names whose access is
// rejected at every level. Reaching any of them is the standard first step
// of a sandbox escape chain.
var denyAttributes = map[string]struct{}{
	"__globals__":       {},
	"__builtins__":      {},
	"__code__":          {},
	"__closure__":       {},
	"__subclasses__":    {},
	"__bases__":         {},
	"__mro__":           {},
	"__class__":         {},
	"__dict__":          {},
	"__loader__":        {},
	"__spec__":          {},
	"__getattribute__":  {},
	"__init_subclass__": {},
	"__reduce__":        {},
	"__reduce_ex__":     {},
	"_getframe":         {},
	"f_globals":         {},
	"f_locals":          {},
	"f_back":            {},
}

// bypassCalls are dotted call patterns that re-introduce dynamic import
// even when the bare module import is blocked.
var bypassCalls = map[string]string{
	"importlib.import_module": "dynamic import",
	"importlib.reload":        "module reload",
	"importlib.__import__":    "dynamic import",
	"sys.modules":             "module table access",
	"builtins.__import__":     "dynamic import",
}

// Validator applies the capability policy to candidate source code.
type Validator struct{}

// NewValidator constructs a Validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks code at the given level. Unparseable input is a denial,
// never an implicit allow.
func (v *Validator) Validate(code string, level Level) Result {
	if strings.TrimSpace(code) == "" {
		return violation(KindSyntax, 0, "empty code")
	}
	if level == LevelLegacy {
		return scanLegacy(code)
	}

	prog, err := parse(code)
	if err != nil {
		var serr *syntaxError
		if ok := asSyntaxError(err, &serr); ok {
			return violation(KindSyntax, serr.line, "parse error: %s", serr.msg)
		}
		return violation(KindSyntax, 0, "parse error: %v", err)
	}

	for _, imp := range prog.imports {
		if res := v.checkImport(imp, level); !res.Allowed {
			return res
		}
	}
	for _, call := range prog.calls {
		if res := v.checkCall(call); !res.Allowed {
			return res
		}
	}
	for _, attr := range prog.attrs {
		if _, ok := denyAttributes[attr.name]; ok {
			return violation(KindCapability, attr.line, "access to internal attribute %q is not allowed", attr.name)
		}
	}
	for _, name := range prog.names {
		// A bare reference to a banned primitive (e.g. aliasing eval) is as
		// dangerous as calling it.
		if why, ok := denyCalls[name.name]; ok {
			return violation(KindCapability, name.line, "reference to %q (%s) is not allowed", name.name, why)
		}
	}
	return allowed()
}

func (v *Validator) checkImport(imp importNode, level Level) Result {
	root := imp.root()
	if why, ok := denyModules[root]; ok {
		return violation(KindCapability, imp.line, "import of module %q (%s) is not allowed", root, why)
	}
	if level == LevelStrict {
		if _, ok := strictAllowModules[root]; !ok {
			return violation(KindCapability, imp.line, "module %q is not on the strict allow-list", root)
		}
	}
	return allowed()
}

func (v *Validator) checkCall(call callNode) Result {
	if why, ok := denyCalls[call.target]; ok {
		return violation(KindCapability, call.line, "call to %q (%s) is not allowed", call.target, why)
	}
	if why, ok := bypassCalls[call.target]; ok {
		return violation(KindCapability, call.line, "call to %q (%s) is not allowed", call.target, why)
	}
	// A dotted call's final attribute can still be a banned primitive,
	// e.g. builtins.eval or module aliases thereof.
	if i := strings.LastIndexByte(call.target, '.'); i >= 0 {
		last := call.target[i+1:]
		if why, ok := denyCalls[last]; ok {
			return violation(KindCapability, call.line, "call to %q (%s) is not allowed", call.target, why)
		}
	}
	return allowed()
}

// legacyKeywords are the substrings the compatibility scanner rejects.
var legacyKeywords = []string{
	"__import__", "importlib", "reload(",
	"eval(", "exec(", "compile(",
	"getattr(", "setattr(", "delattr(",
	"globals(", "locals(", "vars(",
	"__globals__", "__builtins__", "__subclasses__", "__code__", "__mro__",
	"_getframe", "sys.modules",
}

func scanLegacy(code string) Result {
	lower := strings.ToLower(code)
	for mod, why := range denyModules {
		if strings.Contains(lower, "import "+mod) || strings.Contains(lower, mod+".") {
			return violation(KindCapability, lineOf(lower, mod), "use of module %q (%s) is not allowed", mod, why)
		}
	}
	for _, kw := range legacyKeywords {
		if strings.Contains(lower, kw) {
			return violation(KindCapability, lineOf(lower, kw), "forbidden pattern %q", strings.TrimSuffix(kw, "("))
		}
	}
	return allowed()
}

func lineOf(code, needle string) int {
	idx := strings.Index(code, needle)
	if idx < 0 {
		return 0
	}
	return 1 + strings.Count(code[:idx], "\n")
}
