package enforce

// Kind classifies how a tool's arguments are validated and executed.
type Kind string

const (
	// KindCode runs submitted code through the code policy validator
	// and the sandbox.
	KindCode Kind = "code"
	// KindFile operates on a path resolved by the path guard.
	KindFile Kind = "file"
	// KindShell runs a shell command in the sandbox.
	KindShell Kind = "shell"
	// KindAPI performs an outbound HTTP call.
	KindAPI Kind = "api"
)

// Tool is one entry in the closed tool enumeration.
type Tool struct {
	Name string
	Kind Kind
}

// Registry is the closed set of invocable tools, built at startup.
// Unknown names are a typed not-found denial, never a passthrough.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry returns the default tool enumeration.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range []Tool{
		{Name: "execute_code", Kind: KindCode},
		{Name: "read_file", Kind: KindFile},
		{Name: "write_file", Kind: KindFile},
		{Name: "list_directory", Kind: KindFile},
		{Name: "delete_file", Kind: KindFile},
		{Name: "run_shell", Kind: KindShell},
		{Name: "call_api", Kind: KindAPI},
	} {
		r.tools[t.Name] = t
	}
	return r
}

// Register adds or replaces a tool. Meant for startup wiring only; the
// registry is not safe for concurrent mutation.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name] = t
}

// Lookup returns the tool for name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names lists every registered tool.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}
