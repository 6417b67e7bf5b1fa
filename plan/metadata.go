package plan

// Op classifies what a tool does to the resources it touches.
type Op string

const (
	OpRead  Op = "read"
	OpWrite Op = "write"
)

// Scope classifies whether a tool's affected paths are statically knowable.
// Tools that run arbitrary commands (exec, process) cannot bound their blast
// radius and must be registered Unconfined.
type Scope string

const (
	ScopeConfined   Scope = "confined"
	ScopeUnconfined Scope = "unconfined"
)

// Metadata is a tool's static classification, declared at registration time
// and immutable afterwards.
type Metadata struct {
	Op    Op
	Scope Scope
}

// IsBarrier reports whether a call with this metadata must run alone in its
// own batch.
func (m Metadata) IsBarrier() bool {
	return m.Op == OpWrite && m.Scope == ScopeUnconfined
}

// ToolInfo describes one registered tool: its classification plus the
// argument keys that carry filesystem paths.
type ToolInfo struct {
	Metadata Metadata
	PathKeys []string // argument keys holding paths ("path", "source", ...)
}

// Catalog maps tool names to their static classification. Unknown tools
// default to Read/Confined with no declared paths. That is deliberately
// fail-open: it maximizes parallelism but means a dangerous tool left
// unregistered gets no isolation. Do not change to fail-closed without
// flagging the behavior change to callers.
type Catalog struct {
	tools map[string]ToolInfo
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{tools: make(map[string]ToolInfo)}
}

// Register declares a tool's classification. Registering the same name
// twice replaces the earlier entry.
func (c *Catalog) Register(name string, info ToolInfo) {
	c.tools[name] = info
}

// MetadataFor returns the classification for name, or the Read/Confined
// default for unregistered tools.
func (c *Catalog) MetadataFor(name string) Metadata {
	if info, ok := c.tools[name]; ok {
		return info.Metadata
	}
	return Metadata{Op: OpRead, Scope: ScopeConfined}
}

// PathKeysFor returns the path-bearing argument keys for name, nil for
// unregistered tools.
func (c *Catalog) PathKeysFor(name string) []string {
	if info, ok := c.tools[name]; ok {
		return info.PathKeys
	}
	return nil
}
