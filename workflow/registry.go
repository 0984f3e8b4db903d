package workflow

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"dario.cat/mergo"
	"go.uber.org/zap"

	"github.com/BaSui01/nodeflow/types"
)

type registration struct {
	factory Factory
	meta    Metadata
}

// Registry maps node types to factories and metadata. Construct one per
// process (or per test) and inject it into Validator, Executor and
// CostEstimator. Registration happens at start-up from a single goroutine;
// lookups are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
	logger  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]registration),
		logger:  logger.With(zap.String("component", "node_registry")),
	}
}

// Register adds a node type. It fails with DUPLICATE_TYPE when the type is
// already registered.
func (r *Registry) Register(nodeType string, factory Factory, meta Metadata) error {
	if nodeType == "" {
		return types.NewError(types.ErrCodeInvalidRequest, "node type is required")
	}
	if factory == nil {
		return types.Errorf(types.ErrCodeInvalidRequest, "node type %q: factory is nil", nodeType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[nodeType]; exists {
		return types.Errorf(types.ErrCodeDuplicateType, "node type %q already registered", nodeType)
	}
	meta.Type = nodeType
	if meta.DisplayName == "" {
		meta.DisplayName = nodeType
	}
	r.entries[nodeType] = registration{factory: factory, meta: meta}

	r.logger.Debug("node type registered",
		zap.String("node_type", nodeType),
		zap.String("category", meta.Category))
	return nil
}

// MustRegister is Register for start-up code; it panics on error.
func (r *Registry) MustRegister(nodeType string, factory Factory, meta Metadata) {
	if err := r.Register(nodeType, factory, meta); err != nil {
		panic(err)
	}
}

// Lookup returns the factory for nodeType. The UNKNOWN_TYPE error lists every
// known type.
func (r *Registry) Lookup(nodeType string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.entries[nodeType]
	if !ok {
		return nil, types.Errorf(types.ErrCodeUnknownType,
			"unknown node type %q (known types: %s)", nodeType, strings.Join(r.typesLocked(), ", "))
	}
	return reg.factory, nil
}

// Has reports whether nodeType is registered.
func (r *Registry) Has(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[nodeType]
	return ok
}

// Metadata returns the metadata of nodeType.
func (r *Registry) Metadata(nodeType string) (Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[nodeType]
	return reg.meta, ok
}

// List returns metadata of every registered type, sorted by type.
func (r *Registry) List() []Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Metadata, 0, len(r.entries))
	for _, t := range r.typesLocked() {
		out = append(out, r.entries[t].meta)
	}
	return out
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.typesLocked()
}

func (r *Registry) typesLocked() []string {
	out := make([]string, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Instantiate builds a capability for node. The type's DefaultParams fill
// keys the node leaves unset or zero; other node params win. The caller's
// definition is never modified.
func (r *Registry) Instantiate(node NodeDefinition) (NodeCapability, error) {
	factory, err := r.Lookup(node.Type)
	if err != nil {
		return nil, err
	}

	meta, _ := r.Metadata(node.Type)
	params := node.Params.Clone()
	if len(meta.DefaultParams) > 0 {
		if err := mergo.Merge(&params, meta.DefaultParams.Clone()); err != nil {
			return nil, fmt.Errorf("node %s: merge default params: %w", node.ID, err)
		}
	}
	node.Params = params

	capability, err := factory(node)
	if err != nil {
		return nil, fmt.Errorf("node %s: build %s capability: %w", node.ID, node.Type, err)
	}
	if capability == nil {
		return nil, fmt.Errorf("node %s: factory for %s returned nil", node.ID, node.Type)
	}
	return capability, nil
}
