package metrics

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/logflow/dqengine/pkg/batch"
	"github.com/logflow/dqengine/pkg/domain"
	"github.com/logflow/dqengine/pkg/engine"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
)

// Scope is what a provider may read while resolving.
type Scope struct {
	Ctx      context.Context
	Runtime  *engine.Runtime
	Batches  *batch.Set
	Registry *Registry
	Metrics  Dictionary
	Logger   logrus.FieldLogger
}

// ValueFunc computes a metric value directly.
type ValueFunc func(s *Scope, id Identity) (interface{}, error)

// BundleFunc returns the condition to count and the row domain it is counted
// over. The bundler sums the condition for every metric of one row domain in
// one query.
type BundleFunc func(s *Scope, id Identity) (string, domain.Kwargs, error)

// Entry describes one registered metric.
type Entry struct {
	Name               string
	DomainKeys         []string
	ValueKeys          []string
	Dependencies       []string
	FilterColumnIsNull bool

	// Exactly one of Resolve and Bundle is set.
	Resolve ValueFunc
	Bundle  BundleFunc
}

// Bundlable reports whether the metric is resolved by the bundler.
func (e Entry) Bundlable() bool {
	return e.Bundle != nil
}

// Builder collects entries before the registry is frozen.
type Builder struct {
	entries map[string]Entry
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{entries: make(map[string]Entry)}
}

// Register adds an entry. Registering a name twice is an error; use Replace
// to redefine a metric.
func (b *Builder) Register(e Entry) error {
	if e.Name == "" {
		return dqerrors.MissingParameter("metric_name")
	}
	if (e.Resolve == nil) == (e.Bundle == nil) {
		return dqerrors.Configuration("metric %q must define exactly one of Resolve and Bundle", e.Name)
	}
	if _, exists := b.entries[e.Name]; exists {
		return dqerrors.Configuration("metric %q is already registered", e.Name)
	}
	b.entries[e.Name] = e
	return nil
}

// Replace registers e, overwriting an existing entry of the same name.
func (b *Builder) Replace(e Entry) error {
	delete(b.entries, e.Name)
	return b.Register(e)
}

// Build freezes the builder into a registry.
func (b *Builder) Build() *Registry {
	entries := make(map[string]Entry, len(b.entries))
	for k, v := range b.entries {
		entries[k] = v
	}
	return &Registry{entries: entries}
}

// Registry is an immutable name to entry lookup.
type Registry struct {
	entries map[string]Entry
}

// Lookup returns the entry for name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}

// Names returns all registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Identity builds the identity of name over dom, keeping only the value
// kwargs the metric declares.
func (r *Registry) Identity(name string, dom domain.Kwargs, values ValueKwargs) (Identity, error) {
	e, ok := r.entries[name]
	if !ok {
		return Identity{}, dqerrors.Configuration("unknown metric %q", name)
	}
	return Identity{
		Name:               name,
		Domain:             dom,
		Values:             values.Project(e.ValueKeys),
		FilterColumnIsNull: e.FilterColumnIsNull,
	}, nil
}
