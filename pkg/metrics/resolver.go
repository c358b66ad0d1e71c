package metrics

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/logflow/dqengine/internal/logging"
	"github.com/logflow/dqengine/pkg/batch"
	"github.com/logflow/dqengine/pkg/engine"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
)

// Resolver computes requested metrics and their dependencies.
type Resolver struct {
	rt       *engine.Runtime
	registry *Registry
	logger   logrus.FieldLogger
}

// NewResolver creates a resolver.
func NewResolver(rt *engine.Runtime, registry *Registry, logger logrus.FieldLogger) *Resolver {
	return &Resolver{rt: rt, registry: registry, logger: logging.OrDiscard(logger)}
}

// Registry returns the registry the resolver looks entries up in.
func (r *Resolver) Registry() *Registry {
	return r.registry
}

type node struct {
	id    Identity
	key   string
	entry Entry
	deps  []string
}

// Resolve adds every requested metric to metrics. Identities already present
// are not recomputed. Direct metrics are resolved as soon as they are ready;
// bundlable ones wait until no direct metric is ready, so every bundlable
// metric of the pass that can be computed is flushed in one BatchResolve call
// issuing one query per row domain.
func (r *Resolver) Resolve(ctx context.Context, batches *batch.Set, requests []Identity, metrics Dictionary) (Dictionary, error) {
	if metrics == nil {
		metrics = Dictionary{}
	}
	scope := &Scope{
		Ctx:      ctx,
		Runtime:  r.rt,
		Batches:  batches,
		Registry: r.registry,
		Metrics:  metrics,
		Logger:   r.logger,
	}

	graph, order, err := r.closure(requests, metrics)
	if err != nil {
		return metrics, err
	}

	for round := 1; ; round++ {
		var direct, bundled []*node
		pending := 0
		for _, key := range order {
			n := graph[key]
			if _, done := metrics[key]; done {
				continue
			}
			pending++
			if !ready(n, metrics) {
				continue
			}
			if n.entry.Bundlable() {
				bundled = append(bundled, n)
			} else {
				direct = append(direct, n)
			}
		}
		if pending == 0 {
			return metrics, nil
		}
		if len(direct) == 0 && len(bundled) == 0 {
			return metrics, dqerrors.Configuration("metric dependencies cannot be satisfied").
				WithContext("pending", pending)
		}

		r.logger.WithFields(logrus.Fields{
			"round":   round,
			"direct":  len(direct),
			"bundled": len(bundled),
		}).Debug("resolving metrics")

		if len(direct) > 0 {
			for _, n := range direct {
				if err := ctx.Err(); err != nil {
					return metrics, dqerrors.ContextCanceled("resolve metrics")
				}
				v, err := n.entry.Resolve(scope, n.id)
				if err != nil {
					return metrics, err
				}
				metrics[n.key] = v
			}
			// Resolved direct metrics may unblock more bundlable ones.
			continue
		}

		if len(bundled) > 0 {
			pendingBundle := make([]Pending, len(bundled))
			for i, n := range bundled {
				pendingBundle[i] = Pending{Identity: n.id, Entry: n.entry}
			}
			if err := BatchResolve(scope, pendingBundle); err != nil {
				return metrics, err
			}
		}
	}
}

func ready(n *node, metrics Dictionary) bool {
	for _, d := range n.deps {
		if _, ok := metrics[d]; !ok {
			return false
		}
	}
	return true
}

// closure expands requests with their transitive dependencies, in first-seen
// order.
func (r *Resolver) closure(requests []Identity, metrics Dictionary) (map[string]*node, []string, error) {
	graph := make(map[string]*node)
	var order []string

	var visit func(id Identity, path map[string]bool) error
	visit = func(id Identity, path map[string]bool) error {
		key := id.ID()
		if path[key] {
			return dqerrors.Configuration("metric %q depends on itself", id.Name)
		}
		if _, seen := graph[key]; seen {
			return nil
		}
		entry, ok := r.registry.Lookup(id.Name)
		if !ok {
			return dqerrors.Configuration("unknown metric %q", id.Name)
		}

		n := &node{id: id, key: key, entry: entry}
		graph[key] = n
		order = append(order, key)
		if _, done := metrics[key]; done {
			return nil
		}

		path[key] = true
		defer delete(path, key)
		for _, depName := range entry.Dependencies {
			dep, err := r.registry.Identity(depName, id.Domain, id.Values)
			if err != nil {
				return err
			}
			n.deps = append(n.deps, dep.ID())
			if err := visit(dep, path); err != nil {
				return err
			}
		}
		return nil
	}

	for _, req := range requests {
		if err := visit(req, map[string]bool{}); err != nil {
			return nil, nil, err
		}
	}
	return graph, order, nil
}
