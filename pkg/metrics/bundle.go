package metrics

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/logflow/dqengine/pkg/domain"
	"github.com/logflow/dqengine/pkg/engine"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
)

// Pending is a bundlable metric waiting for resolution.
type Pending struct {
	Identity Identity
	Entry    Entry
}

type bundleGroup struct {
	domain     domain.Kwargs
	conditions []string
	keys       []string
}

// BatchResolve resolves bundlable metrics with one aggregate query per row
// domain and stores every count in s.Metrics. An empty domain yields zero
// for every metric.
func BatchResolve(s *Scope, pending []Pending) error {
	groups := make(map[string]*bundleGroup)
	var order []string

	for _, p := range pending {
		if !p.Entry.Bundlable() {
			return dqerrors.BundleResolution("metric %q does not support bundled computation", p.Identity.Name)
		}
		cond, rowDomain, err := p.Entry.Bundle(s, p.Identity)
		if err != nil {
			return err
		}
		key := rowDomain.ID()
		g, ok := groups[key]
		if !ok {
			g = &bundleGroup{domain: rowDomain}
			groups[key] = g
			order = append(order, key)
		}
		g.conditions = append(g.conditions, cond)
		g.keys = append(g.keys, p.Identity.ID())
	}

	for _, key := range order {
		g := groups[key]
		values, err := resolveGroup(s, g)
		if err != nil {
			return err
		}
		for i, id := range g.keys {
			s.Metrics[id] = values[i]
		}
		if s.Logger != nil {
			s.Logger.WithFields(logrus.Fields{
				"domain_id": key,
				"metrics":   len(g.keys),
			}).Debug("bundled metrics resolved")
		}
	}
	return nil
}

func resolveGroup(s *Scope, g *bundleGroup) ([]int64, error) {
	if len(g.conditions) != len(g.keys) {
		return nil, dqerrors.BundleResolution("condition and identity counts differ")
	}

	rel, err := domain.Resolve(g.domain, s.Batches, false)
	if err != nil {
		return nil, err
	}

	inner := make([]string, len(g.conditions))
	sums := make([]string, len(g.conditions))
	for i, cond := range g.conditions {
		name := engine.QuoteIdent(fmt.Sprintf("__dq_c%d", i))
		inner[i] = fmt.Sprintf("(%s) AS %s", cond, name)
		sums[i] = fmt.Sprintf("CAST(SUM(CASE WHEN %s THEN 1 ELSE 0 END) AS BIGINT)", name)
	}
	q := fmt.Sprintf("SELECT %s FROM (SELECT %s FROM %s) AS __dq_bundle",
		strings.Join(sums, ", "), strings.Join(inner, ", "), rel.From())

	res, err := s.Runtime.Query(s.Ctx, q)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	rows, err := res.All()
	if err != nil {
		return nil, err
	}

	values := make([]int64, len(g.keys))
	switch len(rows) {
	case 0:
		return values, nil
	case 1:
	default:
		return nil, dqerrors.BundleResolution("bundled metrics must be single-value statistics, got %d rows", len(rows))
	}
	if len(rows[0]) != len(g.keys) {
		return nil, dqerrors.BundleResolution("unexpected number of metrics returned: %d, want %d", len(rows[0]), len(g.keys))
	}
	for i, v := range rows[0] {
		n, err := engine.AsInt64(v)
		if err != nil {
			return nil, err
		}
		values[i] = n
	}
	return values, nil
}
