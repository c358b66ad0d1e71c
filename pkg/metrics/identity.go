// Package metrics registers named computations over domains, resolves their
// dependencies and bundles count metrics that share a row domain into one
// query.
package metrics

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/logflow/dqengine/pkg/domain"
)

// ValueKwargs are the parameters of one computation.
type ValueKwargs map[string]interface{}

// Project keeps only the listed keys.
func (v ValueKwargs) Project(keys []string) ValueKwargs {
	out := make(ValueKwargs, len(keys))
	for _, k := range keys {
		if val, ok := v[k]; ok {
			out[k] = val
		}
	}
	return out
}

// Without returns a copy without key.
func (v ValueKwargs) Without(key string) ValueKwargs {
	out := make(ValueKwargs, len(v))
	for k, val := range v {
		if k != key {
			out[k] = val
		}
	}
	return out
}

// Identity names one metric value within an evaluation pass.
type Identity struct {
	Name               string
	Domain             domain.Kwargs
	Values             ValueKwargs
	FilterColumnIsNull bool
}

type identityKey struct {
	Name               string        `json:"name"`
	Domain             domain.Kwargs `json:"domain"`
	Values             ValueKwargs   `json:"values"`
	FilterColumnIsNull bool          `json:"filter_column_isnull"`
}

// ID returns the stable identity used as dictionary and bundling key.
func (i Identity) ID() string {
	values := i.Values
	if values == nil {
		values = ValueKwargs{}
	}
	data, err := json.Marshal(identityKey{i.Name, i.Domain, values, i.FilterColumnIsNull})
	if err != nil {
		// fmt prints maps with sorted keys.
		data = []byte(fmt.Sprintf("%s|%s|%v|%t", i.Name, i.Domain.ID(), values, i.FilterColumnIsNull))
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Dictionary maps identity ids to resolved values within one pass. Concurrent
// passes must use separate dictionaries.
type Dictionary map[string]interface{}

// Get returns the value for an identity.
func (d Dictionary) Get(id Identity) (interface{}, bool) {
	v, ok := d[id.ID()]
	return v, ok
}
