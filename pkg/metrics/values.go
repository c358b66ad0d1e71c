package metrics

import (
	"github.com/spf13/cast"

	dqerrors "github.com/logflow/dqengine/pkg/errors"
)

// Bool returns a boolean parameter, false when absent.
func (v ValueKwargs) Bool(key string) (bool, error) {
	raw, ok := v[key]
	if !ok || raw == nil {
		return false, nil
	}
	b, err := cast.ToBoolE(raw)
	if err != nil {
		return false, dqerrors.Configuration("%s must be a boolean, got %v", key, raw)
	}
	return b, nil
}

// String returns a string parameter, empty when absent.
func (v ValueKwargs) String(key string) (string, error) {
	raw, ok := v[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, err := cast.ToStringE(raw)
	if err != nil {
		return "", dqerrors.Configuration("%s must be a string, got %v", key, raw)
	}
	return s, nil
}

// RequiredString returns a string parameter that must be present.
func (v ValueKwargs) RequiredString(key string) (string, error) {
	if _, ok := v[key]; !ok {
		return "", dqerrors.MissingParameter(key)
	}
	return v.String(key)
}

// Slice returns a list parameter that must be present.
func (v ValueKwargs) Slice(key string) ([]interface{}, error) {
	raw, ok := v[key]
	if !ok || raw == nil {
		return nil, dqerrors.MissingParameter(key)
	}
	switch x := raw.(type) {
	case []interface{}:
		return x, nil
	case []string:
		out := make([]interface{}, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out, nil
	case []int:
		out := make([]interface{}, len(x))
		for i, n := range x {
			out[i] = n
		}
		return out, nil
	case []float64:
		out := make([]interface{}, len(x))
		for i, f := range x {
			out[i] = f
		}
		return out, nil
	}
	s, err := cast.ToSliceE(raw)
	if err != nil {
		return nil, dqerrors.Configuration("%s must be a list, got %T", key, raw)
	}
	return s, nil
}

// Strings returns a list of strings parameter that must be present.
func (v ValueKwargs) Strings(key string) ([]string, error) {
	items, err := v.Slice(key)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, err := cast.ToStringE(item)
		if err != nil {
			return nil, dqerrors.Configuration("%s must contain strings, got %T", key, item)
		}
		out[i] = s
	}
	return out, nil
}
