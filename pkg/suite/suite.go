// Package suite loads expectation suites from YAML and runs them against
// batches.
package suite

import (
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/logflow/dqengine/pkg/batch"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
)

var validate = validator.New()

// Suite is a named list of expectations with an optional default batch.
type Suite struct {
	Name         string                 `yaml:"name" json:"name" validate:"required"`
	Batch        *Source                `yaml:"batch,omitempty" json:"batch,omitempty"`
	Expectations []Expectation          `yaml:"expectations" json:"expectations" validate:"required,min=1,dive"`
	Meta         map[string]interface{} `yaml:"meta,omitempty" json:"meta,omitempty"`
}

// Source names the data a suite validates. Exactly one of Path, S3 and
// Query is set.
type Source struct {
	Path          string              `yaml:"path,omitempty" json:"path,omitempty" validate:"required_without_all=S3 Query,excluded_with=S3 Query"`
	S3            string              `yaml:"s3,omitempty" json:"s3,omitempty" validate:"omitempty,startswith=s3://,excluded_with=Query"`
	Query         string              `yaml:"query,omitempty" json:"query,omitempty"`
	ReaderMethod  string              `yaml:"reader_method,omitempty" json:"reader_method,omitempty"`
	ReaderOptions batch.ReaderOptions `yaml:"reader_options,omitempty" json:"reader_options,omitempty"`
	Limit         int                 `yaml:"limit,omitempty" json:"limit,omitempty" validate:"gte=0"`
}

// Expectation is one entry of a suite.
type Expectation struct {
	Type   string                 `yaml:"expectation_type" json:"expectation_type" validate:"required"`
	Kwargs map[string]interface{} `yaml:"kwargs" json:"kwargs"`
	Meta   map[string]interface{} `yaml:"meta,omitempty" json:"meta,omitempty"`
}

// Spec converts the source to a batch spec.
func (s Source) Spec() (batch.Spec, error) {
	switch {
	case s.Path != "":
		return batch.PathSpec{Path: s.Path, ReaderMethod: s.ReaderMethod, ReaderOptions: s.ReaderOptions, Limit: s.Limit}, nil
	case s.S3 != "":
		bucket, key, ok := strings.Cut(strings.TrimPrefix(s.S3, "s3://"), "/")
		if !ok || bucket == "" || key == "" {
			return nil, dqerrors.Configuration("invalid s3 url %q", s.S3)
		}
		return batch.S3Spec{Bucket: bucket, Key: key, ReaderMethod: s.ReaderMethod, ReaderOptions: s.ReaderOptions, Limit: s.Limit}, nil
	case s.Query != "":
		return batch.QuerySpec{Query: s.Query, Limit: s.Limit}, nil
	}
	return nil, dqerrors.Configuration("batch needs one of path, s3 or query")
}

// Parse decodes and validates a suite document.
func Parse(data []byte) (*Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, dqerrors.Wrap(err, dqerrors.CodeConfiguration, "failed to parse suite")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load reads a suite file.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, dqerrors.Wrap(err, dqerrors.CodeConfiguration, "failed to read suite").WithContext("path", path)
	}
	s, err := Parse(data)
	if err != nil {
		if e, ok := err.(*dqerrors.EngineError); ok {
			e.WithContext("path", path)
		}
		return nil, err
	}
	return s, nil
}

// Validate checks the suite structure and that every expectation type is known.
func (s *Suite) Validate() error {
	if err := validate.Struct(s); err != nil {
		return dqerrors.Wrap(err, dqerrors.CodeConfiguration, "invalid suite")
	}
	for i, e := range s.Expectations {
		if !Known(e.Type) {
			return dqerrors.Configuration("unknown expectation type %q", e.Type).WithContext("index", i)
		}
	}
	return nil
}
