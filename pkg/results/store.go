// Package results persists validation runs.
package results

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"time"

	"github.com/logflow/dqengine/pkg/config"
	dqerrors "github.com/logflow/dqengine/pkg/errors"
	"github.com/logflow/dqengine/pkg/suite"
)

// Store defines the interface for run storage backends.
type Store interface {
	// Save persists a run.
	Save(ctx context.Context, run *suite.Run) error

	// Load retrieves a run by id.
	Load(ctx context.Context, runID string) (*Record, error)

	// List returns the runs of a suite, newest first. An empty name lists
	// every run.
	List(ctx context.Context, suiteName string) ([]Summary, error)

	// Delete removes a run.
	Delete(ctx context.Context, runID string) error

	// Name returns the backend name for logging.
	Name() string

	Close() error
}

// Summary is the indexable part of a stored run.
type Summary struct {
	RunID      string           `json:"run_id"`
	Suite      string           `json:"suite_name"`
	BatchID    string           `json:"batch_id"`
	Success    bool             `json:"success"`
	StartedAt  time.Time        `json:"run_time"`
	Statistics suite.Statistics `json:"statistics"`
}

// Record is a stored run: its summary and the full run document.
type Record struct {
	Summary
	Data json.RawMessage `json:"data"`
}

func encode(run *suite.Run) ([]byte, Summary, error) {
	if run == nil || run.ID == "" {
		return nil, Summary{}, dqerrors.Configuration("run without id cannot be stored")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return nil, Summary{}, dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to marshal run")
	}
	return data, summarize(run), nil
}

func summarize(run *suite.Run) Summary {
	return Summary{
		RunID:      run.ID,
		Suite:      run.Suite,
		BatchID:    run.BatchID,
		Success:    run.Success,
		StartedAt:  run.StartedAt,
		Statistics: run.Statistics,
	}
}

func decode(data []byte) (*Record, error) {
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to unmarshal run")
	}
	return &Record{Summary: s, Data: json.RawMessage(data)}, nil
}

func notFound(runID string) error {
	return dqerrors.Wrap(os.ErrNotExist, dqerrors.CodeStorage, "run not found").WithContext("run_id", runID)
}

func newestFirst(s []Summary) {
	sort.SliceStable(s, func(i, j int) bool {
		if !s[i].StartedAt.Equal(s[j].StartedAt) {
			return s[i].StartedAt.After(s[j].StartedAt)
		}
		return s[i].RunID < s[j].RunID
	})
}

// Open creates the store named by the results configuration. The "none"
// backend returns a nil store.
func Open(ctx context.Context, cfg config.ResultsConfig) (Store, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "file":
		s, err := NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "redis":
		rc := DefaultRedisConfig(cfg.Redis.Addr)
		rc.Password = cfg.Redis.Password
		rc.Database = cfg.Redis.DB
		if cfg.Redis.KeyPrefix != "" {
			rc.Prefix = cfg.Redis.KeyPrefix
		}
		rc.TTL = cfg.Redis.TTL
		s, err := NewRedisStore(ctx, rc)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, dqerrors.Configuration("unknown results backend %q", cfg.Backend)
}

// MultiStore writes to a primary and, best effort, a secondary store.
type MultiStore struct {
	primary   Store
	secondary Store
}

// NewMultiStore creates a store that writes to both primary and secondary.
func NewMultiStore(primary, secondary Store) *MultiStore {
	return &MultiStore{primary: primary, secondary: secondary}
}

// Save writes to both stores, primary first.
func (m *MultiStore) Save(ctx context.Context, run *suite.Run) error {
	if err := m.primary.Save(ctx, run); err != nil {
		return err
	}
	_ = m.secondary.Save(ctx, run)
	return nil
}

// Load reads from primary, falls back to secondary.
func (m *MultiStore) Load(ctx context.Context, runID string) (*Record, error) {
	rec, err := m.primary.Load(ctx, runID)
	if err == nil {
		return rec, nil
	}
	return m.secondary.Load(ctx, runID)
}

// List lists from primary.
func (m *MultiStore) List(ctx context.Context, suiteName string) ([]Summary, error) {
	return m.primary.List(ctx, suiteName)
}

// Delete removes the run from both stores.
func (m *MultiStore) Delete(ctx context.Context, runID string) error {
	err := m.primary.Delete(ctx, runID)
	_ = m.secondary.Delete(ctx, runID)
	return err
}

// Name returns the names of both stores.
func (m *MultiStore) Name() string {
	return m.primary.Name() + "+" + m.secondary.Name()
}

// Close closes both stores.
func (m *MultiStore) Close() error {
	var errs dqerrors.MultiError
	errs.Add(m.primary.Close())
	errs.Add(m.secondary.Close())
	return errs.Combined()
}
