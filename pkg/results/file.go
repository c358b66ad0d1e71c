package results

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	dqerrors "github.com/logflow/dqengine/pkg/errors"
	"github.com/logflow/dqengine/pkg/suite"
)

// FileStore keeps one JSON document per run in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, dqerrors.Configuration("file results store needs a directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to create results directory").WithContext("dir", dir)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(runID string) string {
	return filepath.Join(s.dir, filepath.Base(runID)+".json")
}

// Save writes the run atomically.
func (s *FileStore) Save(_ context.Context, run *suite.Run) error {
	data, _, err := encode(run)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".run-*.tmp")
	if err != nil {
		return dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to create temp file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to write run")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to write run")
	}
	if err := os.Rename(tmpPath, s.path(run.ID)); err != nil {
		os.Remove(tmpPath)
		return dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to store run")
	}
	return nil
}

// Load reads a run.
func (s *FileStore) Load(_ context.Context, runID string) (*Record, error) {
	data, err := os.ReadFile(s.path(runID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, notFound(runID)
		}
		return nil, dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to read run")
	}
	return decode(data)
}

// List reads every stored run. Unreadable files are skipped.
func (s *FileStore) List(ctx context.Context, suiteName string) ([]Summary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to list runs")
	}

	var out []Summary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, dqerrors.ContextCanceled("list runs")
		}
		rec, err := s.Load(ctx, strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		if suiteName == "" || rec.Suite == suiteName {
			out = append(out, rec.Summary)
		}
	}
	newestFirst(out)
	return out, nil
}

// Delete removes a run. Deleting a missing run is not an error.
func (s *FileStore) Delete(_ context.Context, runID string) error {
	if err := os.Remove(s.path(runID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return dqerrors.Wrap(err, dqerrors.CodeStorage, "failed to delete run")
	}
	return nil
}

// Name returns "file".
func (s *FileStore) Name() string {
	return "file"
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}
