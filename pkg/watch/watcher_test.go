package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestChangeTriggersCallbackOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "suite.yaml")
	if err := os.WriteFile(path, []byte("name: a\n"), 0644); err != nil {
		t.Fatal(err)
	}
	other := filepath.Join(dir, "other.txt")

	changes := make(chan string, 10)
	w, err := New(Options{
		Debounce: 200 * time.Millisecond,
		OnChange: func(_ context.Context, p string) error {
			changes <- p
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// A burst of writes settles into one call; unwatched files are ignored.
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("name: changed-"+string(rune('a'+i))+"\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(other, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	abs, _ := filepath.Abs(path)
	select {
	case got := <-changes:
		if got != abs {
			t.Errorf("OnChange(%s), want %s", got, abs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
	select {
	case got := <-changes:
		t.Errorf("unexpected second change %s", got)
	case <-time.After(600 * time.Millisecond):
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}

func TestCallbackErrorsReachOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte("a\n1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	errs := make(chan error, 1)
	boom := errors.New("validation failed")
	w, err := New(Options{
		Debounce: 20 * time.Millisecond,
		OnChange: func(context.Context, string) error { return boom },
		OnError:  func(_ string, err error) { errs <- err },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Watch(path); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := os.WriteFile(path, []byte("a\n1\n2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errs:
		if !errors.Is(err, boom) {
			t.Errorf("OnError(%v), want %v", err, boom)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("error not reported")
	}
}

func TestWatchMissingFile(t *testing.T) {
	w, err := New(Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Watch(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Watch() should fail for a missing file")
	}
}
