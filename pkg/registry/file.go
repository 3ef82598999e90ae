package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/3leaps/cloudres/pkg/run"
)

// File persists records as JSON documents on local disk.
//
// Directory layout:
//
//	<root>/<run_id>/run.json
//
// Writes go through a temp file and rename. Transitions are serialized within
// the process; a single serve process is expected to own the directory.
type File struct {
	root string
	mu   sync.Mutex
	now  Clock
}

var _ Registry = (*File)(nil)

// NewFile returns a registry rooted at root. The directory is created lazily.
func NewFile(root string) *File {
	return &File{root: strings.TrimSpace(root), now: time.Now}
}

// WithClock overrides the timestamp source for transitions.
func (f *File) WithClock(c Clock) *File {
	f.now = c
	return f
}

func (f *File) RootDir() string {
	return f.root
}

func (f *File) runDir(runID string) string {
	return filepath.Join(f.root, runID)
}

func (f *File) runPath(runID string) string {
	return filepath.Join(f.runDir(runID), "run.json")
}

func (f *File) ensureRoot() error {
	if f.root == "" {
		return fmt.Errorf("run registry root dir is empty")
	}
	return os.MkdirAll(f.root, 0755)
}

func (f *File) Create(ctx context.Context, rec *run.Record) error {
	if err := validateID(rec.RunID); err != nil {
		return err
	}
	if strings.ContainsAny(rec.RunID, `/\`) || rec.RunID == "." || rec.RunID == ".." {
		return fmt.Errorf("run_id %q is not a valid directory name", rec.RunID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := os.Stat(f.runPath(rec.RunID)); err == nil {
		return fmt.Errorf("create %s: %w", rec.RunID, ErrExists)
	}
	return f.write(rec)
}

func (f *File) Get(ctx context.Context, runID string) (*run.Record, bool, error) {
	if err := validateID(runID); err != nil {
		return nil, false, err
	}
	rec, err := f.read(runID)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return rec, true, nil
}

func (f *File) Transition(ctx context.Context, runID string, u run.Update) (*run.Record, bool, error) {
	if err := validateID(runID); err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, err := f.read(runID)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, fmt.Errorf("transition %s: %w", runID, ErrNotFound)
		}
		return nil, false, err
	}
	changed, err := u.ApplyTo(rec, f.now())
	if err != nil || !changed {
		return rec, false, err
	}
	if err := f.write(rec); err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (f *File) List(ctx context.Context, opts ListOptions) ([]*run.Record, error) {
	if err := f.ensureRoot(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("read registry root: %w", err)
	}

	out := make([]*run.Record, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := f.read(entry.Name())
		if err != nil {
			continue
		}
		if opts.keep(rec.Status) {
			out = append(out, rec)
		}
	}
	sortNewestFirst(out)
	return applyLimit(out, opts.Limit), nil
}

func (f *File) Close() error { return nil }

func (f *File) read(runID string) (*run.Record, error) {
	b, err := os.ReadFile(f.runPath(runID))
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(string(b))
	if trimmed == "" {
		return nil, fmt.Errorf("run.json for %s is empty", runID)
	}
	var rec run.Record
	if err := json.Unmarshal([]byte(trimmed), &rec); err != nil {
		return nil, fmt.Errorf("parse run.json for %s: %w", runID, err)
	}
	if _, err := run.ParseStatus(string(rec.Status)); err != nil {
		return nil, fmt.Errorf("run.json for %s: %w", runID, err)
	}
	return &rec, nil
}

func (f *File) write(rec *run.Record) error {
	if err := f.ensureRoot(); err != nil {
		return err
	}
	dir := f.runDir(rec.RunID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, "run.json.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp run file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp run file: %w", err)
	}
	if err := os.Rename(tmpName, f.runPath(rec.RunID)); err != nil {
		return fmt.Errorf("rename run file: %w", err)
	}
	return nil
}
