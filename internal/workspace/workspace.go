// Package workspace names and owns the per-run intermediate artifacts.
//
// Every run receives its own directory, <work_dir>/run-<id>, holding fixed
// artifact names. Concurrent runs sharing a work root therefore never touch
// each other's files. A lock file inside the directory marks the run as live
// so stale-directory sweeps can skip it.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const (
	// DirPrefix prefixes every run directory name.
	DirPrefix = "run-"
	// LockFileName is the lock file held for the lifetime of a run.
	LockFileName = ".lock"

	downloadedVideoName = "downloaded_video.mp4"
	audioName           = "extracted_audio.mp3"
	speechBaseName      = "translated_speech"
)

// ErrRunLocked reports that another live process holds the run directory.
var ErrRunLocked = errors.New("run directory is locked by another process")

// Artifacts lists the paths a single run reads and writes.
type Artifacts struct {
	RunID string
	Dir   string
	// DownloadedVideo is set only for remote inputs.
	DownloadedVideo string
	Audio           string
	Speech          string
	Output          string
	// StagedOutput is a hidden sibling of Output that remux writes before
	// the result is renamed into place.
	StagedOutput string
}

// Intermediates returns the run-owned files that cleanup may delete.
func (a Artifacts) Intermediates() []string {
	paths := make([]string, 0, 3)
	if a.DownloadedVideo != "" {
		paths = append(paths, a.DownloadedVideo)
	}
	return append(paths, a.Audio, a.Speech)
}

// Options shapes the artifact layout of a new run.
type Options struct {
	// RunID overrides the generated identifier (tests).
	RunID string
	// Remote reserves a downloaded-video path.
	Remote bool
	// SpeechFormat is the synthesized audio extension, mp3 when empty.
	SpeechFormat string
}

// Run is a live, locked run directory.
type Run struct {
	Artifacts Artifacts
	lock      *flock.Flock
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Create makes the run directory under root, acquires its lock, and derives
// artifact paths. output is resolved to an absolute path but stays outside
// the run directory. A directory created here is removed again when the
// lock cannot be taken.
func Create(root, output string, opts Options) (*Run, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("work root is empty")
	}
	if strings.TrimSpace(output) == "" {
		return nil, errors.New("output path is empty")
	}
	runID := strings.TrimSpace(opts.RunID)
	if runID == "" {
		runID = NewRunID()
	}
	absOutput, err := filepath.Abs(output)
	if err != nil {
		return nil, fmt.Errorf("resolve output path: %w", err)
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create work root: %w", err)
	}
	dir := filepath.Join(root, DirPrefix+runID)
	created := true
	if err := os.Mkdir(dir, 0o755); err != nil {
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create run directory: %w", err)
		}
		created = false
	}

	lock := flock.New(LockPath(dir))
	locked, err := lock.TryLock()
	if err != nil || !locked {
		// Only a directory this call made is ours to remove.
		if created {
			_ = os.RemoveAll(dir)
		}
		if err != nil {
			return nil, fmt.Errorf("lock run directory: %w", err)
		}
		return nil, fmt.Errorf("%s: %w", dir, ErrRunLocked)
	}

	format := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(opts.SpeechFormat)), ".")
	if format == "" {
		format = "mp3"
	}

	artifacts := Artifacts{
		RunID:        runID,
		Dir:          dir,
		Audio:        filepath.Join(dir, audioName),
		Speech:       filepath.Join(dir, speechBaseName+"."+format),
		Output:       absOutput,
		StagedOutput: stagedPath(absOutput, runID),
	}
	if opts.Remote {
		artifacts.DownloadedVideo = filepath.Join(dir, downloadedVideoName)
	}
	return &Run{Artifacts: artifacts, lock: lock}, nil
}

// Close releases the run lock, removes the lock file, and deletes the run
// directory when nothing else remains in it. It reports whether the
// directory was removed.
func (r *Run) Close() (bool, error) {
	if r == nil || r.lock == nil {
		return false, nil
	}
	var errs []error
	if err := r.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("unlock run directory: %w", err))
	}
	if err := os.Remove(r.lock.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove lock file: %w", err))
	}
	r.lock = nil

	removed, err := RemoveDirIfEmpty(r.Artifacts.Dir)
	if err != nil {
		errs = append(errs, err)
	}
	return removed, errors.Join(errs...)
}

// stagedPath keeps the output extension so muxers infer the same container.
func stagedPath(output, runID string) string {
	ext := filepath.Ext(output)
	stem := strings.TrimSuffix(filepath.Base(output), ext)
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return filepath.Join(filepath.Dir(output), "."+stem+".partial-"+short+ext)
}

// LockPath returns the lock file location for a run directory.
func LockPath(dir string) string {
	return filepath.Join(dir, LockFileName)
}

// RemoveDirIfEmpty removes dir only when it has no entries.
func RemoveDirIfEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("read run directory: %w", err)
	}
	if len(entries) > 0 {
		return false, nil
	}
	if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("remove run directory: %w", err)
	}
	return true, nil
}
