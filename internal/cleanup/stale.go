package cleanup

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"dubber/internal/logging"
	"dubber/internal/workspace"
)

// LocklessGrace protects run directories that have no lock file yet. A run
// creates its directory just before locking it, so a sweep leaves such
// directories alone until they are this old, whatever maxAge says.
const LocklessGrace = time.Minute

// CleanStaleResult contains the outcome of a stale directory sweep.
type CleanStaleResult struct {
	Removed []string
	Live    []string
	Errors  []CleanupError
}

// DirInfo describes a run directory under the work root.
type DirInfo struct {
	Name    string
	Path    string
	RunID   string
	ModTime time.Time
	Size    int64
	Live    bool
}

// CleanStale removes run directories under root older than maxAge. A
// directory whose lock is held by a running process is skipped regardless of age.
func CleanStale(ctx context.Context, root string, maxAge time.Duration, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}
	if logger == nil {
		logger = logging.NewNop()
	}

	dirs, err := ListRunDirs(root)
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: root, Error: err})
		return result
	}
	cutoff := time.Now().Add(-maxAge)

	for _, dir := range dirs {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dir.Path, Error: ctx.Err()})
			break
		}
		if dir.Live {
			result.Live = append(result.Live, dir.Path)
			continue
		}
		if !dir.ModTime.Before(cutoff) {
			continue
		}
		if !hasLockFile(dir.Path) && time.Since(dir.ModTime) < LocklessGrace {
			continue
		}
		if err := removeUnlessLocked(dir.Path); err != nil {
			if errors.Is(err, errLive) {
				result.Live = append(result.Live, dir.Path)
				continue
			}
			result.Errors = append(result.Errors, CleanupError{Path: dir.Path, Error: err})
			logger.Warn("failed to remove stale run directory",
				logging.String("path", dir.Path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "stale_cleanup_failed"),
				logging.String(logging.FieldErrorHint, "check work_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		result.Removed = append(result.Removed, dir.Path)
		logger.Info("removed stale run directory",
			logging.String("path", dir.Path),
			logging.Duration("age", time.Since(dir.ModTime)),
			logging.String(logging.FieldEventType, "stale_cleanup"),
		)
	}
	return result
}

// ListRunDirs returns the run directories under root with size and liveness.
func ListRunDirs(root string) ([]DirInfo, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []DirInfo
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), workspace.DirPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(root, entry.Name())
		size, _ := dirSize(path)
		dirs = append(dirs, DirInfo{
			Name:    entry.Name(),
			Path:    path,
			RunID:   strings.TrimPrefix(entry.Name(), workspace.DirPrefix),
			ModTime: info.ModTime(),
			Size:    size,
			Live:    isLocked(path),
		})
	}
	return dirs, nil
}

var errLive = errors.New("run directory is in use")

// removeUnlessLocked deletes dir while holding its run lock.
func removeUnlessLocked(dir string) error {
	lockPath := workspace.LockPath(dir)
	if _, err := os.Stat(lockPath); err == nil {
		lock := flock.New(lockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return err
		}
		if !locked {
			return errLive
		}
		defer lock.Unlock()
	}
	return os.RemoveAll(dir)
}

func hasLockFile(dir string) bool {
	_, err := os.Stat(workspace.LockPath(dir))
	return err == nil
}

func isLocked(dir string) bool {
	lockPath := workspace.LockPath(dir)
	if _, err := os.Stat(lockPath); err != nil {
		return false
	}
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return false
	}
	if locked {
		_ = lock.Unlock()
		return false
	}
	return true
}

func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
