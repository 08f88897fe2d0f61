package cleanup

import (
	"log/slog"
	"os"
	"path/filepath"

	"dubber/internal/fileutil"
	"dubber/internal/logging"
	"dubber/internal/workspace"
)

// Policy decides whether intermediates are deleted when a run ends.
type Policy struct {
	Enabled bool
	// KeepOnFailure preserves intermediates of failed runs even when Enabled.
	KeepOnFailure bool
}

// ShouldDelete reports whether the policy removes artifacts for a run outcome.
func (p Policy) ShouldDelete(failed bool) bool {
	if !p.Enabled {
		return false
	}
	return !(failed && p.KeepOnFailure)
}

// Report summarizes one cleanup pass.
type Report struct {
	Skipped bool
	Removed []string
	Kept    []string
	Errors  []CleanupError
}

// CleanupError pairs a path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// Manager deletes the intermediates owned by a run.
type Manager struct {
	policy Policy
	logger *slog.Logger
}

// NewManager builds a manager for policy.
func NewManager(policy Policy, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{policy: policy, logger: logger.With(logging.String(logging.FieldComponent, "cleanup"))}
}

// Run deletes the run's downloaded video (remote inputs only), extracted
// audio, and speech file, then any other leftovers in the run directory
// such as partial downloads. The lock file is left for workspace.Run.Close.
// Paths listed in protected, such as the local input and the final output,
// are never deleted even if they collide with an artifact path. Missing
// files are ignored.
func (m *Manager) Run(artifacts workspace.Artifacts, failed bool, protected ...string) Report {
	report := Report{}
	candidates := artifacts.Intermediates()

	if !m.policy.ShouldDelete(failed) {
		report.Skipped = true
		for _, path := range candidates {
			if fileutil.Exists(path) {
				report.Kept = append(report.Kept, path)
			}
		}
		if len(report.Kept) > 0 {
			m.logger.Info("intermediate files kept",
				logging.String(logging.FieldEventType, "cleanup_skipped"),
				logging.String("dir", artifacts.Dir),
				logging.Any("files", report.Kept),
				logging.Bool("failed", failed),
			)
		}
		return report
	}

	guarded := make(map[string]struct{}, len(protected)+1)
	for _, path := range append(protected, artifacts.Output) {
		if key := canonical(path); key != "" {
			guarded[key] = struct{}{}
		}
	}

	for _, path := range candidates {
		if _, ok := guarded[canonical(path)]; ok {
			report.Kept = append(report.Kept, path)
			m.logger.Warn("refusing to delete protected file",
				logging.String("path", path),
				logging.String(logging.FieldEventType, "cleanup_guarded"),
			)
			continue
		}
		removed, err := fileutil.RemoveIfExists(path)
		if err != nil {
			report.Errors = append(report.Errors, CleanupError{Path: path, Error: err})
			m.logger.Warn("failed to remove intermediate file",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "cleanup_failed"),
				logging.String(logging.FieldErrorHint, "check work_dir permissions"),
				logging.String(logging.FieldImpact, "disk space not reclaimed"),
			)
			continue
		}
		if removed {
			report.Removed = append(report.Removed, path)
		}
	}
	m.removeLeftovers(artifacts.Dir, guarded, &report)
	m.logger.Info("intermediate files removed",
		logging.String(logging.FieldEventType, "cleanup_complete"),
		logging.Int("removed", len(report.Removed)),
	)
	return report
}

func (m *Manager) removeLeftovers(dir string, guarded map[string]struct{}, report *Report) {
	if dir == "" {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			report.Errors = append(report.Errors, CleanupError{Path: dir, Error: err})
		}
		return
	}
	for _, entry := range entries {
		if entry.Name() == workspace.LockFileName {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if _, ok := guarded[canonical(path)]; ok {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			report.Errors = append(report.Errors, CleanupError{Path: path, Error: err})
			m.logger.Warn("failed to remove run leftover",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "cleanup_failed"),
				logging.String(logging.FieldErrorHint, "check work_dir permissions"),
			)
			continue
		}
		report.Removed = append(report.Removed, path)
	}
}

func canonical(path string) string {
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}
