package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dubber/internal/logging"
	"dubber/internal/workspace"
)

func makeOld(t *testing.T, path string) {
	t.Helper()
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
}

func TestCleanStaleInvalidRoots(t *testing.T) {
	for _, dir := range []string{"", "   ", "/nonexistent/path/12345"} {
		result := CleanStale(context.Background(), dir, time.Hour, logging.NewNop())
		if len(result.Removed) != 0 || len(result.Errors) != 0 {
			t.Errorf("expected empty result for %q", dir)
		}
	}
}

func TestCleanStaleRemovesOldRunDirsOnly(t *testing.T) {
	root := t.TempDir()
	oldRun := filepath.Join(root, "run-old")
	recentRun := filepath.Join(root, "run-recent")
	foreign := filepath.Join(root, "unrelated")
	for _, dir := range []string{oldRun, recentRun, foreign} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	touch(t, filepath.Join(oldRun, "extracted_audio.mp3"))
	makeOld(t, oldRun)
	makeOld(t, foreign)

	result := CleanStale(context.Background(), root, time.Hour, logging.NewNop())
	if len(result.Removed) != 1 || result.Removed[0] != oldRun {
		t.Fatalf("unexpected removals %v", result.Removed)
	}
	if !exists(recentRun) || !exists(foreign) {
		t.Fatal("recent and non-run directories must remain")
	}
}

func TestCleanStaleSkipsLiveRun(t *testing.T) {
	root := t.TempDir()
	run, err := workspace.Create(root, filepath.Join(t.TempDir(), "out.mp4"), workspace.Options{RunID: "live"})
	if err != nil {
		t.Fatal(err)
	}
	defer run.Close()
	touch(t, run.Artifacts.Audio)
	makeOld(t, run.Artifacts.Dir)

	result := CleanStale(context.Background(), root, time.Hour, logging.NewNop())
	if len(result.Removed) != 0 {
		t.Fatalf("live run must not be removed: %v", result.Removed)
	}
	if len(result.Live) != 1 {
		t.Fatalf("expected live run reported, got %v", result.Live)
	}
	if !exists(run.Artifacts.Audio) {
		t.Fatal("live run artifacts were deleted")
	}
}

func TestCleanStaleRemovesCrashedRunWithLockFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "run-crashed")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	touch(t, workspace.LockPath(dir))
	makeOld(t, dir)

	result := CleanStale(context.Background(), root, time.Hour, logging.NewNop())
	if len(result.Removed) != 1 {
		t.Fatalf("expected crashed run removed, got %+v", result)
	}
}

func TestCleanStaleSparesRunDirBeforeLock(t *testing.T) {
	root := t.TempDir()
	starting := filepath.Join(root, "run-starting")
	if err := os.Mkdir(starting, 0o755); err != nil {
		t.Fatal(err)
	}

	result := CleanStale(context.Background(), root, 0, logging.NewNop())
	if len(result.Removed) != 0 || !exists(starting) {
		t.Fatalf("fresh run directory without a lock file must survive, got %+v", result)
	}

	makeOld(t, starting)
	result = CleanStale(context.Background(), root, 0, logging.NewNop())
	if len(result.Removed) != 1 || exists(starting) {
		t.Fatalf("abandoned lockless directory should be removed, got %+v", result)
	}
}

func TestListRunDirs(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "run-abc")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "extracted_audio.mp3"), make([]byte, 10), 0o644); err != nil {
		t.Fatal(err)
	}
	dirs, err := ListRunDirs(root)
	if err != nil {
		t.Fatalf("ListRunDirs: %v", err)
	}
	if len(dirs) != 1 || dirs[0].RunID != "abc" || dirs[0].Size != 10 || dirs[0].Live {
		t.Fatalf("unexpected dirs %+v", dirs)
	}
}
