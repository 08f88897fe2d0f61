package cleanup

import (
	"os"
	"path/filepath"
	"testing"

	"dubber/internal/workspace"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func remoteArtifacts(t *testing.T) workspace.Artifacts {
	t.Helper()
	dir := t.TempDir()
	a := workspace.Artifacts{
		Dir:             dir,
		DownloadedVideo: filepath.Join(dir, "downloaded_video.mp4"),
		Audio:           filepath.Join(dir, "extracted_audio.mp3"),
		Speech:          filepath.Join(dir, "translated_speech.mp3"),
		Output:          filepath.Join(t.TempDir(), "video.mp4"),
	}
	for _, p := range []string{a.DownloadedVideo, a.Audio, a.Speech, a.Output} {
		touch(t, p)
	}
	return a
}

func TestRunDeletesIntermediatesKeepsOutput(t *testing.T) {
	a := remoteArtifacts(t)
	report := NewManager(Policy{Enabled: true}, nil).Run(a, false)

	if len(report.Removed) != 3 {
		t.Fatalf("expected 3 removals, got %v", report.Removed)
	}
	for _, p := range []string{a.DownloadedVideo, a.Audio, a.Speech} {
		if exists(p) {
			t.Fatalf("%s should be removed", p)
		}
	}
	if !exists(a.Output) {
		t.Fatal("output must survive cleanup")
	}
}

func TestRunLocalNeverDeletesInput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "original.mp4")
	touch(t, input)
	a := workspace.Artifacts{
		Dir:    dir,
		Audio:  filepath.Join(dir, "extracted_audio.mp3"),
		Speech: filepath.Join(dir, "translated_speech.mp3"),
		Output: filepath.Join(dir, "video.mp4"),
	}
	touch(t, a.Audio)

	report := NewManager(Policy{Enabled: true}, nil).Run(a, false, input)
	if !exists(input) {
		t.Fatal("local input must never be deleted")
	}
	if len(report.Removed) != 1 || report.Removed[0] != a.Audio {
		t.Fatalf("unexpected removals %v", report.Removed)
	}
	if len(report.Errors) != 0 {
		t.Fatalf("missing speech file must not be an error: %v", report.Errors)
	}
}

func TestRunGuardsCollidingPaths(t *testing.T) {
	a := remoteArtifacts(t)
	a.Speech = a.Output

	report := NewManager(Policy{Enabled: true}, nil).Run(a, false)
	if !exists(a.Output) {
		t.Fatal("output colliding with an artifact path must be kept")
	}
	if len(report.Kept) != 1 {
		t.Fatalf("expected guarded path in Kept, got %v", report.Kept)
	}
}

func TestRunRemovesPartialDownloadLeftovers(t *testing.T) {
	dir := t.TempDir()
	a := workspace.Artifacts{
		Dir:             dir,
		DownloadedVideo: filepath.Join(dir, "downloaded_video.mp4"),
		Audio:           filepath.Join(dir, "extracted_audio.mp3"),
		Speech:          filepath.Join(dir, "translated_speech.mp3"),
		Output:          filepath.Join(t.TempDir(), "video.mp4"),
	}
	partial := a.DownloadedVideo + ".part"
	lock := workspace.LockPath(dir)
	touch(t, partial)
	touch(t, lock)
	if err := os.Mkdir(filepath.Join(dir, "frag"), 0o755); err != nil {
		t.Fatal(err)
	}

	report := NewManager(Policy{Enabled: true}, nil).Run(a, true)
	if exists(partial) || exists(filepath.Join(dir, "frag")) {
		t.Fatal("leftovers in the run directory should be removed")
	}
	if !exists(lock) {
		t.Fatal("lock file belongs to the live run and must be kept")
	}
	if len(report.Removed) != 2 || len(report.Errors) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestRunDisabledKeepsEverything(t *testing.T) {
	a := remoteArtifacts(t)
	report := NewManager(Policy{Enabled: false}, nil).Run(a, false)
	if !report.Skipped || len(report.Kept) != 3 {
		t.Fatalf("unexpected report %+v", report)
	}
	for _, p := range []string{a.DownloadedVideo, a.Audio, a.Speech} {
		if !exists(p) {
			t.Fatalf("%s should remain with cleanup disabled", p)
		}
	}
}

func TestPolicyKeepOnFailure(t *testing.T) {
	policy := Policy{Enabled: true, KeepOnFailure: true}
	if !policy.ShouldDelete(false) {
		t.Fatal("successful runs are cleaned")
	}
	if policy.ShouldDelete(true) {
		t.Fatal("failed runs keep artifacts")
	}
	if !(Policy{Enabled: true}).ShouldDelete(true) {
		t.Fatal("failed runs are cleaned by default")
	}
}
