package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dubber/internal/cleanup"
	"dubber/internal/history"
	"dubber/internal/services"
	"dubber/internal/testsupport"
)

func TestDubLocalInputEndToEnd(t *testing.T) {
	server := newOpenAIServer(t, "Good morning, everyone.")
	env := setupCLITestEnv(t, testsupport.WithBaseURL(server.URL+"/v1"), testsupport.WithHistory())

	input := filepath.Join(env.baseDir, "lecture.mp4")
	testsupport.WriteFile(t, input, 128)
	output := filepath.Join(env.baseDir, "dubbed.mp4")

	out, _, err := runCLI(t, []string{"dub", "-i", input, "-o", output, "-v", "nova"}, env.configPath)
	if err != nil {
		t.Fatalf("dub: %v", err)
	}
	requireContains(t, out, "Process completed successfully.")
	requireContains(t, out, output)

	if info, err := os.Stat(output); err != nil || info.Size() == 0 {
		t.Fatalf("expected non-empty output at %s: %v", output, err)
	}
	if _, err := os.Stat(input); err != nil {
		t.Fatalf("local input must survive cleanup: %v", err)
	}
	dirs, err := cleanup.ListRunDirs(env.cfg.Paths.WorkDir)
	if err != nil {
		t.Fatalf("ListRunDirs: %v", err)
	}
	if len(dirs) != 0 {
		t.Fatalf("expected run directory to be removed, found %d", len(dirs))
	}

	store := testsupport.MustOpenHistory(t, env.cfg.HistoryPath())
	runs, err := store.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 recorded run, got %d", len(runs))
	}
	if runs[0].Status != history.StatusSucceeded || runs[0].Voice != "nova" {
		t.Fatalf("unexpected run record %+v", runs[0])
	}
}

func TestDubKeepsIntermediatesWhenCleanupDisabled(t *testing.T) {
	server := newOpenAIServer(t, "Hello.")
	env := setupCLITestEnv(t, testsupport.WithBaseURL(server.URL+"/v1"))

	input := filepath.Join(env.baseDir, "clip.mp4")
	testsupport.WriteFile(t, input, 64)

	out, _, err := runCLI(t, []string{"dub", "-i", input, "--cleanup=false"}, env.configPath)
	if err != nil {
		t.Fatalf("dub: %v", err)
	}
	requireContains(t, out, "Intermediate files kept:")
	requireContains(t, out, "extracted_audio.mp3")
	requireContains(t, out, "translated_speech.mp3")

	dirs, err := cleanup.ListRunDirs(env.cfg.Paths.WorkDir)
	if err != nil {
		t.Fatalf("ListRunDirs: %v", err)
	}
	if len(dirs) != 1 {
		t.Fatalf("expected kept run directory, found %d", len(dirs))
	}
}

func TestDubMissingVideoFailsWithNotFound(t *testing.T) {
	server := newOpenAIServer(t, "unused")
	env := setupCLITestEnv(t, testsupport.WithBaseURL(server.URL+"/v1"))

	missing := filepath.Join(env.baseDir, "missing.mp4")
	_, stderr, err := runCLI(t, []string{"dub", "-i", missing}, env.configPath)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	requireContains(t, stderr, "failed during extract")
	if _, statErr := os.Stat(env.cfg.Dubbing.OutputFile); !os.IsNotExist(statErr) {
		t.Fatalf("no output expected, stat err = %v", statErr)
	}
}

func TestDubRejectsUnknownVoice(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"dub", "-i", "video.mp4", "--voice", "robot"}, env.configPath)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	requireContains(t, err.Error(), "unsupported voice")
}

func TestDubRequiresInputFlag(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"dub"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "input-file") {
		t.Fatalf("expected missing input-file error, got %v", err)
	}
}

func TestDubRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	env := setupCLITestEnv(t, testsupport.WithAPIKey(""))
	_, _, err := runCLI(t, []string{"dub", "-i", "video.mp4"}, env.configPath)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	requireContains(t, err.Error(), "OPENAI_API_KEY")
}

func TestDubRemoteInputNeedsYtDlp(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.Fetch.YtDlpBinary = filepath.Join(env.baseDir, "no-such-yt-dlp")
	writeTestConfig(t, env.configPath, env.cfg)

	_, _, err := runCLI(t, []string{"dub", "-i", "https://example.com/watch?v=abc"}, env.configPath)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	requireContains(t, err.Error(), "yt-dlp")
}

func TestDubRemoteFetchFailureStopsBeforeMedia(t *testing.T) {
	server := newOpenAIServer(t, "unused")
	env := setupCLITestEnv(t, testsupport.WithBaseURL(server.URL+"/v1"))
	binDir := filepath.Join(env.baseDir, "bin")
	invoked := filepath.Join(env.baseDir, "ffmpeg-invoked")
	testsupport.WriteScript(t, binDir, "ffmpeg", `case "$1" in -version) echo "ffmpeg version stub"; exit 0;; esac
echo "$@" >> "`+invoked+`"
for last; do :; done
printf 'fake-media' > "$last"`)
	env.cfg.Fetch.YtDlpBinary = testsupport.WriteScript(t, binDir, "yt-dlp", `echo "ERROR: [generic] Unable to download webpage: HTTP Error 404" >&2
exit 1`)
	writeTestConfig(t, env.configPath, env.cfg)
	output := filepath.Join(env.baseDir, "dubbed.mp4")

	_, _, err := runCLI(t, []string{"dub", "-i", "https://example.com/watch?v=gone", "-o", output}, env.configPath)
	if !errors.Is(err, services.ErrFetch) {
		t.Fatalf("expected ErrFetch, got %v", err)
	}
	if _, statErr := os.Stat(invoked); !os.IsNotExist(statErr) {
		t.Fatalf("ffmpeg must not run after a failed download, stat err = %v", statErr)
	}
	if _, statErr := os.Stat(output); !os.IsNotExist(statErr) {
		t.Fatalf("no output may be written, stat err = %v", statErr)
	}
	dirs, listErr := cleanup.ListRunDirs(env.cfg.Paths.WorkDir)
	if listErr != nil {
		t.Fatalf("ListRunDirs: %v", listErr)
	}
	if len(dirs) != 0 {
		t.Fatalf("run directory left behind: %+v", dirs)
	}
}
