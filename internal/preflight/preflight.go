package preflight

import (
	"context"
	"fmt"
	"strings"

	"dubber/internal/config"
	"dubber/internal/deps"
	"dubber/internal/services"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	// Warning marks a passed check whose detail deserves attention.
	Warning bool
	Detail  string
}

// RunAll executes every check for the given config, including the OpenAI
// reachability probe. yt-dlp is reported as optional.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	var results []Result

	for _, status := range deps.CheckBinaries(ctx, toolRequirements(cfg, false)) {
		results = append(results, fromStatus(status))
	}

	results = append(results,
		CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckFreeSpace("Work directory free space", cfg.Paths.WorkDir, MinFreeBytes),
		CheckOpenAI(ctx, cfg.OpenAI),
	)
	return results
}

// ForRun performs the fast local checks a dub run needs and returns a
// configuration error describing everything missing.
func ForRun(ctx context.Context, cfg *config.Config, remote bool) error {
	var problems []string
	for _, status := range deps.Missing(deps.CheckBinaries(ctx, toolRequirements(cfg, remote))) {
		problems = append(problems, fmt.Sprintf("%s: %s", status.Name, status.Detail))
	}
	if dir := CheckDirectoryAccess("work_dir", cfg.Paths.WorkDir); !dir.Passed {
		problems = append(problems, "work_dir: "+dir.Detail)
	}
	if err := cfg.RequireOpenAIKey(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) == 0 {
		return nil
	}
	return services.Wrap(services.ErrConfiguration, "", "preflight", strings.Join(problems, "; "), nil)
}

func toolRequirements(cfg *config.Config, remote bool) []deps.Requirement {
	return deps.Tools(cfg.FFmpeg.Binary, cfg.FFmpeg.FFprobeBinary, cfg.Fetch.YtDlpBinary, remote)
}

func fromStatus(status deps.Status) Result {
	result := Result{Name: status.Name, Passed: status.Available}
	switch {
	case status.Available && status.Version != "":
		result.Detail = status.Version
	case status.Available:
		result.Detail = status.Path
	case status.Optional:
		result.Passed = true
		result.Warning = true
		result.Detail = fmt.Sprintf("%s (optional: %s)", status.Detail, strings.ToLower(status.Description))
	default:
		result.Detail = status.Detail
	}
	return result
}
