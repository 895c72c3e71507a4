package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"audioforge/internal/config"
	"audioforge/internal/logging"
	"audioforge/internal/schema"
)

// Invocation describes one phase execution request.
type Invocation struct {
	Phase     schema.PhaseKey
	InputPath string
	FileID    string
	StatePath string

	// Engine selects the TTS engine for phase 4. Empty means the
	// configured default.
	Engine string

	// ExtraArgs are appended verbatim after the contract arguments.
	ExtraArgs []string
}

// Result is the observable outcome of one phase execution.
type Result struct {
	Success    bool
	ExitCode   int
	Duration   time.Duration
	StderrTail string
	Failure    FailureKind
	TimedOut   bool

	// Engine that actually ran, after any fallback.
	Engine string
	// FellBack is set when the secondary engine produced the result.
	FellBack bool
	// Attempts counts executions including retries.
	Attempts int
}

// Runner executes phase subprocesses according to the static recipes.
type Runner struct {
	cfg  config.RunnerConfig
	root string
}

// New creates a runner. root is the monorepo root that anchors phase
// directories.
func New(cfg config.RunnerConfig, root string) *Runner {
	return &Runner{cfg: cfg, root: root}
}

// Run resolves the phase recipe, performs the install step if the recipe
// has one, then runs the phase with the contract arguments. It never
// returns an error for a phase that merely failed; errors are reserved
// for the runner's own faults (unknown phase, cancelled context).
func (r *Runner) Run(ctx context.Context, inv Invocation) (*Result, error) {
	recipe, err := RecipeFor(inv.Phase)
	if err != nil {
		return nil, err
	}
	workDir := recipe.WorkDir(r.root)

	if len(recipe.InstallArgs) > 0 {
		installRes := r.execute(ctx, workDir, recipe.InstallArgs, r.installTimeout(recipe))
		if !installRes.Success {
			logging.RunnerWarn("phase %s install failed: exit %d", inv.Phase, installRes.ExitCode)
			installRes.Failure = Classify(installRes.StderrTail)
			return installRes, nil
		}
	}

	args := append([]string{}, recipe.RunArgs...)
	args = append(args,
		"--file="+inv.InputPath,
		"--file_id="+inv.FileID,
		"--json_path="+inv.StatePath,
	)
	if inv.Phase == schema.Phase4 {
		engine := inv.Engine
		if engine == "" {
			engine = r.cfg.DefaultEngine
		}
		args = append(args, "--tts_engine="+engine)
		if r.cfg.DisableFallback {
			args = append(args, "--disable_fallback")
		}
	}
	args = append(args, inv.ExtraArgs...)

	timer := logging.StartTimer(logging.CategoryRunner, fmt.Sprintf("phase %s run", inv.Phase))
	res := r.execute(ctx, workDir, args, r.runTimeout(inv.Phase, recipe))
	timer.Stop()

	res.Engine = inv.Engine
	if !res.Success {
		res.Failure = Classify(res.StderrTail)
		if res.TimedOut {
			res.Failure = FailureTimeout
		}
		logging.RunnerWarn("phase %s failed: exit %d, category %s", inv.Phase, res.ExitCode, res.Failure)
	} else {
		logging.Runner("phase %s succeeded in %s", inv.Phase, res.Duration.Round(time.Millisecond))
	}
	return res, nil
}

// execute spawns one subprocess with a clean environment and a deadline,
// killing the whole process group on timeout.
func (r *Runner) execute(ctx context.Context, workDir string, args []string, timeout time.Duration) *Result {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, args[0], args[1:]...)
	cmd.Dir = workDir
	cmd.Env = cleanEnv(os.Environ())

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = nil

	setupProcessGroup(cmd)
	cmd.Cancel = func() error {
		killProcessGroup(cmd)
		return nil
	}

	start := time.Now()
	err := cmd.Run()
	res := &Result{
		Duration:   time.Since(start),
		StderrTail: tail(stderr.String(), stderrTailBytes),
		Attempts:   1,
	}

	if err == nil {
		res.Success = true
		return res
	}

	if execCtx.Err() == context.DeadlineExceeded {
		res.TimedOut = true
		res.ExitCode = -1
		return res
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	} else {
		// Spawn failure (missing binary, bad workdir).
		res.ExitCode = -1
		res.StderrTail = err.Error()
	}
	return res
}

func (r *Runner) installTimeout(recipe Recipe) time.Duration {
	if r.cfg.InstallTimeoutSeconds > 0 {
		return time.Duration(r.cfg.InstallTimeoutSeconds) * time.Second
	}
	return recipe.InstallTimeout
}

func (r *Runner) runTimeout(phase schema.PhaseKey, recipe Recipe) time.Duration {
	var seconds int
	switch phase {
	case schema.Phase4:
		seconds = r.cfg.ChunkTimeoutSeconds
	case schema.Phase5:
		seconds = r.cfg.EnhanceTimeoutSeconds
	case schema.Phase5_5:
		seconds = r.cfg.SubtitleTimeoutSeconds
	default:
		seconds = r.cfg.RunTimeoutSeconds
	}
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return recipe.RunTimeout
}

// strippedEnvPrefixes are caller-specific interpreter variables that must
// not leak into phases with isolated toolchains.
var strippedEnvPrefixes = []string{
	"VIRTUAL_ENV=",
	"PYTHONHOME=",
	"PYTHONPATH=",
	"CONDA_PREFIX=",
	"CONDA_DEFAULT_ENV=",
	"PIP_REQUIRE_VIRTUALENV=",
}

// cleanEnv drops virtualenv and conda variables from the inherited
// environment.
func cleanEnv(env []string) []string {
	out := env[:0:0]
	for _, kv := range env {
		keep := true
		for _, prefix := range strippedEnvPrefixes {
			if strings.HasPrefix(kv, prefix) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, kv)
		}
	}
	return out
}
