// Package hooks runs the pre/post shell scripts an LU's BuildHooksEnv
// exposes to operators, . It takes the same bounded-capture,
// single-command exec idiom used elsewhere in this tree and generalizes
// it into a directory-scan runner that executes every matching script
// under a phase directory and classifies each one individually.
package hooks

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/cuemby/fleetctl/pkg/log"
)

// Phase selects the pre or post hook directory.
type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// Outcome classifies one script's run, .
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFail    Outcome = "fail"
	OutcomeSkip    Outcome = "skip"
)

const (
	maxCaptureBytes = 4096
	defaultTimeout  = 60 * time.Second
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Result is one script's outcome.
type Result struct {
	Name    string
	Outcome Outcome
	Output  string // merged stdout+stderr, truncated to maxCaptureBytes
	Err     error
}

// Runner scans <BaseDir>/<hookPath>-<phase>.d for a given HooksCallBack's
// phase and runs every qualifying entry, .
type Runner struct {
	BaseDir string
	Timeout time.Duration
}

// NewRunner creates a Runner rooted at baseDir.
func NewRunner(baseDir string) *Runner {
	return &Runner{BaseDir: baseDir, Timeout: defaultTimeout}
}

// Run executes every hook for hookPath/phase, in lexicographic order, with
// the environment sanitizedEnv builds from env. It returns one Result per
// directory entry, with OutcomeSkip for entries that are not executable
// regular files with a valid name. A missing directory yields no results
// and no error, since "no hooks configured" is the common case; any other
// error reading the directory is returned.
func (r *Runner) Run(ctx context.Context, hookPath string, phase Phase, env map[string]string) ([]Result, error) {
	dir := filepath.Join(r.BaseDir, fmt.Sprintf("%s-%s.d", hookPath, phase))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hooks: read %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	logger := log.WithComponent("hooks")
	results := make([]Result, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		res := r.runOne(ctx, path, name, env)
		logger.Debug().Str("hook", name).Str("phase", string(phase)).Str("outcome", string(res.Outcome)).Msg("hook ran")
		results = append(results, res)
	}
	return results, nil
}

func (r *Runner) runOne(ctx context.Context, path, name string, env map[string]string) Result {
	if !nameRe.MatchString(name) {
		return Result{Name: name, Outcome: OutcomeSkip}
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Mode()&0111 == 0 {
		return Result{Name: name, Outcome: OutcomeSkip}
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, path)
	cmd.Dir = "/"
	cmd.Stdin = nil
	cmd.Env = sanitizedEnv(env)

	var buf boundedBuffer
	buf.limit = maxCaptureBytes
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Run(); err != nil {
		return Result{Name: name, Outcome: OutcomeFail, Output: buf.String(), Err: err}
	}
	return Result{Name: name, Outcome: OutcomeSuccess, Output: buf.String()}
}

// sanitizedEnv builds a minimal environment: a fixed PATH plus each
// LU-supplied env entry, its key prefixed with GANETI_. No hooks-version,
// opcode, phase or hook-path variables are added, and no inherited shell
// environment leaks into a hook script.
func sanitizedEnv(env map[string]string) []string {
	out := make([]string, 0, len(env)+2)
	out = append(out, "PATH=/usr/sbin:/usr/bin:/sbin:/bin")
	for k, v := range env {
		out = append(out, fmt.Sprintf("GANETI_%s=%s", k, v))
	}
	return out
}

// boundedBuffer caps how much of a hook's output is retained, a 4 KiB
// capture limit. Writes past the limit are discarded.
type boundedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if remaining := b.limit - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string { return b.buf.String() }
