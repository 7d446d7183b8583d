package renderbridge

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ExecRunner invokes the headless-browser worker executable. The worker
// receives the target URL, an optional wait hint, and its own timeout in
// milliseconds; the process is killed after timeout plus a grace period.
type ExecRunner struct {
	Path  string
	Grace time.Duration
}

// NewExecRunner validates the worker path up front so a missing executable
// fails the run immediately instead of on the first URL.
func NewExecRunner(path string, grace time.Duration) (*ExecRunner, error) {
	if path == "" {
		return nil, fmt.Errorf("render bridge executable path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("render bridge executable: %w", err)
	}
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &ExecRunner{Path: path, Grace: grace}, nil
}

// Run executes the worker once and captures both output streams.
func (r *ExecRunner) Run(ctx context.Context, url, waitHint string, timeout time.Duration, interactions bool) ([]byte, []byte, error) {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout+r.Grace)
	defer cancel()

	args := []string{"--url", url, "--timeout-ms", timeoutMillisArg(timeout)}
	if waitHint != "" {
		args = append(args, "--wait-for", waitHint)
	}
	if interactions {
		args = append(args, "--interactions")
	}

	cmd := exec.CommandContext(runCtx, r.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if runCtx.Err() != nil {
			return nil, nil, fmt.Errorf("render worker timed out after %s: %w", timeout, runCtx.Err())
		}
		return stdout.Bytes(), stderr.Bytes(), fmt.Errorf("render worker exited: %w", err)
	}
	return stdout.Bytes(), stderr.Bytes(), nil
}
