// Package runner launches pipeline stages as child processes. The stage
// binary's exit code is the only failure signal; stderr is captured into
// the returned error for attribution.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/avatarkit/vrmforge/internal/core/domain"
)

const (
	defaultBinary = "vrmstage"
	stderrTailMax = 4096

	// ioGraceDelay bounds the wait for stderr to close once the stage
	// process has exited or been killed. A stage may leave children holding
	// the pipe; they must not stall the pipeline.
	ioGraceDelay = 2 * time.Second
)

type SubprocessRunner struct {
	log     *slog.Logger
	binary  string
	timeout time.Duration
}

// NewSubprocessRunner builds a runner invoking binary as
// `binary <stage> <input> [landmarks] <output>`. A zero timeout disables
// the per-stage deadline.
func NewSubprocessRunner(log *slog.Logger, binary string, timeout time.Duration) *SubprocessRunner {
	if binary == "" {
		binary = defaultBinary
	}
	return &SubprocessRunner{log: log, binary: binary, timeout: timeout}
}

func (r *SubprocessRunner) Run(ctx context.Context, stage domain.Stage, input, landmarks, output string) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	args := []string{string(stage), input}
	if landmarks != "" {
		args = append(args, landmarks)
	}
	args = append(args, output)

	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.WaitDelay = ioGraceDelay
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	r.log.Debug("invoking stage process", "stage", stage, "binary", r.binary, "args", args)
	start := time.Now()
	err := cmd.Run()
	if errors.Is(err, exec.ErrWaitDelay) {
		// The process itself exited zero; only its pipes were left open.
		r.log.Warn("stage process left stderr open past exit", "stage", stage)
		err = nil
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("stage process timed out after %s", r.timeout)
		}
		if msg := stderrTail(&stderr); msg != "" {
			return fmt.Errorf("stage process: %w: %s", err, msg)
		}
		return fmt.Errorf("stage process: %w", err)
	}
	r.log.Debug("stage process exited", "stage", stage, "duration", time.Since(start))
	return nil
}

func stderrTail(buf *bytes.Buffer) string {
	b := buf.Bytes()
	if len(b) > stderrTailMax {
		b = b[len(b)-stderrTailMax:]
	}
	return strings.TrimSpace(string(b))
}
