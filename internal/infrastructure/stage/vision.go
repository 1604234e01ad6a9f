package stage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/avatarkit/vrmforge/internal/core/domain"
	"github.com/avatarkit/vrmforge/internal/infrastructure/resilience"
)

// Analyzer produces the landmark report. The model inference itself lives in
// an external analyzer command invoked as `<cmd> <image> <report>`; when no
// command is configured, the image is unreadable, or the analyzer fails, the
// stage degrades to an empty report. It never fails the pipeline.
type Analyzer struct {
	log  *slog.Logger
	argv []string
	exec *resilience.Executor
}

func NewAnalyzer(log *slog.Logger, command string) *Analyzer {
	return &Analyzer{
		log:  log,
		argv: strings.Fields(command),
		exec: resilience.NewExecutor(resilience.Config{
			RetryMaxAttempts:    2,
			RetryInitialBackoff: 200 * time.Millisecond,
			// One-shot stage process; breaker state would not outlive it.
			BreakerEnabled: false,
		}),
	}
}

func (a *Analyzer) Run(ctx context.Context, input, output string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !imageReadable(input) {
		a.log.Warn("reference image unreadable, writing empty report", "input", input)
		return SaveReport(output, domain.EmptyReport())
	}
	if len(a.argv) == 0 {
		a.log.Warn("no landmark analyzer configured, writing empty report")
		return SaveReport(output, domain.EmptyReport())
	}

	raw := output + ".analyzer"
	defer os.Remove(raw)

	err := a.exec.Execute(ctx, "vision_analyze", func(ctx context.Context) error {
		return a.invoke(ctx, input, raw)
	}, classifyAnalyzerError)
	if err != nil {
		a.log.Warn("landmark analyzer failed, writing empty report", "error", err)
		return SaveReport(output, domain.EmptyReport())
	}

	report := LoadReport(a.log, raw)
	deriveBodyBounds(report)
	a.log.Info("landmark analysis complete",
		"joints", len(report.Joints),
		"face", report.HasFace(),
		"output", output,
	)
	return SaveReport(output, report)
}

func (a *Analyzer) invoke(ctx context.Context, input, output string) error {
	args := append(append([]string{}, a.argv[1:]...), input, output)
	cmd := exec.CommandContext(ctx, a.argv[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("analyzer: %w: %s", err, msg)
		}
		return fmt.Errorf("analyzer: %w", err)
	}
	return nil
}

// deriveBodyBounds fills body bounds from joint y-extents when the analyzer
// reported joints but no bounds. Image y grows downward, so height is
// max_y - min_y.
func deriveBodyBounds(r *domain.LandmarkReport) {
	if len(r.Joints) == 0 || len(r.BodyBounds) != 0 {
		return
	}
	minY, maxY := math.MaxFloat64, -math.MaxFloat64
	for _, j := range r.Joints {
		minY = math.Min(minY, j.Y)
		maxY = math.Max(maxY, j.Y)
	}
	r.BodyBounds[domain.BoundsMinY] = minY
	r.BodyBounds[domain.BoundsMaxY] = maxY
	r.BodyBounds[domain.BoundsHeight] = maxY - minY
}

func imageReadable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	_, _, err = image.DecodeConfig(f)
	return err == nil
}

func classifyAnalyzerError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// The analyzer ran and rejected the input; retrying won't change that.
		return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	}
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}
