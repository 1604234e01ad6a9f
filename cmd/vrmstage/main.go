package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/avatarkit/vrmforge/internal/config"
	"github.com/avatarkit/vrmforge/internal/core/domain"
	"github.com/avatarkit/vrmforge/internal/infrastructure/stage"
	"github.com/avatarkit/vrmforge/internal/observability/logging"
)

const usageText = `usage: vrmstage <stage> <input> [landmarks] <output>

stages:
  render <scene.glb> <preview.png>
  vision <preview.png> <landmarks.json>
  rig    <scene.glb> <landmarks.json> <rigged.glb>
  face   <rigged.glb> <landmarks.json> <face.glb>
  export <face.glb> <avatar.vrm>
`

func main() {
	cfg := config.Load()
	// Logs go to stderr so the exit code and stdout stay clean for the
	// invoking runner.
	log := logging.NewJSONLoggerTo(os.Stderr, "vrmstage", cfg.LogLevel)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, os.Args[1], os.Args[2:]); err != nil {
		log.Error("stage failed", "stage", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger, stageName string, args []string) error {
	switch domain.Stage(stageName) {
	case domain.StageRender:
		if len(args) != 2 {
			return argsError(stageName, "<scene.glb> <preview.png>")
		}
		return stage.NewRenderer(log, cfg.RenderSize).Run(ctx, args[0], args[1])

	case domain.StageVision:
		if len(args) != 2 {
			return argsError(stageName, "<preview.png> <landmarks.json>")
		}
		return stage.NewAnalyzer(log, cfg.VisionAnalyzerCmd).Run(ctx, args[0], args[1])

	case domain.StageRig:
		if len(args) != 3 {
			return argsError(stageName, "<scene.glb> <landmarks.json> <rigged.glb>")
		}
		return stage.NewRigger(log).Run(ctx, args[0], args[1], args[2])

	case domain.StageFace:
		if len(args) != 3 {
			return argsError(stageName, "<rigged.glb> <landmarks.json> <face.glb>")
		}
		return stage.NewFaceSetup(log).Run(ctx, args[0], args[1], args[2])

	case domain.StageExport:
		if len(args) != 2 {
			return argsError(stageName, "<face.glb> <avatar.vrm>")
		}
		return stage.NewExporter(log, cfg.ExportPresetPath).Run(ctx, args[0], args[1])

	default:
		return fmt.Errorf("unknown stage %q", stageName)
	}
}

func argsError(stageName, want string) error {
	return fmt.Errorf("stage %s expects arguments %s", stageName, want)
}
