package usecase

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/avatarkit/vrmforge/internal/core/domain"
	"github.com/avatarkit/vrmforge/internal/core/ports"
)

// CleanupUseCase removes every artifact belonging to one conversion. The
// filename may be any artifact of the set; its base name selects the whole
// suffix family.
type CleanupUseCase struct {
	store ports.ArtifactStore
	log   *slog.Logger
}

func NewCleanupUseCase(store ports.ArtifactStore, log *slog.Logger) *CleanupUseCase {
	return &CleanupUseCase{store: store, log: log}
}

func (uc *CleanupUseCase) Cleanup(ctx context.Context, filename string) (int, error) {
	name := filepath.Base(filename)
	base := strings.TrimSuffix(name, filepath.Ext(name))
	base = strings.TrimSuffix(base, "_rigged")
	base = strings.TrimSuffix(base, "_face")
	if base == "" || base == "." {
		return 0, domain.WrapError(domain.ErrInvalidInput, "cleanup", errors.New("empty base name"))
	}

	set := domain.ArtifactSetForBase(base)
	removed, err := uc.store.RemoveMatching(ctx, set.CleanupPatterns())
	if err != nil {
		return removed, err
	}
	uc.log.Info("artifacts cleaned", "base", base, "removed", removed)
	return removed, nil
}
