package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/avatarkit/vrmforge/internal/core/domain"
)

func newStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	return s
}

func TestSaveOpenRoundTrip(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	if err := s.Save(ctx, "job1_model.glb", strings.NewReader("glb-bytes")); err != nil {
		t.Fatalf("save: %v", err)
	}
	rc, err := s.Open(ctx, "job1_model.glb")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "glb-bytes" {
		t.Fatalf("content = %q", data)
	}

	size, err := s.Stat(ctx, "job1_model.glb")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if size != int64(len("glb-bytes")) {
		t.Fatalf("size = %d", size)
	}
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	s := newStorage(t)
	if err := s.Save(context.Background(), "a.glb", strings.NewReader("x")); err != nil {
		t.Fatalf("save: %v", err)
	}
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "a.glb" {
		t.Fatalf("unexpected dir contents: %v", entries)
	}
}

func TestMissingArtifactIsNotFoundKind(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	if _, err := s.Open(ctx, "nope.vrm"); !domain.IsKind(err, domain.ErrArtifactNotFound) {
		t.Fatalf("open error = %v, want ErrArtifactNotFound", err)
	}
	if _, err := s.Stat(ctx, "nope.vrm"); !domain.IsKind(err, domain.ErrArtifactNotFound) {
		t.Fatalf("stat error = %v, want ErrArtifactNotFound", err)
	}
}

func TestPathConfinesKeys(t *testing.T) {
	s := newStorage(t)
	p := s.Path("../../etc/passwd")
	if filepath.Dir(p) != s.basePath {
		t.Fatalf("path escapes base dir: %s", p)
	}
}

func TestRemoveMatchingDeletesSuffixFamily(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()
	set := domain.ArtifactSetForBase("job1_model")
	for _, key := range []string{
		set.Source(), set.Render(), set.Report(),
		set.Rigged(), set.FaceReady(), set.Avatar(),
		"job2_other.vrm",
	} {
		if err := s.Save(ctx, key, strings.NewReader("x")); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}

	removed, err := s.RemoveMatching(ctx, set.CleanupPatterns())
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed != 6 {
		t.Fatalf("removed = %d, want 6", removed)
	}
	if _, err := s.Stat(ctx, "job2_other.vrm"); err != nil {
		t.Fatalf("unrelated artifact removed: %v", err)
	}
	if _, err := s.Stat(ctx, set.Avatar()); !domain.IsKind(err, domain.ErrArtifactNotFound) {
		t.Fatal("avatar artifact survived cleanup")
	}
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	if err := s.Save(ctx, "old.glb", strings.NewReader("x")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, "new.glb", strings.NewReader("x")); err != nil {
		t.Fatalf("save: %v", err)
	}
	past := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(s.Path("old.glb"), past, past); err != nil {
		t.Fatalf("age artifact: %v", err)
	}

	removed, err := s.Sweep(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := s.Stat(ctx, "new.glb"); err != nil {
		t.Fatalf("fresh artifact swept: %v", err)
	}
}
