package domain

import (
	"strings"
	"testing"
)

func TestNewArtifactSetNames(t *testing.T) {
	a := NewArtifactSet("job42", "My Avatar.glb")

	if a.Base != "job42_My_Avatar" {
		t.Fatalf("Base = %q, want %q", a.Base, "job42_My_Avatar")
	}
	if got := a.Source(); got != "job42_My_Avatar.glb" {
		t.Fatalf("Source() = %q", got)
	}
	if got := a.Render(); got != "job42_My_Avatar.png" {
		t.Fatalf("Render() = %q", got)
	}
	if got := a.Report(); got != "job42_My_Avatar.json" {
		t.Fatalf("Report() = %q", got)
	}
	if got := a.Rigged(); got != "job42_My_Avatar_rigged.glb" {
		t.Fatalf("Rigged() = %q", got)
	}
	if got := a.FaceReady(); got != "job42_My_Avatar_face.glb" {
		t.Fatalf("FaceReady() = %q", got)
	}
	if got := a.Avatar(); got != "job42_My_Avatar.vrm" {
		t.Fatalf("Avatar() = %q", got)
	}
}

func TestNewArtifactSetUniquePerJob(t *testing.T) {
	a := NewArtifactSet("job1", "model.glb")
	b := NewArtifactSet("job2", "model.glb")
	if a.Base == b.Base {
		t.Fatalf("expected distinct bases for distinct jobs, both %q", a.Base)
	}
}

func TestNewArtifactSetSanitizesHostileNames(t *testing.T) {
	a := NewArtifactSet("job1", "../../etc/passwd")
	if strings.Contains(a.Base, "/") || strings.Contains(a.Base, "..") {
		t.Fatalf("base leaked path separators: %q", a.Base)
	}

	a = NewArtifactSet("job1", "")
	if a.Source() != "job1_model.glb" {
		t.Fatalf("empty filename Source() = %q", a.Source())
	}
}

func TestNewArtifactSetKeepsSourceExtension(t *testing.T) {
	a := NewArtifactSet("j", "scene.gltf")
	if a.Source() != "j_scene.gltf" {
		t.Fatalf("Source() = %q", a.Source())
	}
	if a.Avatar() != "j_scene.vrm" {
		t.Fatalf("Avatar() = %q", a.Avatar())
	}
}

func TestCleanupPatternsCoverAllSuffixFamilies(t *testing.T) {
	a := ArtifactSetForBase("j_model")
	pats := a.CleanupPatterns()
	want := []string{"j_model.*", "j_model_rigged.*", "j_model_face.*"}
	if len(pats) != len(want) {
		t.Fatalf("patterns = %v", pats)
	}
	for i, p := range pats {
		if p != want[i] {
			t.Fatalf("pattern[%d] = %q, want %q", i, p, want[i])
		}
	}
}

func TestStageErrorAttribution(t *testing.T) {
	err := &StageError{Stage: StageRig, Err: ErrNoMesh}

	stage, ok := FailedStage(err)
	if !ok || stage != StageRig {
		t.Fatalf("FailedStage = %q, %v", stage, ok)
	}
	if !IsKind(err, ErrNoMesh) {
		t.Fatalf("expected ErrNoMesh kind through StageError")
	}

	if _, ok := FailedStage(ErrTemporary); ok {
		t.Fatalf("untagged error must not report a stage")
	}
}

func TestEmptyReportShape(t *testing.T) {
	r := EmptyReport()
	if r.HasPose() || r.HasFace() {
		t.Fatalf("empty report reports detections")
	}
	if _, ok := r.BodyHeight(); ok {
		t.Fatalf("empty report has body height")
	}
	if r.Joints == nil || r.Mouth == nil || r.BodyBounds == nil {
		t.Fatalf("empty report sections must be non-nil maps")
	}
}
