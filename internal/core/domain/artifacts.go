package domain

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ArtifactSet names every file one conversion produces. The base carries a
// job-unique prefix so concurrent uploads of the same filename never share
// paths in the artifact directory.
type ArtifactSet struct {
	Base      string
	SourceExt string
}

func NewArtifactSet(jobID, filename string) ArtifactSet {
	name := sanitizeFilename(filename)
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = ".glb"
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return ArtifactSet{
		Base:      fmt.Sprintf("%s_%s", jobID, stem),
		SourceExt: ext,
	}
}

// ArtifactSetForBase rebuilds a set from a previously issued base name, as
// seen in download and cleanup requests.
func ArtifactSetForBase(base string) ArtifactSet {
	return ArtifactSet{Base: base, SourceExt: ".glb"}
}

// Artifacts reconstructs the job's artifact name set from its persisted
// base name and upload filename.
func (j *Job) Artifacts() ArtifactSet {
	set := ArtifactSetForBase(j.BaseName)
	if ext := strings.ToLower(filepath.Ext(j.Filename)); ext != "" {
		set.SourceExt = ext
	}
	return set
}

func (a ArtifactSet) Source() string    { return a.Base + a.SourceExt }
func (a ArtifactSet) Render() string    { return a.Base + ".png" }
func (a ArtifactSet) Report() string    { return a.Base + ".json" }
func (a ArtifactSet) Rigged() string    { return a.Base + "_rigged.glb" }
func (a ArtifactSet) FaceReady() string { return a.Base + "_face.glb" }
func (a ArtifactSet) Avatar() string    { return a.Base + ".vrm" }

// CleanupPatterns are the globs an explicit cleanup removes, one per naming
// suffix family.
func (a ArtifactSet) CleanupPatterns() []string {
	return []string{
		a.Base + ".*",
		a.Base + "_rigged.*",
		a.Base + "_face.*",
	}
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "model.glb"
	}
	return base
}
