// Package stage implements the five pipeline stages. Each stage reads one
// artifact path and writes a new one; none mutates its input. Stages run
// inside the vrmstage process, so warnings go to the logger (stderr) and
// fatal conditions surface as errors that become a non-zero exit.
package stage

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/avatarkit/vrmforge/internal/core/domain"
)

// WriteAtomic writes an artifact through a temp file in the same directory
// and renames it into place, so a crash mid-write never leaves a truncated
// artifact visible under the final name.
func WriteAtomic(path string, write func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}

// CopyAtomic re-exports src unchanged at dst.
func CopyAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source artifact: %w", err)
	}
	defer in.Close()
	return WriteAtomic(dst, func(w io.Writer) error {
		if _, err := io.Copy(w, in); err != nil {
			return fmt.Errorf("copy artifact: %w", err)
		}
		return nil
	})
}

// LoadReport reads a landmark report, degrading to an empty report on any
// read or decode problem. A missing or malformed report never fails a stage.
func LoadReport(log *slog.Logger, path string) *domain.LandmarkReport {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("landmark report unreadable, continuing with empty report", "path", path, "error", err)
		return domain.EmptyReport()
	}
	var r domain.LandmarkReport
	if err := json.Unmarshal(data, &r); err != nil {
		log.Warn("landmark report malformed, continuing with empty report", "path", path, "error", err)
		return domain.EmptyReport()
	}
	if r.Joints == nil {
		r.Joints = map[int]domain.Joint{}
	}
	if r.Mouth == nil {
		r.Mouth = map[string]domain.Point2{}
	}
	if r.BodyBounds == nil {
		r.BodyBounds = map[string]float64{}
	}
	return &r
}

// SaveReport writes a landmark report atomically.
func SaveReport(path string, r *domain.LandmarkReport) error {
	return WriteAtomic(path, func(w io.Writer) error {
		if err := json.NewEncoder(w).Encode(r); err != nil {
			return fmt.Errorf("encode report: %w", err)
		}
		return nil
	})
}
