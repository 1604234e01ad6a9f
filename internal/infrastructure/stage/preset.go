package stage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ExportPreset carries operator-supplied metadata and material overrides
// for the export stage. All fields are optional; a missing file yields the
// zero preset.
type ExportPreset struct {
	Meta struct {
		Title           string `yaml:"title"`
		Version         string `yaml:"version"`
		Author          string `yaml:"author"`
		LicenseName     string `yaml:"license_name"`
		OtherLicenseURL string `yaml:"other_license_url"`
	} `yaml:"meta"`
	Materials map[string]MaterialSetting `yaml:"materials"`
}

type MaterialSetting struct {
	ForceUnlit bool `yaml:"force_unlit"`
}

func LoadExportPreset(path string) (*ExportPreset, error) {
	if path == "" {
		return &ExportPreset{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read export preset: %w", err)
	}
	var preset ExportPreset
	if err := yaml.Unmarshal(data, &preset); err != nil {
		return nil, fmt.Errorf("parse export preset: %w", err)
	}
	return &preset, nil
}
