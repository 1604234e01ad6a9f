package stage

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/qmuntal/gltf"

	"github.com/avatarkit/vrmforge/internal/vrm"
)

// visemePresets maps slot names to VRM preset names where they differ.
var visemePresets = map[string]string{
	"aa": "a",
	"ih": "i",
	"ou": "u",
	"ee": "e",
	"oh": "o",
}

// Exporter authors the VRM extension block onto the face-ready scene. Any
// authoring failure falls back to re-exporting the input bytes under the
// .vrm name, so the output always exists, possibly without avatar
// metadata. The fallback is logged but not fatal.
type Exporter struct {
	log        *slog.Logger
	presetPath string
}

func NewExporter(log *slog.Logger, presetPath string) *Exporter {
	return &Exporter{log: log, presetPath: presetPath}
}

func (ex *Exporter) Run(ctx context.Context, input, output string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := OpenDocument(input)
	if err != nil {
		return err
	}

	if !sceneHasSkeleton(doc) {
		ex.log.Warn("no skeleton in scene, avatar export will likely degrade", "input", input)
	}

	if err := ex.author(doc, output); err != nil {
		ex.log.Warn("vrm authoring failed, falling back to renamed scene export", "error", err)
		return CopyAtomic(input, output)
	}

	if err := SaveDocument(doc, output); err != nil {
		ex.log.Warn("vrm encode failed, falling back to renamed scene export", "error", err)
		return CopyAtomic(input, output)
	}

	ex.log.Info("vrm export complete", "output", output)
	return nil
}

func (ex *Exporter) author(doc *gltf.Document, output string) error {
	preset := ex.loadPreset()

	vdoc := (*vrm.Document)(doc)
	ext := vdoc.VRM()

	ext.Meta = vrm.Meta{
		Title:           preset.Meta.Title,
		Version:         preset.Meta.Version,
		Author:          preset.Meta.Author,
		LicenseName:     preset.Meta.LicenseName,
		OtherLicenseURL: preset.Meta.OtherLicenseURL,
	}
	if ext.Meta.Title == "" {
		base := filepath.Base(output)
		ext.Meta.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if ext.Meta.Version == "" {
		ext.Meta.Version = "1.0"
	}

	ext.Humanoid.Bones = ext.Humanoid.Bones[:0]
	headNode := -1
	for i, node := range doc.Nodes {
		if !vrm.IsHumanoidBone(node.Name) {
			continue
		}
		ext.Humanoid.Bones = append(ext.Humanoid.Bones, &vrm.Bone{
			Bone:             node.Name,
			Node:             i,
			UseDefaultValues: true,
		})
		if node.Name == vrm.BoneHead {
			headNode = i
		}
	}
	if err := vdoc.ValidateBones(); err != nil {
		return err
	}
	if headNode >= 0 {
		ext.FirstPerson = &vrm.FirstPerson{FirstPersonBone: headNode}
	}

	ext.BlendShapeMaster.Groups = ext.BlendShapeMaster.Groups[:0]
	if mesh, meshIdx, ok := FirstMesh(doc); ok {
		for i, name := range targetNames(mesh) {
			if name == "Basis" {
				// Rest shape, not an expression.
				continue
			}
			presetName := name
			if p, ok := visemePresets[name]; ok {
				presetName = p
			}
			ext.BlendShapeMaster.Groups = append(ext.BlendShapeMaster.Groups, &vrm.BlendShapeGroup{
				Name:       name,
				PresetName: presetName,
				Binds: []vrm.BlendShapeBind{{
					Mesh:   uint32(meshIdx),
					Index:  i,
					Weight: 100,
				}},
			})
		}
	}

	ext.MaterialProperties = ext.MaterialProperties[:0]
	for _, mat := range doc.Materials {
		ext.MaterialProperties = append(ext.MaterialProperties, vrm.NewMaterialProperty(mat.Name))
	}
	applyMaterialSettings(doc, preset)

	return nil
}

func (ex *Exporter) loadPreset() *ExportPreset {
	preset, err := LoadExportPreset(ex.presetPath)
	if err != nil {
		ex.log.Warn("export preset unreadable, using defaults", "path", ex.presetPath, "error", err)
		return &ExportPreset{}
	}
	return preset
}

func sceneHasSkeleton(doc *gltf.Document) bool {
	if HasSkin(doc) {
		return true
	}
	for _, node := range doc.Nodes {
		if node.Name == armatureNodeName || vrm.IsHumanoidBone(node.Name) {
			return true
		}
	}
	return false
}

const unlitExtension = "KHR_materials_unlit"

// applyMaterialSettings applies per-material preset overrides; "*" matches
// any material without its own entry.
func applyMaterialSettings(doc *gltf.Document, preset *ExportPreset) {
	if len(preset.Materials) == 0 {
		return
	}
	vdoc := (*vrm.Document)(doc)
	for _, mat := range doc.Materials {
		setting, ok := preset.Materials[mat.Name]
		if !ok {
			setting, ok = preset.Materials["*"]
		}
		if !ok || !setting.ForceUnlit {
			continue
		}
		if !vdoc.IsExtensionUsed(unlitExtension) {
			doc.ExtensionsUsed = append(doc.ExtensionsUsed, unlitExtension)
		}
		mat.Extensions = gltf.Extensions{unlitExtension: map[string]string{}}
	}
}
