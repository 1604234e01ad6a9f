package stage

import (
	"context"
	"errors"
	"log/slog"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/avatarkit/vrmforge/internal/core/domain"
)

// FaceSetup guarantees the canonical expression/viseme slots exist on the
// working mesh as named morph targets. Slots the mesh already carries are
// untouched; missing ones are created as zero-delta placeholders for
// downstream tooling to sculpt. Idempotent per slot name.
type FaceSetup struct {
	log *slog.Logger
}

func NewFaceSetup(log *slog.Logger) *FaceSetup {
	return &FaceSetup{log: log}
}

func (fs *FaceSetup) Run(ctx context.Context, input, landmarks, output string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := OpenDocument(input)
	if err != nil {
		return err
	}

	mesh, _, ok := FirstMesh(doc)
	if !ok {
		return domain.WrapError(domain.ErrNoMesh, "face setup", errors.New("scene contains no mesh objects"))
	}

	report := LoadReport(fs.log, landmarks)
	if report.HasFace() {
		fs.log.Info("mouth landmarks available for viseme placement", "points", len(report.Mouth))
	} else {
		fs.log.Warn("no mouth landmarks, creating placeholder slots only")
	}

	existing := targetNames(mesh)
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}

	var missing []string
	for _, slot := range domain.BlendShapeSlots {
		if !have[slot] {
			missing = append(missing, slot)
		}
	}

	if len(missing) == 0 {
		fs.log.Info("all blendshape slots present, re-exporting unchanged", "slots", len(existing))
		return CopyAtomic(input, output)
	}

	for _, prim := range mesh.Primitives {
		pos, err := primitivePositions(doc, prim)
		if err != nil || len(pos) == 0 {
			continue
		}
		zeros := make([][3]float32, len(pos))
		for range missing {
			prim.Targets = append(prim.Targets, map[string]uint32{
				attrPosition: modeler.WritePosition(doc, zeros),
			})
		}
	}

	names := append(append([]string{}, existing...), missing...)
	mesh.Extras = map[string]interface{}{"targetNames": names}

	fs.log.Info("blendshape slots ensured",
		"existing", len(existing),
		"created", len(missing),
		"output", output,
	)
	return SaveDocument(doc, output)
}

// targetNames reads the mesh's morph slot names from extras, tolerating
// both decoded-JSON and native forms.
func targetNames(mesh *gltf.Mesh) []string {
	extras, ok := mesh.Extras.(map[string]interface{})
	if !ok {
		return nil
	}
	switch raw := extras["targetNames"].(type) {
	case []string:
		return append([]string{}, raw...)
	case []interface{}:
		names := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				names = append(names, s)
			}
		}
		return names
	}
	return nil
}
