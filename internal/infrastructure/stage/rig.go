package stage

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"

	"github.com/avatarkit/vrmforge/internal/core/domain"
	"github.com/avatarkit/vrmforge/internal/vrm"
)

// templateBone is one bone of the generic humanoid skeleton, positioned in
// meters for a reference-height human, origin at the feet, Y up.
type templateBone struct {
	name   string
	parent string
	pos    [3]float64
}

var humanoidTemplate = []templateBone{
	{vrm.BoneHips, "", [3]float64{0, 0.95, 0}},
	{vrm.BoneSpine, vrm.BoneHips, [3]float64{0, 1.08, 0}},
	{vrm.BoneChest, vrm.BoneSpine, [3]float64{0, 1.25, 0}},
	{vrm.BoneNeck, vrm.BoneChest, [3]float64{0, 1.45, 0}},
	{vrm.BoneHead, vrm.BoneNeck, [3]float64{0, 1.55, 0}},
	{vrm.BoneLeftUpperArm, vrm.BoneChest, [3]float64{0.18, 1.40, 0}},
	{vrm.BoneLeftLowerArm, vrm.BoneLeftUpperArm, [3]float64{0.44, 1.40, 0}},
	{vrm.BoneLeftHand, vrm.BoneLeftLowerArm, [3]float64{0.68, 1.40, 0}},
	{vrm.BoneRightUpperArm, vrm.BoneChest, [3]float64{-0.18, 1.40, 0}},
	{vrm.BoneRightLowerArm, vrm.BoneRightUpperArm, [3]float64{-0.44, 1.40, 0}},
	{vrm.BoneRightHand, vrm.BoneRightLowerArm, [3]float64{-0.68, 1.40, 0}},
	{vrm.BoneLeftUpperLeg, vrm.BoneHips, [3]float64{0.09, 0.90, 0}},
	{vrm.BoneLeftLowerLeg, vrm.BoneLeftUpperLeg, [3]float64{0.09, 0.50, 0}},
	{vrm.BoneLeftFoot, vrm.BoneLeftLowerLeg, [3]float64{0.09, 0.08, 0}},
	{vrm.BoneRightUpperLeg, vrm.BoneHips, [3]float64{-0.09, 0.90, 0}},
	{vrm.BoneRightLowerLeg, vrm.BoneRightUpperLeg, [3]float64{-0.09, 0.50, 0}},
	{vrm.BoneRightFoot, vrm.BoneRightLowerLeg, [3]float64{-0.09, 0.08, 0}},
}

const armatureNodeName = "Armature"

// Rigger binds the working mesh to a generic humanoid skeleton. A scene
// that already carries a skin passes through untouched; a scene with no
// mesh is fatal. Skin-binding failures degrade to an unbound skeleton.
type Rigger struct {
	log *slog.Logger
}

func NewRigger(log *slog.Logger) *Rigger {
	return &Rigger{log: log}
}

func (rg *Rigger) Run(ctx context.Context, input, landmarks, output string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := OpenDocument(input)
	if err != nil {
		return err
	}

	mesh, meshIdx, ok := FirstMesh(doc)
	if !ok {
		return domain.WrapError(domain.ErrNoMesh, "rig", errors.New("scene contains no mesh objects"))
	}

	if HasSkin(doc) {
		rg.log.Info("mesh already skinned, re-exporting unchanged", "input", input)
		return CopyAtomic(input, output)
	}

	report := LoadReport(rg.log, landmarks)
	bmin, bmax, bounded := MeshBounds(doc)
	if !bounded {
		rg.log.Warn("mesh has no readable positions, skeleton will be zero-scaled")
	}
	meshHeight := float64(bmax[1] - bmin[1])
	if !bounded {
		meshHeight = 0
		bmin = [3]float32{}
	}
	scale := meshHeight / domain.ReferenceHumanHeight

	// The landmark report informs operators, not the scale: body bounds from
	// a 2D render are not a reliable metric signal, so sizing stays derived
	// from mesh geometry alone.
	if report.HasPose() {
		h, _ := report.BodyHeight()
		rg.log.Info("pose landmarks available", "joints", len(report.Joints), "image_height", h)
	} else {
		rg.log.Warn("no pose landmarks, rigging from mesh bounds only")
	}
	rg.log.Info("skeleton scale computed", "mesh_height", meshHeight, "scale", scale)

	joints, boneWorld := rg.buildSkeleton(doc, scale, float64(bmin[1]))

	if err := rg.bindSkin(doc, mesh, uint32(meshIdx), joints, boneWorld); err != nil {
		rg.log.Warn("automatic skin binding failed, exporting unbound skeleton", "error", err)
	}

	return SaveDocument(doc, output)
}

// buildSkeleton appends the humanoid bone hierarchy under an armature node
// whose base sits at the mesh's lowest point. Returns the bone node indices
// in template order plus each bone's scene-space position for binding.
func (rg *Rigger) buildSkeleton(doc *gltf.Document, scale, baseY float64) ([]uint32, [][3]float64) {
	nodeByName := map[string]uint32{}
	posByName := map[string][3]float64{}

	armature := uint32(len(doc.Nodes))
	doc.Nodes = append(doc.Nodes, &gltf.Node{
		Name:        armatureNodeName,
		Translation: [3]float32{0, float32(baseY), 0},
		Rotation:    [4]float32{0, 0, 0, 1},
	})

	joints := make([]uint32, 0, len(humanoidTemplate))
	world := make([][3]float64, 0, len(humanoidTemplate))
	for _, b := range humanoidTemplate {
		idx := uint32(len(doc.Nodes))
		doc.Nodes = append(doc.Nodes, &gltf.Node{
			Name:     b.name,
			Rotation: [4]float32{0, 0, 0, 1},
		})
		nodeByName[b.name] = idx
		posByName[b.name] = b.pos
		joints = append(joints, idx)
		world = append(world, [3]float64{
			b.pos[0] * scale,
			b.pos[1]*scale + baseY,
			b.pos[2] * scale,
		})
	}

	for _, b := range humanoidTemplate {
		node := doc.Nodes[nodeByName[b.name]]
		if b.parent == "" {
			node.Translation = [3]float32{
				float32(b.pos[0] * scale),
				float32(b.pos[1] * scale),
				float32(b.pos[2] * scale),
			}
			parent := doc.Nodes[armature]
			parent.Children = append(parent.Children, nodeByName[b.name])
			continue
		}
		pp := posByName[b.parent]
		node.Translation = [3]float32{
			float32((b.pos[0] - pp[0]) * scale),
			float32((b.pos[1] - pp[1]) * scale),
			float32((b.pos[2] - pp[2]) * scale),
		}
		parent := doc.Nodes[nodeByName[b.parent]]
		parent.Children = append(parent.Children, nodeByName[b.name])
	}

	if len(doc.Scenes) == 0 {
		doc.Scenes = append(doc.Scenes, &gltf.Scene{Name: "Scene"})
		doc.Scene = gltf.Index(0)
	}
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, armature)

	return joints, world
}

// bindSkin attaches JOINTS_0/WEIGHTS_0 nearest-bone weights to every
// primitive of the working mesh and hangs a skin off the mesh's node.
func (rg *Rigger) bindSkin(doc *gltf.Document, mesh *gltf.Mesh, meshIdx uint32, joints []uint32, boneWorld [][3]float64) error {
	if len(joints) == 0 {
		return errors.New("no joints to bind")
	}

	bound := false
	for _, prim := range mesh.Primitives {
		pos, err := primitivePositions(doc, prim)
		if err != nil {
			return err
		}
		if len(pos) == 0 {
			continue
		}

		joints0 := make([][4]uint16, len(pos))
		weights0 := make([][4]float32, len(pos))
		for v, p := range pos {
			joints0[v] = [4]uint16{nearestBone(p, boneWorld), 0, 0, 0}
			weights0[v] = [4]float32{1, 0, 0, 0}
		}
		prim.Attributes[attrJoints] = modeler.WriteJoints(doc, joints0)
		prim.Attributes[attrWeights] = modeler.WriteWeights(doc, weights0)
		bound = true
	}
	if !bound {
		return errors.New("no primitives with readable positions")
	}

	skin := uint32(len(doc.Skins))
	doc.Skins = append(doc.Skins, &gltf.Skin{
		Name:                "Armature",
		Joints:              joints,
		InverseBindMatrices: gltf.Index(writeInverseBinds(doc, boneWorld)),
	})

	node := meshNode(doc, meshIdx)
	node.Skin = gltf.Index(skin)
	return nil
}

func meshNode(doc *gltf.Document, meshIdx uint32) *gltf.Node {
	for _, node := range doc.Nodes {
		if node.Mesh != nil && *node.Mesh == meshIdx {
			return node
		}
	}
	idx := uint32(len(doc.Nodes))
	doc.Nodes = append(doc.Nodes, &gltf.Node{
		Name:     doc.Meshes[meshIdx].Name,
		Mesh:     gltf.Index(meshIdx),
		Rotation: [4]float32{0, 0, 0, 1},
	})
	if len(doc.Scenes) > 0 {
		doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, idx)
	}
	return doc.Nodes[idx]
}

// writeInverseBinds stores one inverse bind matrix per bone: identity
// rotation, translated by the negated bone position.
func writeInverseBinds(doc *gltf.Document, boneWorld [][3]float64) uint32 {
	rows := make([][4]float32, 0, len(boneWorld)*4)
	for _, p := range boneWorld {
		rows = append(rows,
			[4]float32{1, 0, 0, 0},
			[4]float32{0, 1, 0, 0},
			[4]float32{0, 0, 1, 0},
			[4]float32{float32(-p[0]), float32(-p[1]), float32(-p[2]), 1},
		)
	}
	acc := modeler.WriteTangent(doc, rows)
	doc.Accessors[acc].Type = gltf.AccessorMat4
	doc.Accessors[acc].Count /= 4
	doc.BufferViews[*doc.Accessors[acc].BufferView].ByteStride *= 4
	return acc
}

func nearestBone(p [3]float32, boneWorld [][3]float64) uint16 {
	best := 0
	bestDist := math.MaxFloat64
	for i, b := range boneWorld {
		dx := float64(p[0]) - b[0]
		dy := float64(p[1]) - b[1]
		dz := float64(p[2]) - b[2]
		d := dx*dx + dy*dy + dz*dz
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return uint16(best)
}
