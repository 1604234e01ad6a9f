package stage

import (
	"fmt"
	"io"
	"math"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

const (
	attrPosition = "POSITION"
	attrJoints   = "JOINTS_0"
	attrWeights  = "WEIGHTS_0"
)

// OpenDocument decodes a GLB/glTF file.
func OpenDocument(path string) (*gltf.Document, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scene %s: %w", path, err)
	}
	return doc, nil
}

// SaveDocument writes doc as GLB, atomically.
func SaveDocument(doc *gltf.Document, path string) error {
	return WriteAtomic(path, func(w io.Writer) error {
		enc := gltf.NewEncoder(w)
		enc.AsBinary = true
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode scene: %w", err)
		}
		return nil
	})
}

// FirstMesh returns the document's first mesh, the pipeline's working mesh.
func FirstMesh(doc *gltf.Document) (*gltf.Mesh, int, bool) {
	if len(doc.Meshes) == 0 {
		return nil, 0, false
	}
	return doc.Meshes[0], 0, true
}

// HasSkin reports whether the scene already carries a skeleton binding.
func HasSkin(doc *gltf.Document) bool {
	return len(doc.Skins) > 0
}

// MeshBounds is the axis-aligned bounding box over every POSITION accessor.
// Accessor min/max are used when present; otherwise positions are scanned.
func MeshBounds(doc *gltf.Document) (bmin, bmax [3]float32, ok bool) {
	bmin = [3]float32{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	bmax = [3]float32{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
	for _, mesh := range doc.Meshes {
		for _, prim := range mesh.Primitives {
			ai, exists := prim.Attributes[attrPosition]
			if !exists || int(ai) >= len(doc.Accessors) {
				continue
			}
			acr := doc.Accessors[ai]
			if len(acr.Min) == 3 && len(acr.Max) == 3 {
				for t := 0; t < 3; t++ {
					bmin[t] = minf(bmin[t], acr.Min[t])
					bmax[t] = maxf(bmax[t], acr.Max[t])
				}
				ok = true
				continue
			}
			pos, err := modeler.ReadPosition(doc, acr, [][3]float32{})
			if err != nil {
				continue
			}
			for _, p := range pos {
				for t := 0; t < 3; t++ {
					bmin[t] = minf(bmin[t], p[t])
					bmax[t] = maxf(bmax[t], p[t])
				}
				ok = true
			}
		}
	}
	return bmin, bmax, ok
}

// MeshHeight is the scene's vertical extent (Y axis).
func MeshHeight(doc *gltf.Document) (float64, bool) {
	bmin, bmax, ok := MeshBounds(doc)
	if !ok {
		return 0, false
	}
	return float64(bmax[1] - bmin[1]), true
}

func primitivePositions(doc *gltf.Document, prim *gltf.Primitive) ([][3]float32, error) {
	ai, exists := prim.Attributes[attrPosition]
	if !exists {
		return nil, nil
	}
	pos, err := modeler.ReadPosition(doc, doc.Accessors[ai], [][3]float32{})
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}
	return pos, nil
}

func primitiveIndices(doc *gltf.Document, prim *gltf.Primitive) ([]uint32, error) {
	if prim.Indices == nil {
		return nil, nil
	}
	idx, err := modeler.ReadIndices(doc, doc.Accessors[*prim.Indices], []uint32{})
	if err != nil {
		return nil, fmt.Errorf("read indices: %w", err)
	}
	return idx, nil
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
