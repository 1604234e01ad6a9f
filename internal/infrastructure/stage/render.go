package stage

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/qmuntal/gltf"
	"github.com/unixpickle/model3d/model3d"
	"github.com/unixpickle/model3d/render3d"
)

const defaultRenderSize = 512

// Renderer produces the reference image: a fixed front-facing ray-cast of
// the scene. Camera sits 2.5 units in front at 1.0 up, looking level, with
// one point light up and to the side. An empty scene renders blank rather
// than failing.
type Renderer struct {
	log  *slog.Logger
	size int
}

func NewRenderer(log *slog.Logger, size int) *Renderer {
	if size <= 0 {
		size = defaultRenderSize
	}
	return &Renderer{log: log, size: size}
}

func (r *Renderer) Run(ctx context.Context, input, output string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := OpenDocument(input)
	if err != nil {
		return err
	}

	tris := collectTriangles(doc)
	img := render3d.NewImage(r.size, r.size)
	if len(tris) == 0 {
		r.log.Warn("scene has no renderable geometry, writing blank image", "input", input)
		return saveImage(img, output)
	}

	mesh := model3d.NewMesh()
	for _, t := range tris {
		mesh.Add(&t)
	}

	object := render3d.Objectify(model3d.MeshToCollider(mesh), nil)
	caster := &render3d.RayCaster{
		Camera: render3d.NewCameraAt(
			model3d.XYZ(0, 1.0, 2.5),
			model3d.XYZ(0, 1.0, 0),
			0,
		),
		Lights: []*render3d.PointLight{
			{Origin: model3d.XYZ(5, 5, 5), Color: render3d.NewColor(30)},
		},
	}
	caster.Render(img, object)

	r.log.Info("rendered reference image", "input", input, "output", output, "triangles", len(tris), "size", r.size)
	return saveImage(img, output)
}

// saveImage publishes the PNG through a temp name so a partial render never
// lands at the output path.
func saveImage(img *render3d.Image, output string) error {
	tmp := output + ".tmp"
	if err := img.Save(tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save render: %w", err)
	}
	if err := os.Rename(tmp, output); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publish render: %w", err)
	}
	return nil
}

func collectTriangles(doc *gltf.Document) []model3d.Triangle {
	var tris []model3d.Triangle
	for _, mesh := range doc.Meshes {
		for _, prim := range mesh.Primitives {
			pos, err := primitivePositions(doc, prim)
			if err != nil || len(pos) == 0 {
				continue
			}
			idx, err := primitiveIndices(doc, prim)
			if err != nil {
				continue
			}
			if idx == nil {
				// Non-indexed: sequential vertex triples.
				for i := 0; i+2 < len(pos); i += 3 {
					tris = append(tris, triangleAt(pos, uint32(i), uint32(i+1), uint32(i+2)))
				}
				continue
			}
			for i := 0; i+2 < len(idx); i += 3 {
				a, b, c := idx[i], idx[i+1], idx[i+2]
				if int(a) >= len(pos) || int(b) >= len(pos) || int(c) >= len(pos) {
					continue
				}
				tris = append(tris, triangleAt(pos, a, b, c))
			}
		}
	}
	return tris
}

func triangleAt(pos [][3]float32, a, b, c uint32) model3d.Triangle {
	return model3d.Triangle{
		coord(pos[a]),
		coord(pos[b]),
		coord(pos[c]),
	}
}

func coord(p [3]float32) model3d.Coord3D {
	return model3d.XYZ(float64(p[0]), float64(p[1]), float64(p[2]))
}
