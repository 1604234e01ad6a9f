package domain

// Joint is one detected body landmark in normalized [0,1] image space.
// Z is relative depth as reported by the pose model, not metric.
type Joint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

type Point2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Mouth landmark keys.
const (
	MouthTop         = "top"
	MouthBottom      = "bottom"
	MouthLeftCorner  = "left_corner"
	MouthRightCorner = "right_corner"
)

// Body bounds keys.
const (
	BoundsMinY   = "min_y"
	BoundsMaxY   = "max_y"
	BoundsHeight = "height"
)

// LandmarkReport is the vision stage's output. Sections are maps so an
// absent detection serializes as {} rather than a zero-filled record.
type LandmarkReport struct {
	Joints     map[int]Joint      `json:"joints"`
	Mouth      map[string]Point2  `json:"mouth"`
	BodyBounds map[string]float64 `json:"body_bounds"`
}

// EmptyReport is the degraded-mode report: all sections present, none
// populated.
func EmptyReport() *LandmarkReport {
	return &LandmarkReport{
		Joints:     map[int]Joint{},
		Mouth:      map[string]Point2{},
		BodyBounds: map[string]float64{},
	}
}

func (r *LandmarkReport) HasPose() bool {
	return r != nil && len(r.Joints) > 0
}

func (r *LandmarkReport) HasFace() bool {
	return r != nil && len(r.Mouth) > 0
}

func (r *LandmarkReport) BodyHeight() (float64, bool) {
	if r == nil {
		return 0, false
	}
	h, ok := r.BodyBounds[BoundsHeight]
	return h, ok
}
