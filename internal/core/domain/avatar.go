package domain

// ReferenceHumanHeight is the assumed real-world height, in meters, that a
// humanoid mesh is normalized against when the skeleton is scaled.
const ReferenceHumanHeight = 1.75

// BlendShapeSlots is the canonical set of expression and viseme slots every
// face-ready mesh must carry, in authoring order. The first entry is the
// rest shape.
var BlendShapeSlots = []string{
	"Basis",
	"aa",
	"ih",
	"ou",
	"ee",
	"oh",
	"neutral",
	"joy",
	"angry",
	"sorrow",
	"fun",
	"blink",
	"blink_l",
	"blink_r",
}
