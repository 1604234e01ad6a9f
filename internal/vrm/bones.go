package vrm

// Humanoid bone names from the VRM 0.x specification.
const (
	BoneHips          = "hips"
	BoneSpine         = "spine"
	BoneChest         = "chest"
	BoneNeck          = "neck"
	BoneHead          = "head"
	BoneLeftUpperArm  = "leftUpperArm"
	BoneLeftLowerArm  = "leftLowerArm"
	BoneLeftHand      = "leftHand"
	BoneRightUpperArm = "rightUpperArm"
	BoneRightLowerArm = "rightLowerArm"
	BoneRightHand     = "rightHand"
	BoneLeftUpperLeg  = "leftUpperLeg"
	BoneLeftLowerLeg  = "leftLowerLeg"
	BoneLeftFoot      = "leftFoot"
	BoneRightUpperLeg = "rightUpperLeg"
	BoneRightLowerLeg = "rightLowerLeg"
	BoneRightFoot     = "rightFoot"
)

// RequiredBones is the minimum humanoid set a conforming VRM must map.
var RequiredBones = []string{
	BoneHips,
	BoneSpine,
	BoneChest,
	BoneNeck,
	BoneHead,
	BoneLeftUpperArm,
	BoneLeftLowerArm,
	BoneLeftHand,
	BoneRightUpperArm,
	BoneRightLowerArm,
	BoneRightHand,
	BoneLeftUpperLeg,
	BoneLeftLowerLeg,
	BoneLeftFoot,
	BoneRightUpperLeg,
	BoneRightLowerLeg,
	BoneRightFoot,
}

var requiredBoneSet = func() map[string]bool {
	m := make(map[string]bool, len(RequiredBones))
	for _, name := range RequiredBones {
		m[name] = true
	}
	return m
}()

// IsHumanoidBone reports whether a node name is one of the required
// humanoid bone names, as produced by the rigging stage.
func IsHumanoidBone(name string) bool {
	return requiredBoneSet[name]
}
