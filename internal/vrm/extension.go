// Package vrm holds the glTF extension types for the VRM 0.x avatar format.
//
// https://github.com/vrm-c/vrm-specification/blob/master/specification/0.0/README.md
package vrm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/qmuntal/gltf"
)

const (
	ExtensionName   = "VRM"
	ExporterVersion = "vrmforge-0.1"
)

func init() {
	gltf.RegisterExtension(ExtensionName, Unmarshal)
}

func Unmarshal(data []byte) (interface{}, error) {
	var ext Extension
	if err := json.Unmarshal(data, &ext); err != nil {
		return nil, err
	}
	return &ext, nil
}

type Meta struct {
	Title           string `json:"title"`
	Version         string `json:"version"`
	Author          string `json:"author"`
	LicenseName     string `json:"licenseName"`
	OtherLicenseURL string `json:"otherLicenseUrl"`
}

type Bone struct {
	Bone             string `json:"bone"`
	Node             int    `json:"node"`
	UseDefaultValues bool   `json:"useDefaultValues"`
}

type Humanoid struct {
	Bones []*Bone `json:"humanBones"`
}

type BlendShapeBind struct {
	Mesh   uint32  `json:"mesh"`
	Index  int     `json:"index"`
	Weight float64 `json:"weight"`
}

type BlendShapeGroup struct {
	Name       string           `json:"name"`
	PresetName string           `json:"presetName"`
	Binds      []BlendShapeBind `json:"binds"`
}

type BlendShapeMaster struct {
	Groups []*BlendShapeGroup `json:"blendShapeGroups"`
}

type FirstPerson struct {
	FirstPersonBone int `json:"firstPersonBone"`
}

type SecondaryAnimationBoneGroup struct {
	Comment string `json:"comment"`
	Bones   []int  `json:"bones"`
}

type SecondaryAnimation struct {
	BoneGroups []*SecondaryAnimationBoneGroup `json:"boneGroups"`
}

// MaterialProperty mirrors the Unity-side material block. Meshes exported
// without a dedicated shader use the glTF-shader passthrough.
type MaterialProperty struct {
	Name              string                 `json:"name"`
	Shader            string                 `json:"shader"`
	RenderQueue       int                    `json:"renderQueue"`
	FloatProperties   map[string]float64     `json:"floatProperties"`
	VectorProperties  map[string]interface{} `json:"vectorProperties"`
	TextureProperties map[string]interface{} `json:"textureProperties"`
	KeywordMap        map[string]interface{} `json:"keywordMap"`
	TagMap            map[string]interface{} `json:"tagMap"`
}

const (
	ShaderGLTF         = "VRM_USE_GLTFSHADER"
	DefaultRenderQueue = 2000
)

func NewMaterialProperty(name string) *MaterialProperty {
	return &MaterialProperty{
		Name:              name,
		Shader:            ShaderGLTF,
		RenderQueue:       DefaultRenderQueue,
		FloatProperties:   map[string]float64{},
		VectorProperties:  map[string]interface{}{},
		TextureProperties: map[string]interface{}{},
		KeywordMap:        map[string]interface{}{},
		TagMap:            map[string]interface{}{},
	}
}

type Extension struct {
	Meta               Meta                `json:"meta"`
	Humanoid           Humanoid            `json:"humanoid"`
	FirstPerson        *FirstPerson        `json:"firstPerson,omitempty"`
	BlendShapeMaster   BlendShapeMaster    `json:"blendShapeMaster"`
	SecondaryAnimation *SecondaryAnimation `json:"secondaryAnimation,omitempty"`
	MaterialProperties []*MaterialProperty `json:"materialProperties"`
	ExporterVersion    string              `json:"exporterVersion"`
}

func NewExtension() *Extension {
	return &Extension{
		Humanoid:           Humanoid{Bones: []*Bone{}},
		BlendShapeMaster:   BlendShapeMaster{Groups: []*BlendShapeGroup{}},
		MaterialProperties: []*MaterialProperty{},
		ExporterVersion:    ExporterVersion,
	}
}

// CheckRequiredBones reports required humanoid bones absent from the table.
func (ext *Extension) CheckRequiredBones() []string {
	present := map[string]bool{}
	for _, b := range ext.Humanoid.Bones {
		present[b.Bone] = true
	}
	var missing []string
	for _, name := range RequiredBones {
		if !present[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

// Document is a gltf.Document with VRM extension accessors.
type Document gltf.Document

// VRM returns the document's VRM extension block, attaching a fresh one if
// absent.
func (doc *Document) VRM() *Extension {
	if ext, ok := doc.Extensions[ExtensionName].(*Extension); ok {
		return ext
	}
	ext := NewExtension()
	if doc.Extensions == nil {
		doc.Extensions = gltf.Extensions{}
	}
	doc.Extensions[ExtensionName] = ext
	if !doc.IsExtensionUsed(ExtensionName) {
		doc.ExtensionsUsed = append(doc.ExtensionsUsed, ExtensionName)
	}
	return ext
}

func (doc *Document) IsExtensionUsed(extname string) bool {
	for _, ex := range doc.ExtensionsUsed {
		if ex == extname {
			return true
		}
	}
	return false
}

func (doc *Document) ValidateBones() error {
	missing := doc.VRM().CheckRequiredBones()
	if len(missing) > 0 {
		return fmt.Errorf("missing required bones: %s", strings.Join(missing, ","))
	}
	return nil
}
