package recorder

import (
	"fmt"
	"strings"
)

// Modality identifies a sensor data stream
type Modality int

const (
	Hand Modality = iota
	Body
	Face
	BlendShape
	Depth
	Color
	SpatialMap
)

var modalityNames = map[Modality]string{
	Hand:       "hand",
	Body:       "body",
	Face:       "face",
	BlendShape: "blendshape",
	Depth:      "depth",
	Color:      "color",
	SpatialMap: "spatialmap",
}

// AllModalities lists every modality in declaration order
func AllModalities() []Modality {
	return []Modality{Hand, Body, Face, BlendShape, Depth, Color, SpatialMap}
}

func (m Modality) String() string {
	if name, ok := modalityNames[m]; ok {
		return name
	}
	return fmt.Sprintf("modality(%d)", int(m))
}

// ParseModality resolves a config key such as "hand" or "SpatialMap".
// "slam" is accepted as an alias of spatialmap.
func ParseModality(s string) (Modality, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "_", "")
	key = strings.ReplaceAll(key, "-", "")
	if key == "slam" {
		return SpatialMap, nil
	}
	for m, name := range modalityNames {
		if name == key {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown modality: %q", s)
}
