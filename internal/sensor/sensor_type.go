package sensor

import "fmt"

// SensorType identifies the physical sensor that produced a frame.
type SensorType int32

const (
	PhotoVideo SensorType = iota
	ShortThrowToFDepth
	ShortThrowToFReflectivity
	LongThrowToFDepth
	LongThrowToFReflectivity
	VisibleLightLeftLeft
	VisibleLightLeftFront
	VisibleLightRightFront
	VisibleLightRightRight

	numberOfSensorTypes
)

var sensorTypeNames = [...]string{
	PhotoVideo:                "PhotoVideo",
	ShortThrowToFDepth:        "ShortThrowToFDepth",
	ShortThrowToFReflectivity: "ShortThrowToFReflectivity",
	LongThrowToFDepth:         "LongThrowToFDepth",
	LongThrowToFReflectivity:  "LongThrowToFReflectivity",
	VisibleLightLeftLeft:      "VisibleLightLeftLeft",
	VisibleLightLeftFront:     "VisibleLightLeftFront",
	VisibleLightRightFront:    "VisibleLightRightFront",
	VisibleLightRightRight:    "VisibleLightRightRight",
}

// SensorTypes lists every valid sensor type in declaration order.
func SensorTypes() []SensorType {
	types := make([]SensorType, 0, numberOfSensorTypes)
	for t := SensorType(0); t < numberOfSensorTypes; t++ {
		types = append(types, t)
	}
	return types
}

// Valid reports whether t is a known sensor type.
func (t SensorType) Valid() bool {
	return t >= 0 && t < numberOfSensorTypes
}

func (t SensorType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("SensorType(%d)", int32(t))
	}
	return sensorTypeNames[t]
}

// IsVisibleLight reports whether t is one of the four grayscale
// visible-light tracking cameras. Their intrinsics are calibrated against an
// unpacked image four times wider than the delivered bitmap.
func (t SensorType) IsVisibleLight() bool {
	switch t {
	case VisibleLightLeftFront, VisibleLightLeftLeft, VisibleLightRightFront, VisibleLightRightRight:
		return true
	}
	return false
}

// ParseSensorType maps a sensor type name back to its value.
func ParseSensorType(name string) (SensorType, error) {
	for i, n := range sensorTypeNames {
		if n == name {
			return SensorType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown sensor type %q", name)
}
