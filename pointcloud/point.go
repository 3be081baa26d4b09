package pointcloud

import (
	"github.com/golang/geo/r3"
)

// NewVector is a convenience method for creating a vector.
func NewVector(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

// Data describes the data associated with a single point within a PointCloud.
type Data interface {
	// HasIntensity returns whether or not this point has an intensity
	// reading associated with it.
	HasIntensity() bool

	// Intensity returns the sensor intensity reading, if it exists.
	Intensity() float64

	// SetIntensity sets the given intensity on the point.
	SetIntensity(v float64) Data
}

type basicData struct {
	hasIntensity bool
	intensity    float64
}

// NewBasicData returns a point that is solely positionally based.
func NewBasicData() Data {
	return &basicData{}
}

// NewIntensityData returns a point that has both position and an intensity reading.
func NewIntensityData(v float64) Data {
	return &basicData{intensity: v, hasIntensity: true}
}

func (bp *basicData) HasIntensity() bool {
	return bp.hasIntensity
}

func (bp *basicData) Intensity() float64 {
	return bp.intensity
}

func (bp *basicData) SetIntensity(v float64) Data {
	bp.hasIntensity = true
	bp.intensity = v
	return bp
}

// PointAndData is a tiny struct to facilitate returning nearest neighbors in
// a neat way.
type PointAndData struct {
	P r3.Vector
	D Data
}
