package pointcloud

import (
	"image/color"

	"github.com/golang/geo/r3"
)

// NewVector convenience method for creating a vector.
func NewVector(x, y, z float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: z}
}

// Data describes data associated single point within a PointCloud.
type Data interface {
	// HasColor returns whether or not this point is colored.
	HasColor() bool

	// RGB255 returns, if colored, the RGB components of the color.
	RGB255() (uint8, uint8, uint8)

	// Color returns the native color of the point.
	Color() color.Color

	// SetColor sets the given color on the point.
	SetColor(c color.NRGBA) Data

	// HasValue returns whether or not this point has some user data value
	// associated with it. Segmentation stages store labels here.
	HasValue() bool

	// Value returns the user data set value, if it exists.
	Value() int

	// SetValue sets the given user data value on the point.
	SetValue(v int) Data

	// HasNormal returns whether or not a surface normal was estimated for this point.
	HasNormal() bool

	// Normal returns the unit surface normal, if it exists.
	Normal() r3.Vector

	// SetNormal sets the given normal on the point.
	SetNormal(n r3.Vector) Data
}

type basicData struct {
	hasColor bool
	c        color.NRGBA

	hasValue bool
	value    int

	hasNormal bool
	normal    r3.Vector
}

// NewBasicData returns a point that is solely positionally based.
func NewBasicData() Data {
	return &basicData{}
}

// NewColoredData returns a point that has both position and color.
func NewColoredData(c color.NRGBA) Data {
	return &basicData{c: c, hasColor: true}
}

// NewValueData returns a point that has both position and a user data value.
func NewValueData(v int) Data {
	return &basicData{value: v, hasValue: true}
}

// NewNormalData returns a point that carries a surface normal and a user data value.
func NewNormalData(n r3.Vector, v int) Data {
	return &basicData{normal: n, hasNormal: true, value: v, hasValue: true}
}

// CopyData returns a new Data with the same contents as d. A nil input yields basic data.
func CopyData(d Data) Data {
	out := &basicData{}
	if d == nil {
		return out
	}
	if d.HasColor() {
		r, g, b := d.RGB255()
		a := uint8(255)
		if nrgba, ok := d.Color().(*color.NRGBA); ok {
			a = nrgba.A
		}
		out.SetColor(color.NRGBA{r, g, b, a})
	}
	if d.HasValue() {
		out.SetValue(d.Value())
	}
	if d.HasNormal() {
		out.SetNormal(d.Normal())
	}
	return out
}

func (bp *basicData) SetColor(c color.NRGBA) Data {
	bp.c = c
	bp.hasColor = true
	return bp
}

func (bp *basicData) HasColor() bool {
	return bp.hasColor
}

func (bp *basicData) RGB255() (uint8, uint8, uint8) {
	return bp.c.R, bp.c.G, bp.c.B
}

func (bp *basicData) Color() color.Color {
	return &bp.c
}

func (bp *basicData) SetValue(v int) Data {
	bp.hasValue = true
	bp.value = v
	return bp
}

func (bp *basicData) HasValue() bool {
	return bp.hasValue
}

func (bp *basicData) Value() int {
	return bp.value
}

func (bp *basicData) SetNormal(n r3.Vector) Data {
	bp.hasNormal = true
	bp.normal = n
	return bp
}

func (bp *basicData) HasNormal() bool {
	return bp.hasNormal
}

func (bp *basicData) Normal() r3.Vector {
	return bp.normal
}
