package metadata

import (
	"github.com/spaghettifunk/vulture/engine/math"
)

type Mesh struct {
	UniqueID   uint32
	Generation uint8
	Geometries []*Geometry
	Transform  *math.Transform
}

func (m *Mesh) GeometryCount() int {
	return len(m.Geometries)
}
