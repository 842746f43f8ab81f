package models

import "fmt"

// SpatialBounds describes the rectangular extent of a map, in the native
// coordinate unit (feet). Immutable once loaded.
type SpatialBounds struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MinZ float64 `json:"min_z"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
	MaxZ float64 `json:"max_z"`
}

func (b SpatialBounds) Validate() error {
	if b.MinX > b.MaxX {
		return fmt.Errorf("bounds min_x %f exceeds max_x %f", b.MinX, b.MaxX)
	}
	if b.MinY > b.MaxY {
		return fmt.Errorf("bounds min_y %f exceeds max_y %f", b.MinY, b.MaxY)
	}
	if b.MinZ > b.MaxZ {
		return fmt.Errorf("bounds min_z %f exceeds max_z %f", b.MinZ, b.MaxZ)
	}
	return nil
}

func (b SpatialBounds) Width() float64 {
	return b.MaxY - b.MinY
}

func (b SpatialBounds) Depth() float64 {
	return b.MaxX - b.MinX
}

func (b SpatialBounds) Height() float64 {
	return b.MaxZ - b.MinZ
}
