package models

import (
	"gorm.io/gorm"
)

// Zone is one named spatial region in the campus hierarchy, as stored in
// the registry database. ParentID is nil for root zones.
type Zone struct {
	gorm.Model
	ZoneID   int    `gorm:"uniqueIndex;not null" json:"zone_id"`
	Name     string `gorm:"not null" json:"name"`
	ParentID *int   `json:"parent_id,omitempty"`

	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MinZ float64 `json:"min_z"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
	MaxZ float64 `json:"max_z"`
}

func (z *Zone) Bounds() SpatialBounds {
	return SpatialBounds{
		MinX: z.MinX, MinY: z.MinY, MinZ: z.MinZ,
		MaxX: z.MaxX, MaxY: z.MaxY, MaxZ: z.MaxZ,
	}
}

// ZoneNode is the in-memory hierarchy shape handed to subscription
// building; detached from the gorm model so consumers never hold DB rows.
type ZoneNode struct {
	ZoneID   int         `json:"zone_id"`
	Children []*ZoneNode `json:"children,omitempty"`
}
