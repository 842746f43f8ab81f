package models

import (
	"time"

	"gorm.io/gorm"
)

// TrackedDevice is a registry entry for a known position-emitting device.
// CategoryHint drives classification for reports that carry no zone id and
// marks devices fed by external tracking integrations.
type TrackedDevice struct {
	gorm.Model
	DeviceID     string      `gorm:"uniqueIndex;not null" json:"device_id"`
	Name         string      `json:"name"`
	CategoryHint TagCategory `gorm:"type:varchar(20)" json:"category_hint"`
	IsActive     bool        `gorm:"default:true" json:"is_active"`
	LastSeen     time.Time   `json:"last_seen"`
}

// Priority orders devices for subscription chunking so that a truncated
// subscription set still covers the most important devices first.
func (d *TrackedDevice) Priority() int {
	switch d.CategoryHint {
	case CategoryExternal:
		return 0
	case CategoryCampus:
		return 1
	case CategoryOtherZone:
		return 2
	default:
		return 3
	}
}
