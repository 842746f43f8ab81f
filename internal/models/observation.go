package models

import (
	"time"
)

type TagCategory string

const (
	CategoryExternal  TagCategory = "EXTERNAL_FEED"
	CategoryCampus    TagCategory = "CAMPUS"
	CategoryOtherZone TagCategory = "OTHER_ZONE"
	CategoryUnknown   TagCategory = "UNKNOWN"
)

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// TagObservation is one validated, classified position report. A newer
// report for the same ID supersedes the previous one in the live table.
type TagObservation struct {
	ID        string      `json:"id"`
	Position  Position    `json:"position"`
	ZoneID    int         `json:"zone_id,omitempty"`
	Sequence  int64       `json:"sequence"`
	Category  TagCategory `json:"category"`
	Timestamp time.Time   `json:"timestamp"`
	IsActive  bool        `json:"is_active"`
}

type HistoryEntry struct {
	X         float64     `json:"x"`
	Y         float64     `json:"y"`
	Z         float64     `json:"z"`
	ZoneID    int         `json:"zone_id,omitempty"`
	Category  TagCategory `json:"category"`
	Timestamp time.Time   `json:"timestamp"`
}

type TagStats struct {
	TotalTags  int                 `json:"total_tags"`
	ActiveTags int                 `json:"active_tags"`
	Categories map[TagCategory]int `json:"categories"`
	UpdateRate float64             `json:"update_rate"`
	ComputedAt time.Time           `json:"computed_at"`
}

func (s *TagStats) ToInfluxTags() map[string]string {
	return map[string]string{
		"source": "trackd",
	}
}

func (s *TagStats) ToInfluxFields() map[string]interface{} {
	fields := map[string]interface{}{
		"total_tags":  s.TotalTags,
		"active_tags": s.ActiveTags,
		"update_rate": s.UpdateRate,
	}

	for category, count := range s.Categories {
		fields["count_"+string(category)] = count
	}

	return fields
}
