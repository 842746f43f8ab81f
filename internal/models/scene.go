package models

import "time"

// RenderPosition is a point in the rendering engine's coordinate space,
// distinct from Position to keep the two spaces from mixing silently.
type RenderPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Appearance struct {
	Color   string  `json:"color"`
	Scale   float64 `json:"scale"`
	Opacity float64 `json:"opacity"`
}

func DefaultAppearance() Appearance {
	return Appearance{Color: "#00a0ff", Scale: 1.0, Opacity: 1.0}
}

// SceneObject is the renderable representation of one tag, bound 1:1 to a
// TagObservation ID. Owned exclusively by the scene synchronizer.
type SceneObject struct {
	ID         string           `json:"id"`
	Position   RenderPosition   `json:"position"`
	Appearance Appearance       `json:"appearance"`
	Category   TagCategory      `json:"category"`
	Trail      []RenderPosition `json:"trail,omitempty"`
	UpdatedAt  time.Time        `json:"updated_at"`
}
