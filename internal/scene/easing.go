package scene

import "rtls-stream/internal/models"

// EaseInOut is the quadratic ease-in-out curve used for bounded-duration
// object moves. Input is clamped to [0, 1].
func EaseInOut(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	if t < 0.5 {
		return 2 * t * t
	}
	return 1 - 2*(1-t)*(1-t)
}

// Interpolate returns the point fraction t of the way from one render
// position to another, with easing applied.
func Interpolate(from, to models.RenderPosition, t float64) models.RenderPosition {
	eased := EaseInOut(t)
	return models.RenderPosition{
		X: from.X + (to.X-from.X)*eased,
		Y: from.Y + (to.Y-from.Y)*eased,
		Z: from.Z + (to.Z-from.Z)*eased,
	}
}
