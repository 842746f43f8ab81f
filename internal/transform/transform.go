// Package transform maps between the native tag coordinate space and the
// rendering engine's coordinate space.
//
// Native space is the wire format: x runs north/south, y east/west, z
// vertical, all in feet relative to the campus origin. Render space is
// what the 3D engine consumes: first axis horizontal, second vertical,
// third depth. The mapping translates by the map bounds minimums and then
// permutes axes: native y becomes render x, native z becomes render y,
// native x becomes render z.
package transform

import (
	"rtls-stream/internal/models"
)

// ToRenderSpace converts a native-space point into render space.
func ToRenderSpace(x, y, z float64, bounds models.SpatialBounds) (float64, float64, float64) {
	return y - bounds.MinY, z - bounds.MinZ, x - bounds.MinX
}

// ToNativeSpace is the exact inverse of ToRenderSpace.
func ToNativeSpace(rx, ry, rz float64, bounds models.SpatialBounds) (float64, float64, float64) {
	return rz + bounds.MinX, rx + bounds.MinY, ry + bounds.MinZ
}

// IsWithinBounds checks the horizontal axes only; vertical excursions are
// tolerated because tag z readings drift far more than x/y.
func IsWithinBounds(x, y float64, bounds models.SpatialBounds) bool {
	return x >= bounds.MinX && x <= bounds.MaxX &&
		y >= bounds.MinY && y <= bounds.MaxY
}

// Observation converts an observation's position in one call, for callers
// that hold models rather than raw floats.
func Observation(obs models.TagObservation, bounds models.SpatialBounds) models.RenderPosition {
	rx, ry, rz := ToRenderSpace(obs.Position.X, obs.Position.Y, obs.Position.Z, bounds)
	return models.RenderPosition{X: rx, Y: ry, Z: rz}
}

// HistoryPolyline converts a history window into render-space points,
// preserving order.
func HistoryPolyline(history []models.HistoryEntry, bounds models.SpatialBounds) []models.RenderPosition {
	points := make([]models.RenderPosition, 0, len(history))
	for _, entry := range history {
		rx, ry, rz := ToRenderSpace(entry.X, entry.Y, entry.Z, bounds)
		points = append(points, models.RenderPosition{X: rx, Y: ry, Z: rz})
	}
	return points
}
