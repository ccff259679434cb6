package bounds

import "math"

// minDistance guards the SSE division against a camera sitting on the
// volume.
const minDistance = 0.001

// ScreenSpaceError returns the size in pixels of a node's geometric error
// seen from distance, using the camera's precomputed perspective factor
// preSSE = viewportHeight / (2 * tan(fov/2)).
func ScreenSpaceError(geometricError, distance, preSSE float64) float64 {
	if geometricError <= 0 {
		return 0
	}
	return preSSE * geometricError / math.Max(distance, minDistance)
}

// MapTileScreenSize returns the projected pixel size of a map tile's
// extent diagonal at the given distance. The map traversal subdivides
// while this exceeds its threshold.
func MapTileScreenSize(diagonal, distance, preSSE float64) float64 {
	return preSSE * diagonal / math.Max(distance, minDistance)
}
