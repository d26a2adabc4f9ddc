package trip

import "math"

// MetersPerDegree approximates one degree of arc at the equator.
const MetersPerDegree = 111000.0

// EstimateDistance returns the path length in whole meters.
//
// Consecutive points are treated as planar (lat, lon) coordinates and the
// Euclidean step lengths are scaled by MetersPerDegree. This is not a
// great-circle distance: longitude degrees shrink with latitude, so the
// estimate is only reasonable for short paths at moderate latitudes.
func EstimateDistance(path []LocationPoint) float64 {
	if len(path) < 2 {
		return 0
	}
	total := 0.0
	for i := 1; i < len(path); i++ {
		dLat := path[i].Latitude - path[i-1].Latitude
		dLon := path[i].Longitude - path[i-1].Longitude
		total += math.Sqrt(dLat*dLat+dLon*dLon) * MetersPerDegree
	}
	return math.Round(total)
}
