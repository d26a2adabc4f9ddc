package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Waypoint struct {
	Lat float64
	Lon float64
}

// RouteProvider simulates a device moving along a polyline at constant speed.
// It stands in for a GPS receiver when the tracker runs headless.
type RouteProvider struct {
	points   []Waypoint
	cum      []float64
	speedMps float64
	fixDelay time.Duration
	now      func() time.Time

	mu     sync.Mutex
	start  time.Time
	denied bool
}

type RouteOption func(*RouteProvider)

// WithFixDelay makes every fresh fix take d to acquire.
func WithFixDelay(d time.Duration) RouteOption {
	return func(p *RouteProvider) { p.fixDelay = d }
}

func WithRouteClock(now func() time.Time) RouteOption {
	return func(p *RouteProvider) { p.now = now }
}

func NewRouteProvider(points []Waypoint, speedMps float64, opts ...RouteOption) (*RouteProvider, error) {
	if len(points) == 0 {
		return nil, errors.New("route needs at least one waypoint")
	}
	if speedMps < 0 {
		return nil, fmt.Errorf("invalid speed %v", speedMps)
	}
	p := &RouteProvider{
		points:   points,
		cum:      cumDistances(points),
		speedMps: speedMps,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.start = p.now()
	return p, nil
}

// SetPermission toggles whether positions may be read.
func (p *RouteProvider) SetPermission(granted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denied = !granted
}

// CurrentPosition always computes a fresh fix, which satisfies any MaximumAge.
func (p *RouteProvider) CurrentPosition(ctx context.Context, opts Options) (Position, error) {
	p.mu.Lock()
	denied := p.denied
	p.mu.Unlock()
	if denied {
		return Position{}, ErrPermissionDenied
	}

	if p.fixDelay > 0 {
		if opts.Timeout > 0 && p.fixDelay > opts.Timeout {
			return Position{}, fmt.Errorf("%w after %s", ErrTimeout, opts.Timeout)
		}
		t := time.NewTimer(p.fixDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Position{}, ctx.Err()
		case <-t.C:
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	travelled := now.Sub(p.start).Seconds() * p.speedMps
	lat, lon := interpolate(p.points, p.cum, travelled)
	accuracy := 25.0
	if opts.EnableHighAccuracy {
		accuracy = 5.0
	}
	return Position{
		Coords:    Coords{Latitude: lat, Longitude: lon, Accuracy: accuracy},
		Timestamp: now.UnixMilli(),
	}, nil
}

// ParseRoute reads "lat,lon;lat,lon;..." into waypoints.
func ParseRoute(s string) ([]Waypoint, error) {
	var pts []Waypoint
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.Split(pair, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid waypoint %q", pair)
		}
		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil || lat < -90 || lat > 90 {
			return nil, fmt.Errorf("invalid latitude in %q", pair)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil || lon < -180 || lon > 180 {
			return nil, fmt.Errorf("invalid longitude in %q", pair)
		}
		pts = append(pts, Waypoint{Lat: lat, Lon: lon})
	}
	if len(pts) == 0 {
		return nil, errors.New("empty route")
	}
	return pts, nil
}

// Haversine distance in meters
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

func cumDistances(pts []Waypoint) []float64 {
	cum := make([]float64, len(pts))
	sum := 0.0
	for i := 1; i < len(pts); i++ {
		sum += haversine(pts[i-1].Lat, pts[i-1].Lon, pts[i].Lat, pts[i].Lon)
		cum[i] = sum
	}
	return cum
}

// interpolate returns the point dist meters along the route, clamped to its ends.
func interpolate(pts []Waypoint, cum []float64, dist float64) (lat, lon float64) {
	n := len(pts)
	total := cum[n-1]
	if n == 1 || total == 0 || dist <= 0 {
		return pts[0].Lat, pts[0].Lon
	}
	if dist >= total {
		return pts[n-1].Lat, pts[n-1].Lon
	}
	i := 1
	for i < n && cum[i] < dist {
		i++
	}
	d0, d1 := cum[i-1], cum[i]
	p0, p1 := pts[i-1], pts[i]
	if d1 == d0 {
		return p0.Lat, p0.Lon
	}
	frac := (dist - d0) / (d1 - d0)
	return p0.Lat + (p1.Lat-p0.Lat)*frac, p0.Lon + (p1.Lon-p0.Lon)*frac
}
