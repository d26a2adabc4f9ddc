package trip

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEstimateDistance(t *testing.T) {
	tests := []struct {
		name string
		path []LocationPoint
		want float64
	}{
		{name: "empty", path: nil, want: 0},
		{name: "single point", path: []LocationPoint{{Latitude: 10, Longitude: 10}}, want: 0},
		{
			name: "one degree of longitude",
			path: []LocationPoint{{Latitude: 0, Longitude: 0}, {Latitude: 0, Longitude: 1}},
			want: 111000,
		},
		{
			name: "short hop rounds to meters",
			path: []LocationPoint{{Latitude: 1.0, Longitude: 1.0}, {Latitude: 1.0, Longitude: 1.001}},
			want: 111,
		},
		{
			name: "diagonal 3-4-5",
			path: []LocationPoint{{Latitude: 0, Longitude: 0}, {Latitude: 0.003, Longitude: 0.004}},
			want: 555,
		},
		{
			name: "accumulates segments",
			path: []LocationPoint{
				{Latitude: 0, Longitude: 0},
				{Latitude: 0, Longitude: 0.001},
				{Latitude: 0.001, Longitude: 0.001},
			},
			want: 222,
		},
		{
			name: "revisiting a point still counts",
			path: []LocationPoint{
				{Latitude: 0, Longitude: 0},
				{Latitude: 0, Longitude: 0.001},
				{Latitude: 0, Longitude: 0},
			},
			want: 222,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateDistance(tt.path); got != tt.want {
				t.Fatalf("EstimateDistance() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextIDMonotonic(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	if got := NextID(now, 0); got != now.UnixMilli() {
		t.Fatalf("expected id from creation time, got %d", got)
	}
	if got := NextID(now, now.UnixMilli()); got != now.UnixMilli()+1 {
		t.Fatalf("expected bumped id, got %d", got)
	}
	if got := NextID(now.Add(-time.Hour), now.UnixMilli()); got != now.UnixMilli()+1 {
		t.Fatalf("expected id past last when clock moved back, got %d", got)
	}
}

func TestTripJSONShape(t *testing.T) {
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	tr := Trip{ID: 1, StartTime: start, Path: []LocationPoint{}}
	b, err := json.Marshal(tr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"endTime":null`, `"path":[]`, `"distance":0`, `"startTime":"2024-05-01T08:00:00Z"`} {
		if !strings.Contains(s, want) {
			t.Fatalf("expected %s in %s", want, s)
		}
	}
	if !tr.Active() {
		t.Fatalf("trip without end time should be active")
	}
	end := start.Add(90 * time.Second)
	tr.EndTime = &end
	if tr.Active() {
		t.Fatalf("finalized trip reported active")
	}
	if d := tr.Duration(start.Add(time.Hour)); d != 90*time.Second {
		t.Fatalf("unexpected duration %v", d)
	}
}
