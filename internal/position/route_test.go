package position

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestRouteProviderMovesAlongRoute(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	route := []Waypoint{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 0.01}}
	total := haversine(0, 0, 0, 0.01)
	p, err := NewRouteProvider(route, total/100, WithRouteClock(clock.now))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	ctx := context.Background()
	opts := Options{EnableHighAccuracy: true, Timeout: 15 * time.Second, MaximumAge: time.Minute}

	pos, err := p.CurrentPosition(ctx, opts)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.Coords.Latitude != 0 || pos.Coords.Longitude != 0 || pos.Coords.Accuracy != 5 {
		t.Fatalf("unexpected start fix %+v", pos)
	}

	clock.t = clock.t.Add(50 * time.Second)
	pos, _ = p.CurrentPosition(ctx, opts)
	if math.Abs(pos.Coords.Longitude-0.005) > 1e-9 {
		t.Fatalf("expected halfway along route, got %+v", pos.Coords)
	}
	if pos.Timestamp != clock.t.UnixMilli() {
		t.Fatalf("expected fix timestamp from clock")
	}

	clock.t = clock.t.Add(time.Hour)
	pos, _ = p.CurrentPosition(ctx, Options{})
	if pos.Coords.Longitude != 0.01 || pos.Coords.Accuracy != 25 {
		t.Fatalf("expected clamped end fix, got %+v", pos.Coords)
	}
}

func TestRouteProviderFailures(t *testing.T) {
	p, err := NewRouteProvider([]Waypoint{{Lat: 1, Lon: 1}}, 1, WithFixDelay(50*time.Millisecond))
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	ctx := context.Background()

	if _, err := p.CurrentPosition(ctx, Options{Timeout: 10 * time.Millisecond}); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := p.CurrentPosition(cctx, Options{Timeout: time.Second}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	p.SetPermission(false)
	if _, err := p.CurrentPosition(ctx, Options{}); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	p.SetPermission(true)
	if _, err := p.CurrentPosition(ctx, Options{Timeout: time.Second}); err != nil {
		t.Fatalf("expected fix after permission restored: %v", err)
	}
}

func TestParseRoute(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int
		wantErr bool
	}{
		{name: "two points", in: "1.0,1.0; 1.0,1.001", want: 2},
		{name: "trailing separator", in: "1,2;", want: 1},
		{name: "empty", in: "", wantErr: true},
		{name: "missing lon", in: "1.0", wantErr: true},
		{name: "bad lat", in: "91,0", wantErr: true},
		{name: "bad lon", in: "0,abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pts, err := ParseRoute(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil || len(pts) != tt.want {
				t.Fatalf("got %v err=%v", pts, err)
			}
		})
	}
}

func TestNewRouteProviderValidation(t *testing.T) {
	if _, err := NewRouteProvider(nil, 1); err == nil {
		t.Fatalf("expected error for empty route")
	}
	if _, err := NewRouteProvider([]Waypoint{{}}, -1); err == nil {
		t.Fatalf("expected error for negative speed")
	}
}
