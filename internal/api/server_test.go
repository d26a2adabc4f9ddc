package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trip-tracker/internal/coordinator"
	"trip-tracker/internal/position"
	"trip-tracker/internal/sandbox"
	"trip-tracker/internal/store"
	"trip-tracker/internal/trip"
)

const testLabel = "com.example.background.location"

func newCoordinator(t *testing.T) (*coordinator.Coordinator, *store.TripStore) {
	t.Helper()
	s := store.NewTripStore(store.NewMemoryKV())
	host := sandbox.NewHost(0)
	host.Register(testLabel, func() *sandbox.Runner { return sandbox.NewLocationRunner(testLabel, time.Second) })
	provider, err := position.NewRouteProvider([]position.Waypoint{{Lat: 1, Lon: 1}}, 0)
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	cfg := coordinator.DefaultConfig()
	cfg.Label = testLabel
	cfg.Interval = time.Hour
	return coordinator.New(s, host, provider, cfg), s
}

func do(t *testing.T, s *Server, method, path string) *http.Response {
	t.Helper()
	resp, err := s.App.Test(httptest.NewRequest(method, path, nil), 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func TestTrackingLifecycle(t *testing.T) {
	c, trips := newCoordinator(t)
	s := NewServer(c, trips)
	defer c.Stop(context.Background())

	if resp := do(t, s, http.MethodGet, "/health"); resp.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", resp.StatusCode)
	}
	if resp := do(t, s, http.MethodGet, "/trips/active"); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before start, got %d", resp.StatusCode)
	}

	resp := do(t, s, http.MethodPost, "/tracking/start")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status %d", resp.StatusCode)
	}
	var started coordinator.StartResult
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatalf("decode start: %v", err)
	}
	if !started.Success || started.TripID == 0 {
		t.Fatalf("unexpected start result %+v", started)
	}

	resp = do(t, s, http.MethodPost, "/tracking/start")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on second start, got %d", resp.StatusCode)
	}

	resp = do(t, s, http.MethodGet, "/trips/active")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("active status %d", resp.StatusCode)
	}
	var active trip.Trip
	if err := json.NewDecoder(resp.Body).Decode(&active); err != nil || active.ID != started.TripID {
		t.Fatalf("unexpected active trip %+v err=%v", active, err)
	}

	if resp := do(t, s, http.MethodPost, "/tracking/stop"); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("stop status %d", resp.StatusCode)
	}

	resp = do(t, s, http.MethodGet, "/trips")
	var all []trip.Trip
	if err := json.NewDecoder(resp.Body).Decode(&all); err != nil {
		t.Fatalf("decode trips: %v", err)
	}
	if len(all) != 1 || all[0].EndTime == nil {
		t.Fatalf("expected one finalized trip, got %+v", all)
	}

	resp = do(t, s, http.MethodGet, "/runner/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("runner status %d", resp.StatusCode)
	}
	var status sandbox.Response
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil || status.Status == nil {
		t.Fatalf("decode status: %+v err=%v", status, err)
	}
	if status.Status.HeartbeatCount != 1 {
		t.Fatalf("expected heartbeat from stop, got %+v", status.Status)
	}
}

type fakeTracker struct {
	startErr  error
	sampleErr error
	statusErr error
}

func (f *fakeTracker) Start(context.Context) (int64, error)      { return 0, f.startErr }
func (f *fakeTracker) StopLocationTracking(context.Context)        {}
func (f *fakeTracker) RequestLocationUpdate(context.Context) error { return f.sampleErr }
func (f *fakeTracker) Running() bool                               { return true }
func (f *fakeTracker) RunnerStatus(context.Context) (sandbox.Response, error) {
	return sandbox.Response{}, f.statusErr
}

type brokenTrips struct{}

func (brokenTrips) GetAll(context.Context) ([]trip.Trip, error) { return nil, errors.New("boom") }
func (brokenTrips) Active(context.Context) (trip.Trip, bool, error) {
	return trip.Trip{}, false, errors.New("boom")
}

func TestErrorStatusCodes(t *testing.T) {
	tests := []struct {
		name    string
		tracker *fakeTracker
		method  string
		path    string
		want    int
	}{
		{"start store failure", &fakeTracker{startErr: errors.New("disk full")}, http.MethodPost, "/tracking/start", http.StatusInternalServerError},
		{"sample ok", &fakeTracker{}, http.MethodPost, "/tracking/sample", http.StatusAccepted},
		{"sample in flight", &fakeTracker{sampleErr: coordinator.ErrTickInFlight}, http.MethodPost, "/tracking/sample", http.StatusConflict},
		{"sample not tracking", &fakeTracker{sampleErr: coordinator.ErrNotTracking}, http.MethodPost, "/tracking/sample", http.StatusConflict},
		{"runner down", &fakeTracker{statusErr: sandbox.ErrUnknownRunner}, http.MethodGet, "/runner/status", http.StatusBadGateway},
		{"trips unreadable", &fakeTracker{}, http.MethodGet, "/trips", http.StatusInternalServerError},
		{"active unreadable", &fakeTracker{}, http.MethodGet, "/trips/active", http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := NewServer(tc.tracker, brokenTrips{})
			if resp := do(t, s, tc.method, tc.path); resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}
