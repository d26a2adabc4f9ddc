package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"trip-tracker/internal/trip"
)

// TripsKey is the key holding the JSON array of all trips.
const TripsKey = "trips"

// ErrActiveTrip is returned by CreateTrip when the last stored trip has not been finalized.
var ErrActiveTrip = errors.New("an active trip already exists")

// TripStore is the single owner of trip data.
//
// Every operation reads the whole collection, mutates it in memory and writes
// it back. Operations through one TripStore are serialized by a mutex; writers
// in other processes sharing the same KV are not, and the last write wins.
type TripStore struct {
	kv  KV
	key string
	now func() time.Time

	mu sync.Mutex
}

type Option func(*TripStore)

// WithClock overrides the clock used for trip ids and start times.
func WithClock(now func() time.Time) Option {
	return func(s *TripStore) { s.now = now }
}

// WithKey stores trips under a key other than TripsKey.
func WithKey(key string) Option {
	return func(s *TripStore) { s.key = key }
}

func NewTripStore(kv KV, opts ...Option) *TripStore {
	s := &TripStore{kv: kv, key: TripsKey, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTrip appends a new active trip and returns it.
func (s *TripStore) CreateTrip(ctx context.Context) (trip.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trips, err := s.load(ctx)
	if err != nil {
		return trip.Trip{}, err
	}
	var lastID int64
	for _, t := range trips {
		if t.ID > lastID {
			lastID = t.ID
		}
	}
	if n := len(trips); n > 0 && trips[n-1].Active() {
		return trip.Trip{}, fmt.Errorf("create trip: %w (id %d)", ErrActiveTrip, trips[n-1].ID)
	}
	now := s.now()
	t := trip.Trip{
		ID:        trip.NextID(now, lastID),
		StartTime: now,
		Path:      []trip.LocationPoint{},
	}
	trips = append(trips, t)
	if err := s.save(ctx, trips); err != nil {
		return trip.Trip{}, err
	}
	return t, nil
}

// AppendPoint adds p to the active trip. When there is no active trip the
// point is dropped and appended is false; that is not an error.
func (s *TripStore) AppendPoint(ctx context.Context, p trip.LocationPoint) (updated trip.Trip, appended bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trips, err := s.load(ctx)
	if err != nil {
		return trip.Trip{}, false, err
	}
	n := len(trips)
	if n == 0 || !trips[n-1].Active() {
		log.Printf("no active trip, location not saved")
		return trip.Trip{}, false, nil
	}
	last := &trips[n-1]
	last.Path = append(last.Path, p)
	if err := s.save(ctx, trips); err != nil {
		return trip.Trip{}, false, err
	}
	return *last, true, nil
}

// Finalize sets the end time and distance of the active trip. Without an
// active trip nothing changes and finalized is false.
func (s *TripStore) Finalize(ctx context.Context, endTime time.Time, distance float64) (updated trip.Trip, finalized bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trips, err := s.load(ctx)
	if err != nil {
		return trip.Trip{}, false, err
	}
	n := len(trips)
	if n == 0 || !trips[n-1].Active() {
		log.Printf("no active trip to finalize")
		return trip.Trip{}, false, nil
	}
	if distance < 0 {
		distance = 0
	}
	last := &trips[n-1]
	end := endTime
	last.EndTime = &end
	last.Distance = distance
	if err := s.save(ctx, trips); err != nil {
		return trip.Trip{}, false, err
	}
	return *last, true, nil
}

// Active returns the active trip, if any.
func (s *TripStore) Active(ctx context.Context) (trip.Trip, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trips, err := s.load(ctx)
	if err != nil {
		return trip.Trip{}, false, err
	}
	if n := len(trips); n > 0 && trips[n-1].Active() {
		return trips[n-1], true, nil
	}
	return trip.Trip{}, false, nil
}

// GetAll returns every stored trip in creation order.
func (s *TripStore) GetAll(ctx context.Context) ([]trip.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *TripStore) load(ctx context.Context) ([]trip.Trip, error) {
	raw, found, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.key, err)
	}
	if !found || raw == "" {
		return []trip.Trip{}, nil
	}
	var trips []trip.Trip
	if err := json.Unmarshal([]byte(raw), &trips); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.key, err)
	}
	for i := range trips {
		if trips[i].Path == nil {
			trips[i].Path = []trip.LocationPoint{}
		}
	}
	return trips, nil
}

func (s *TripStore) save(ctx context.Context, trips []trip.Trip) error {
	b, err := json.Marshal(trips)
	if err != nil {
		return fmt.Errorf("encode %s: %w", s.key, err)
	}
	if err := s.kv.Set(ctx, s.key, string(b)); err != nil {
		return fmt.Errorf("write %s: %w", s.key, err)
	}
	return nil
}
