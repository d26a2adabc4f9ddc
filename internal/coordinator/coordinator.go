// Package coordinator drives location sampling for the active trip.
//
// The runner that schedules sampling cannot read the device position, so
// each tick asks it for a directive and, when told to, reads the position
// here and appends it to the active trip.
//
// Ticks are serialized: the loop runs them one at a time (a ticker holds at
// most one pending firing) and ticks requested from outside the loop are
// refused with ErrTickInFlight while another tick runs. Points therefore
// appear in the order their ticks completed. Stop waits for an in-flight
// tick and clears the tracking flag under the tick lock before finalizing,
// so no tick runs against a trip Stop has already closed.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	mmetrics "trip-tracker/internal/metrics"
	"trip-tracker/internal/position"
	"trip-tracker/internal/sandbox"
	"trip-tracker/internal/store"
	"trip-tracker/internal/trip"
)

var (
	ErrAlreadyTracking = errors.New("location tracking already running")
	ErrNotTracking     = errors.New("location tracking not running")
	ErrTickInFlight    = errors.New("location update already in flight")
)

// Dispatcher delivers an event to the runner registered under label.
type Dispatcher interface {
	Dispatch(ctx context.Context, label, event string, details map[string]any) (sandbox.Response, error)
}

type TripStore interface {
	CreateTrip(ctx context.Context) (trip.Trip, error)
	AppendPoint(ctx context.Context, p trip.LocationPoint) (trip.Trip, bool, error)
	Finalize(ctx context.Context, endTime time.Time, distance float64) (trip.Trip, bool, error)
	Active(ctx context.Context) (trip.Trip, bool, error)
}

// EventPublisher is told about appended points and finalized trips.
type EventPublisher interface {
	PublishPoint(t trip.Trip, p trip.LocationPoint) error
	PublishFinalized(t trip.Trip) error
}

type Config struct {
	Label           string
	Interval        time.Duration
	DispatchTimeout time.Duration
	StoreTimeout    time.Duration
	Position        position.Options
}

func DefaultConfig() Config {
	return Config{
		Label:           "com.example.background.location",
		Interval:        30 * time.Second,
		DispatchTimeout: 10 * time.Second,
		StoreTimeout:    5 * time.Second,
		Position: position.Options{
			EnableHighAccuracy: true,
			Timeout:            15 * time.Second,
			MaximumAge:         60 * time.Second,
		},
	}
}

// StartResult is the outcome of StartLocationTracking.
type StartResult struct {
	Success bool   `json:"success"`
	TripID  int64  `json:"tripId,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Coordinator struct {
	store      TripStore
	dispatcher Dispatcher
	positions  position.Provider
	cfg        Config
	metrics    *mmetrics.Collector
	events     EventPublisher
	now        func() time.Time

	mu     sync.Mutex // guards cancel; held by Start and by Stop until finalized
	cancel context.CancelFunc
	wg     sync.WaitGroup

	tickMu   sync.Mutex  // held by the running tick and by finalization; taken after mu
	tracking atomic.Bool // set under mu, cleared under mu and tickMu
}

type Option func(*Coordinator)

func WithMetrics(m *mmetrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithEvents(p EventPublisher) Option {
	return func(c *Coordinator) { c.events = p }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func New(tripStore TripStore, dispatcher Dispatcher, positions position.Provider, cfg Config, opts ...Option) *Coordinator {
	def := DefaultConfig()
	if cfg.Label == "" {
		cfg.Label = def.Label
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = def.DispatchTimeout
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	c := &Coordinator{
		store:      tripStore,
		dispatcher: dispatcher,
		positions:  positions,
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Running reports whether the polling loop is active.
func (c *Coordinator) Running() bool {
	return c.tracking.Load()
}

// Start creates a trip and starts the polling loop. It refuses to start twice.
// An active trip left behind by an earlier process is finalized first so
// that only one trip is ever active.
func (c *Coordinator) Start(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return 0, ErrAlreadyTracking
	}

	log.Printf("starting location tracking")
	t, err := c.store.CreateTrip(ctx)
	if errors.Is(err, store.ErrActiveTrip) {
		log.Printf("found unfinished trip from an earlier run, finalizing it")
		c.finalizeActive(ctx)
		t, err = c.store.CreateTrip(ctx)
	}
	if err != nil {
		return 0, fmt.Errorf("create trip: %w", err)
	}
	log.Printf("trip %d saved", t.ID)

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.tracking.Store(true)
	c.wg.Add(1)
	go c.run(loopCtx)

	if c.metrics != nil {
		c.metrics.TripsStarted.Inc()
		c.metrics.TrackingActive.Set(1)
	}
	log.Printf("location update loop started (every %s)", c.cfg.Interval)
	return t.ID, nil
}

// StartLocationTracking is Start reported as a result value.
func (c *Coordinator) StartLocationTracking(ctx context.Context) StartResult {
	id, err := c.Start(ctx)
	if err != nil {
		log.Printf("error starting location tracking: %v", err)
		return StartResult{Success: false, Error: err.Error()}
	}
	return StartResult{Success: true, TripID: id}
}

// Stop ends the polling loop, finalizes the active trip and sends a
// heartbeat to the runner. Failures are logged; Stop never fails. Without
// a running loop it still finalizes whatever trip the store holds active,
// such as one left by an earlier process, and still sends the heartbeat.
func (c *Coordinator) Stop(ctx context.Context) {
	log.Printf("stopping location tracking")
	c.stopLoop(ctx)

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.DispatchTimeout)
	defer cancel()
	if _, err := c.dispatcher.Dispatch(hctx, c.cfg.Label, sandbox.EventHeartbeat, map[string]any{}); err != nil {
		log.Printf("runner heartbeat failed (runner may be inactive): %v", err)
		if c.metrics != nil {
			c.metrics.HeartbeatErrs.Inc()
		}
	} else {
		log.Printf("runner heartbeat sent")
	}
	log.Printf("location tracking stopped")
}

// stopLoop cancels the loop and finalizes the active trip. The heartbeat is
// sent after it returns, so Start and Running are not held up by the runner.
func (c *Coordinator) stopLoop(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
		c.wg.Wait()
		log.Printf("location update loop stopped")
	}

	c.tickMu.Lock()
	defer c.tickMu.Unlock()
	c.tracking.Store(false)
	c.cancel = nil
	if c.metrics != nil {
		c.metrics.TrackingActive.Set(0)
	}
	c.finalizeLocked(ctx)
}

// StopLocationTracking is Stop under its public name.
func (c *Coordinator) StopLocationTracking(ctx context.Context) { c.Stop(ctx) }

// RequestLocationUpdate runs one tick outside the loop's schedule. It
// returns ErrNotTracking unless tracking is running once the tick lock is held.
func (c *Coordinator) RequestLocationUpdate(ctx context.Context) error {
	return c.tick(ctx)
}

// RunnerStatus asks the runner for its counters and uptime.
func (c *Coordinator) RunnerStatus(ctx context.Context) (sandbox.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.DispatchTimeout)
	defer cancel()
	return c.dispatcher.Dispatch(ctx, c.cfg.Label, sandbox.EventGetStatus, map[string]any{})
}

func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()
	c.loopTick(ctx)
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			c.loopTick(ctx)
		}
	}
}

func (c *Coordinator) loopTick(ctx context.Context) {
	if err := c.tick(ctx); errors.Is(err, ErrTickInFlight) {
		log.Printf("previous location update still running, skipping tick")
	}
}

func (c *Coordinator) tick(ctx context.Context) error {
	if !c.tickMu.TryLock() {
		if c.metrics != nil {
			c.metrics.TicksSkipped.Inc()
		}
		return ErrTickInFlight
	}
	defer c.tickMu.Unlock()
	if !c.tracking.Load() {
		return ErrNotTracking
	}

	start := time.Now()
	if c.metrics != nil {
		c.metrics.Ticks.Inc()
		defer func() { c.metrics.TickDuration.Observe(time.Since(start).Seconds()) }()
	}
	c.requestLocationUpdate(ctx)
	return nil
}

// requestLocationUpdate is one sampling round: dispatch, fetch, append.
// Every failure is logged and ends the round; the next tick tries again.
func (c *Coordinator) requestLocationUpdate(ctx context.Context) {
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DispatchTimeout)
	dispatchStart := time.Now()
	resp, err := c.dispatcher.Dispatch(dctx, c.cfg.Label, sandbox.EventLocationUpdate, map[string]any{})
	cancel()
	if c.metrics != nil {
		c.metrics.DispatchDuration.Observe(time.Since(dispatchStart).Seconds())
	}
	if err != nil {
		log.Printf("background location update error: %v", err)
		if c.metrics != nil {
			c.metrics.DispatchErrs.WithLabelValues(sandbox.EventLocationUpdate).Inc()
		}
		return
	}

	if !resp.Success || resp.Action != sandbox.DirectiveFetchLocation {
		log.Printf("runner response unexpected: %+v", resp)
		if c.metrics != nil {
			c.metrics.Unexpected.Inc()
		}
		return
	}

	pctx := ctx
	if c.cfg.Position.Timeout > 0 {
		var pcancel context.CancelFunc
		pctx, pcancel = context.WithTimeout(ctx, c.cfg.Position.Timeout)
		defer pcancel()
	}
	pos, err := c.positions.CurrentPosition(pctx, c.cfg.Position)
	if err != nil {
		log.Printf("geolocation error (runner task %d): %v", resp.TaskID, err)
		if c.metrics != nil {
			c.metrics.PositionErrs.Inc()
		}
		return
	}

	point := trip.LocationPoint{
		Latitude:  pos.Coords.Latitude,
		Longitude: pos.Coords.Longitude,
		Timestamp: pos.Timestamp,
		Accuracy:  pos.Coords.Accuracy,
	}
	if point.Accuracy < 0 {
		point.Accuracy = 0
	}

	// The fix is already in hand; store it even if Stop cancelled the loop meanwhile.
	sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.StoreTimeout)
	defer scancel()
	updated, appended, err := c.store.AppendPoint(sctx, point)
	switch {
	case err != nil:
		log.Printf("error saving location to trip: %v", err)
		if c.metrics != nil {
			c.metrics.PointsDropped.WithLabelValues("store_error").Inc()
		}
		return
	case !appended:
		log.Printf("no active trip, location discarded")
		if c.metrics != nil {
			c.metrics.PointsDropped.WithLabelValues("no_active_trip").Inc()
		}
		return
	}
	log.Printf("location added to trip %d, total points: %d", updated.ID, len(updated.Path))
	if c.metrics != nil {
		c.metrics.PointsAppended.Inc()
	}
	if c.events != nil {
		if err := c.events.PublishPoint(updated, point); err != nil {
			log.Printf("publish point for trip %d: %v", updated.ID, err)
		}
	}
}

// finalizeActive closes the active trip, if any, with its estimated distance.
func (c *Coordinator) finalizeActive(ctx context.Context) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()
	c.finalizeLocked(ctx)
}

// finalizeLocked is finalizeActive for callers already holding tickMu.
func (c *Coordinator) finalizeLocked(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.StoreTimeout)
	defer cancel()

	active, ok, err := c.store.Active(ctx)
	if err != nil {
		log.Printf("error reading active trip: %v", err)
		return
	}
	if !ok {
		log.Printf("no active trip to finalize")
		return
	}
	distance := 0.0
	if len(active.Path) > 1 {
		distance = trip.EstimateDistance(active.Path)
	}
	final, done, err := c.store.Finalize(ctx, c.now(), distance)
	if err != nil {
		log.Printf("error finalizing trip %d: %v", active.ID, err)
		return
	}
	if !done {
		return
	}
	log.Printf("trip %d finalized: %d points, %.0f m", final.ID, len(final.Path), final.Distance)
	if c.metrics != nil {
		c.metrics.TripsFinalized.Inc()
	}
	if c.events != nil {
		if err := c.events.PublishFinalized(final); err != nil {
			log.Printf("publish finalized trip %d: %v", final.ID, err)
		}
	}
}
