package sandbox

import (
	"context"
	"log"
	"time"
)

const (
	EventLocationUpdate = "locationUpdate"
	EventHeartbeat      = "heartbeat"
	EventGetStatus      = "getStatus"
	// EventStatus is the older name of getStatus, still served by heartbeat runners.
	EventStatus = "status"
)

// DefaultHeartbeatInterval is the beat period of an auto-started heartbeat runner.
const DefaultHeartbeatInterval = 3 * time.Second

var (
	// LocationEvents lists every event a location runner can serve.
	LocationEvents = []string{EventLocationUpdate, EventHeartbeat, EventGetStatus}
	// HeartbeatEvents lists every event a heartbeat runner can serve.
	HeartbeatEvents = []string{EventHeartbeat, EventGetStatus, EventStatus}
)

// NewLocationRunner builds the location runner: it coordinates sampling but
// cannot read the position itself, so locationUpdate only hands the work back
// to the caller through DirectiveFetchLocation. With events given, only
// those handlers are installed; unknown names are ignored.
func NewLocationRunner(label string, budget time.Duration, events ...string) *Runner {
	r := NewRunner(label, budget)
	r.install(map[string]Handler{
		EventLocationUpdate: r.handleLocationUpdate,
		EventHeartbeat:      r.handleHeartbeat,
		EventGetStatus:      r.handleGetStatus,
	}, LocationEvents, events)
	return r
}

// NewHeartbeatRunner builds a liveness runner. Its counter advances on its
// own once StartHeartbeat is called and lives only as long as the instance.
func NewHeartbeatRunner(label string, budget time.Duration, events ...string) *Runner {
	r := NewRunner(label, budget)
	r.install(map[string]Handler{
		EventHeartbeat: r.handleHeartbeat,
		EventGetStatus: r.handleGetStatus,
		EventStatus:    r.handleGetStatus,
	}, HeartbeatEvents, events)
	return r
}

func (r *Runner) install(handlers map[string]Handler, defaults, events []string) {
	if len(events) == 0 {
		events = defaults
	}
	for _, e := range events {
		if h, ok := handlers[e]; ok {
			r.Register(e, h)
		}
	}
}

func (r *Runner) handleLocationUpdate(_ context.Context, _ map[string]any) (Response, error) {
	id := r.taskCount.Add(1)
	log.Printf("runner %s: locationUpdate task %d, requesting location from caller", r.label, id)
	return Response{
		Success:   true,
		Action:    DirectiveFetchLocation,
		Message:   "background task triggered, caller should fetch location",
		TaskID:    id,
		Timestamp: r.timestamp(),
	}, nil
}

func (r *Runner) handleHeartbeat(_ context.Context, _ map[string]any) (Response, error) {
	r.beat()
	return Response{
		Success:   true,
		Message:   "runner active",
		Timestamp: r.timestamp(),
	}, nil
}

func (r *Runner) handleGetStatus(_ context.Context, _ map[string]any) (Response, error) {
	now := r.now()
	return Response{
		Success:   true,
		Message:   "runner status",
		Timestamp: now.UnixMilli(),
		Status: &Status{
			Label:          r.label,
			HeartbeatCount: r.heartbeatCount.Load(),
			TaskCount:      r.taskCount.Load(),
			UptimeSeconds:  int64(now.Sub(r.startedAt) / time.Second),
			StartedAt:      r.startedAt.UnixMilli(),
			IsRunning:      r.running.Load(),
		},
	}, nil
}
