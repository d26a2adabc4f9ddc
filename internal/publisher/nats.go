package publisher

import (
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/mmcloughlin/geohash"
	"github.com/nats-io/nats.go"

	"trip-tracker/internal/trip"
)

// geohashPrecision 7 is a cell of roughly 150m, enough to group nearby fixes.
const geohashPrecision = 7

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// Connect opens a NATS connection that reports its state to m (which may be nil).
func Connect(url, name string, m PublisherMetrics) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return nc, nil
}

// NATSPublisher announces trip changes on trips.<id>.points and trips.<id>.finalized.
type NATSPublisher struct {
	nc          *nats.Conn
	logSubjects bool
	metrics     PublisherMetrics
}

func NewNATSPublisher(nc *nats.Conn, logSubjects bool, m PublisherMetrics) *NATSPublisher {
	return &NATSPublisher{nc: nc, logSubjects: logSubjects, metrics: m}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

type PointMessage struct {
	TripID     int64   `json:"tripId"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Accuracy   float64 `json:"accuracy"`
	Timestamp  int64   `json:"timestamp"`
	Geohash    string  `json:"geohash"`
	PathLength int     `json:"pathLength"`
}

type FinalizedMessage struct {
	TripID    int64     `json:"tripId"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Distance  float64   `json:"distance"`
	Points    int       `json:"points"`
}

func NewPointMessage(t trip.Trip, p trip.LocationPoint) PointMessage {
	return PointMessage{
		TripID:     t.ID,
		Latitude:   p.Latitude,
		Longitude:  p.Longitude,
		Accuracy:   p.Accuracy,
		Timestamp:  p.Timestamp,
		Geohash:    geohash.EncodeWithPrecision(p.Latitude, p.Longitude, geohashPrecision),
		PathLength: len(t.Path),
	}
}

func NewFinalizedMessage(t trip.Trip) FinalizedMessage {
	msg := FinalizedMessage{
		TripID:    t.ID,
		StartTime: t.StartTime,
		Distance:  t.Distance,
		Points:    len(t.Path),
	}
	if t.EndTime != nil {
		msg.EndTime = *t.EndTime
	}
	return msg
}

func PointSubject(tripID int64) string {
	return fmt.Sprintf("trips.%s.points", SubjectToken(strconv.FormatInt(tripID, 10)))
}

func FinalizedSubject(tripID int64) string {
	return fmt.Sprintf("trips.%s.finalized", SubjectToken(strconv.FormatInt(tripID, 10)))
}

func (p *NATSPublisher) PublishPoint(t trip.Trip, pt trip.LocationPoint) error {
	return p.publish(PointSubject(t.ID), NewPointMessage(t, pt))
}

func (p *NATSPublisher) PublishFinalized(t trip.Trip) error {
	return p.publish(FinalizedSubject(t.ID), NewFinalizedMessage(t))
}

func (p *NATSPublisher) publish(subject string, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

// SubjectToken makes s usable as a single NATS subject token.
func SubjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
