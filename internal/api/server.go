// Package api exposes the coordinator's operations over HTTP.
package api

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"trip-tracker/internal/sandbox"
	"trip-tracker/internal/trip"
)

// Tracker is the control surface of the location coordinator.
type Tracker interface {
	Start(ctx context.Context) (int64, error)
	StopLocationTracking(ctx context.Context)
	RequestLocationUpdate(ctx context.Context) error
	Running() bool
	RunnerStatus(ctx context.Context) (sandbox.Response, error)
}

type TripReader interface {
	GetAll(ctx context.Context) ([]trip.Trip, error)
	Active(ctx context.Context) (trip.Trip, bool, error)
}

type Server struct {
	App     *fiber.App
	Tracker Tracker
	Trips   TripReader
}

func NewServer(tracker Tracker, trips TripReader) *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{App: app, Tracker: tracker, Trips: trips}
	registerRoutes(s)
	return s
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "tracking": s.Tracker.Running()})
	})

	RegisterTrackingRoutes(s.App.Group("/tracking"), s.Tracker)
	RegisterTripRoutes(s.App.Group("/trips"), s.Trips)
	s.App.Get("/runner/status", func(c *fiber.Ctx) error {
		resp, err := s.Tracker.RunnerStatus(c.UserContext())
		if err != nil {
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}
		return c.JSON(resp)
	})
}
