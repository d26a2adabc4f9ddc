package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"trip-tracker/internal/coordinator"
)

func RegisterTrackingRoutes(r fiber.Router, t Tracker) {
	r.Post("/start", func(c *fiber.Ctx) error {
		id, err := t.Start(c.UserContext())
		switch {
		case errors.Is(err, coordinator.ErrAlreadyTracking):
			return c.Status(fiber.StatusConflict).JSON(coordinator.StartResult{Error: err.Error()})
		case err != nil:
			return c.Status(fiber.StatusInternalServerError).JSON(coordinator.StartResult{Error: err.Error()})
		}
		return c.Status(fiber.StatusCreated).JSON(coordinator.StartResult{Success: true, TripID: id})
	})

	r.Post("/stop", func(c *fiber.Ctx) error {
		t.StopLocationTracking(c.UserContext())
		return c.SendStatus(fiber.StatusNoContent)
	})

	r.Post("/sample", func(c *fiber.Ctx) error {
		err := t.RequestLocationUpdate(c.UserContext())
		switch {
		case errors.Is(err, coordinator.ErrTickInFlight), errors.Is(err, coordinator.ErrNotTracking):
			return fiber.NewError(fiber.StatusConflict, err.Error())
		case err != nil:
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.SendStatus(fiber.StatusAccepted)
	})
}

func RegisterTripRoutes(r fiber.Router, trips TripReader) {
	r.Get("/", func(c *fiber.Ctx) error {
		all, err := trips.GetAll(c.UserContext())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(all)
	})

	r.Get("/active", func(c *fiber.Ctx) error {
		active, ok, err := trips.Active(c.UserContext())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no active trip")
		}
		return c.JSON(active)
	})
}
