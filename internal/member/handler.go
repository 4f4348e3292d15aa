package member

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes member HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a member HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type joinRequest struct {
	CircleID string `json:"circle_id"`
	UserID   string `json:"user_id"`
}

type memberResponse struct {
	CircleID string    `json:"circle_id"`
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// Join registers a user in a circle.
func (h *Handler) Join(c *fiber.Ctx) error {
	var req joinRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	m, err := h.service.Join(c.UserContext(), req.CircleID, req.UserID)
	if err != nil {
		if errors.Is(err, ErrAlreadyMember) {
			return fiber.NewError(http.StatusConflict, err.Error())
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(memberResponse{
		CircleID: m.CircleID,
		UserID:   m.UserID,
		JoinedAt: m.JoinedAt,
	})
}

type endorseRequest struct {
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`
}

// Endorse records a peer vouch inside a circle.
func (h *Handler) Endorse(c *fiber.Ctx) error {
	var req endorseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	circleID := c.Params("circleId")
	if err := h.service.Endorse(c.UserContext(), circleID, req.FromUserID, req.ToUserID); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return fiber.NewError(http.StatusNotFound, err.Error())
		case errors.Is(err, ErrDuplicateEndorsement):
			return fiber.NewError(http.StatusConflict, err.Error())
		default:
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	return c.SendStatus(http.StatusNoContent)
}

type bookingRequest struct {
	UserID    string `json:"user_id"`
	Completed bool   `json:"completed"`
}

// RecordBooking records a closed booking outcome for a member.
func (h *Handler) RecordBooking(c *fiber.Ctx) error {
	var req bookingRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	circleID := c.Params("circleId")
	if err := h.service.RecordBooking(c.UserContext(), circleID, req.UserID, req.Completed); err != nil {
		if errors.Is(err, ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.SendStatus(http.StatusNoContent)
}

// Profile returns a member record with their behavioral counters.
func (h *Handler) Profile(c *fiber.Ctx) error {
	circleID := c.Params("circleId")
	userID := c.Params("userId")
	m, err := h.service.Get(c.UserContext(), circleID, userID)
	if err != nil {
		return fiber.NewError(http.StatusNotFound, err.Error())
	}
	stats, err := h.service.repo.BookingStats(c.UserContext(), circleID, userID)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	vouches, err := h.service.repo.VouchCount(c.UserContext(), circleID, userID)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"circle_id":          m.CircleID,
		"user_id":            m.UserID,
		"joined_at":          m.JoinedAt,
		"bookings_total":     stats.Total,
		"bookings_completed": stats.Completed,
		"vouches":            vouches,
	})
}
