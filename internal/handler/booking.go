package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
	"dispatch/internal/service"
)

// BookingHandler handles HTTP requests for bookings.
type BookingHandler struct {
	bookingService *service.BookingService
	scorer         *service.Scorer
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(bookingService *service.BookingService, scorer *service.Scorer) *BookingHandler {
	return &BookingHandler{
		bookingService: bookingService,
		scorer:         scorer,
	}
}

// CoordinatesRequest is a position in a request body. A missing field is
// rejected rather than read as zero.
type CoordinatesRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (r *CoordinatesRequest) point() (geo.Point, bool) {
	if r == nil || r.Lat == nil || r.Lng == nil {
		return geo.Point{}, false
	}
	return geo.Point{Lat: *r.Lat, Lng: *r.Lng}, true
}

// CreateBookingRequest is the HTTP request body for creating a booking.
type CreateBookingRequest struct {
	RequesterID string              `json:"requester_id"`
	Pickup      *CoordinatesRequest `json:"pickup"`
	Destination *CoordinatesRequest `json:"destination"`
}

// DriverActionRequest is the HTTP request body for accept, complete and release.
type DriverActionRequest struct {
	DriverID string `json:"driver_id"`
}

// CancelBookingRequest is the HTTP request body for cancelling a booking.
type CancelBookingRequest struct {
	RequesterID string `json:"requester_id"`
}

// BookingResponse is the HTTP response for booking data.
type BookingResponse struct {
	ID               string    `json:"id"`
	RequesterID      string    `json:"requester_id"`
	DriverID         string    `json:"driver_id,omitempty"`
	Pickup           geo.Point `json:"pickup"`
	Destination      geo.Point `json:"destination"`
	Status           string    `json:"status"`
	AlertedObservers []string  `json:"alerted_observers"`
	CreatedAt        string    `json:"created_at"`
	UpdatedAt        string    `json:"updated_at"`
}

// RankedDriversResponse is the HTTP response for a driver ranking.
type RankedDriversResponse struct {
	BookingID string                 `json:"booking_id"`
	RadiusKm  float64                `json:"radius_km"`
	Drivers   []service.ScoredDriver `json:"drivers"`
}

// BestDriverResponse is the HTTP response for the best driver pick.
type BestDriverResponse struct {
	BookingID string                `json:"booking_id"`
	Driver    *service.ScoredDriver `json:"driver"`
}

func toBookingResponse(b *domain.Booking) BookingResponse {
	alerted := b.AlertedObservers
	if alerted == nil {
		alerted = []string{}
	}
	return BookingResponse{
		ID:               b.ID,
		RequesterID:      b.RequesterID,
		DriverID:         b.DriverID,
		Pickup:           b.Pickup,
		Destination:      b.Destination,
		Status:           string(b.Status),
		AlertedObservers: alerted,
		CreatedAt:        b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        b.UpdatedAt.Format(time.RFC3339),
	}
}

// CreateBooking handles POST /v1/bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "invalid_payload"})
		return
	}

	pickup, okPickup := req.Pickup.point()
	destination, okDestination := req.Destination.point()
	if !okPickup || !okDestination {
		respondError(c, service.ErrInvalidLocation)
		return
	}

	booking, err := h.bookingService.Create(c.Request.Context(), service.CreateBookingRequest{
		RequesterID: req.RequesterID,
		Pickup:      pickup,
		Destination: destination,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toBookingResponse(booking))
}

// ListBookings handles GET /v1/bookings
func (h *BookingHandler) ListBookings(c *gin.Context) {
	bookings, err := h.bookingService.ListActive(c.Request.Context(), domain.BookingFilter{
		RequesterID: c.Query("requester_id"),
		DriverID:    c.Query("driver_id"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]BookingResponse, 0, len(bookings))
	for _, b := range bookings {
		response = append(response, toBookingResponse(b))
	}
	c.JSON(http.StatusOK, response)
}

// GetBooking handles GET /v1/bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	booking, err := h.bookingService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toBookingResponse(booking))
}

// RankDrivers handles GET /v1/bookings/:id/drivers
func (h *BookingHandler) RankDrivers(c *gin.Context) {
	ctx := c.Request.Context()

	booking, err := h.bookingService.Get(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	drivers, err := h.scorer.Rank(ctx, service.RankRequest{
		Pickup:   booking.Pickup,
		RadiusKm: service.SearchRadiusKm,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, RankedDriversResponse{
		BookingID: booking.ID,
		RadiusKm:  service.SearchRadiusKm,
		Drivers:   drivers,
	})
}

// BestDriver handles GET /v1/bookings/:id/best-driver
func (h *BookingHandler) BestDriver(c *gin.Context) {
	ctx := c.Request.Context()

	booking, err := h.bookingService.Get(ctx, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	driver, err := h.scorer.BestDriver(ctx, booking.Pickup, service.BestDriverRadiusKm)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, BestDriverResponse{BookingID: booking.ID, Driver: driver})
}

// AcceptBooking handles POST /v1/bookings/:id/accept
func (h *BookingHandler) AcceptBooking(c *gin.Context) {
	h.driverAction(c, h.bookingService.Accept)
}

// CompleteBooking handles POST /v1/bookings/:id/complete
func (h *BookingHandler) CompleteBooking(c *gin.Context) {
	h.driverAction(c, h.bookingService.Complete)
}

// ReleaseBooking handles POST /v1/bookings/:id/release
func (h *BookingHandler) ReleaseBooking(c *gin.Context) {
	h.driverAction(c, h.bookingService.Release)
}

func (h *BookingHandler) driverAction(c *gin.Context, action func(ctx context.Context, bookingID, driverID string) (*domain.Booking, error)) {
	var req DriverActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "invalid_payload"})
		return
	}

	booking, err := action(c.Request.Context(), c.Param("id"), req.DriverID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toBookingResponse(booking))
}

// CancelBooking handles POST /v1/bookings/:id/cancel
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	var req CancelBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "invalid_payload"})
		return
	}

	booking, err := h.bookingService.Cancel(c.Request.Context(), c.Param("id"), req.RequesterID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toBookingResponse(booking))
}
