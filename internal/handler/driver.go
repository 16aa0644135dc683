package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/geo"
	"dispatch/internal/service"
)

// DriverHandler handles HTTP requests for driver presence.
type DriverHandler struct {
	tracker *service.PresenceTracker
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(tracker *service.PresenceTracker) *DriverHandler {
	return &DriverHandler{tracker: tracker}
}

// SetDutyRequest is the HTTP request body for changing duty.
type SetDutyRequest struct {
	OnDuty *bool `json:"on_duty"`
}

// UpdateLocationRequest is the HTTP request body for updating driver location.
type UpdateLocationRequest struct {
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	BookingID string   `json:"booking_id,omitempty"`
}

// LocationResponse is a reported position.
type LocationResponse struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	UpdatedAt string  `json:"updated_at,omitempty"`
}

// PresenceResponse is the HTTP response for driver presence.
type PresenceResponse struct {
	DriverID        string            `json:"driver_id"`
	OnDuty          bool              `json:"on_duty"`
	Available       bool              `json:"available"`
	CurrentLocation *LocationResponse `json:"current_location,omitempty"`
	CurrentLoad     int               `json:"current_load"`
	Rating          float64           `json:"rating"`
}

func toPresenceResponse(p domain.DriverPresence) PresenceResponse {
	resp := PresenceResponse{
		DriverID:    p.DriverID,
		OnDuty:      p.OnDuty,
		Available:   p.Available(),
		CurrentLoad: p.CurrentLoad,
		Rating:      p.Rating,
	}
	if p.CurrentLocation != nil {
		resp.CurrentLocation = &LocationResponse{Lat: p.CurrentLocation.Lat, Lng: p.CurrentLocation.Lng}
		if !p.CurrentLocation.UpdatedAt.IsZero() {
			resp.CurrentLocation.UpdatedAt = p.CurrentLocation.UpdatedAt.Format(time.RFC3339)
		}
	}
	return resp
}

// SetDuty handles POST /v1/drivers/:id/duty
func (h *DriverHandler) SetDuty(c *gin.Context) {
	var req SetDutyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OnDuty == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "invalid_payload"})
		return
	}

	driverID := c.Param("id")
	var err error
	if *req.OnDuty {
		err = h.tracker.SetOnDuty(c.Request.Context(), driverID)
	} else {
		err = h.tracker.SetOffDuty(c.Request.Context(), driverID)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// UpdateLocation handles POST /v1/drivers/:id/location
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body", Code: "invalid_payload"})
		return
	}

	point, ok := (&CoordinatesRequest{Lat: req.Lat, Lng: req.Lng}).point()
	if !ok {
		respondError(c, service.ErrInvalidLocation)
		return
	}

	err := h.tracker.UpdateLocation(c.Request.Context(), service.UpdateLocationRequest{
		DriverID:  c.Param("id"),
		Point:     point,
		BookingID: req.BookingID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetPresence handles GET /v1/drivers/:id/presence
func (h *DriverHandler) GetPresence(c *gin.Context) {
	p, err := h.tracker.Presence(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toPresenceResponse(*p))
}

// Nearby handles GET /v1/drivers/nearby?lat=&lng=&radius_km=
func (h *DriverHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		respondError(c, service.ErrInvalidLocation)
		return
	}
	center := geo.Point{Lat: lat, Lng: lng}
	if !center.Valid() {
		respondError(c, service.ErrInvalidLocation)
		return
	}

	radiusKm := service.SearchRadiusKm
	if raw := c.Query("radius_km"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil || r <= 0 {
			respondError(c, service.ErrInvalidRadius)
			return
		}
		radiusKm = r
	}

	drivers, err := h.tracker.NearbyDrivers(c.Request.Context(), center, radiusKm)
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]PresenceResponse, 0, len(drivers))
	for _, d := range drivers {
		response = append(response, toPresenceResponse(d))
	}
	c.JSON(http.StatusOK, response)
}
