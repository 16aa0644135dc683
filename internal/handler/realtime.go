package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/realtime"
	"dispatch/internal/service"
)

// RealtimeHandler applies inbound socket messages to the presence tracker
// and serves the websocket endpoint.
type RealtimeHandler struct {
	tracker *service.PresenceTracker
	server  *realtime.Server
}

// NewRealtimeHandler creates a new RealtimeHandler. Call Attach with the
// websocket server before serving.
func NewRealtimeHandler(tracker *service.PresenceTracker) *RealtimeHandler {
	return &RealtimeHandler{tracker: tracker}
}

// Attach sets the websocket server the endpoint upgrades into.
func (h *RealtimeHandler) Attach(server *realtime.Server) {
	h.server = server
}

// HandleInbound implements realtime.InboundHandler. The sender's identity is
// the acting driver or requester.
func (h *RealtimeHandler) HandleInbound(ctx context.Context, sender *realtime.Subscriber, msg realtime.Inbound) error {
	switch m := msg.(type) {
	case realtime.DriverLocationMessage:
		return h.tracker.UpdateLocation(ctx, service.UpdateLocationRequest{
			DriverID:  sender.Identity,
			Point:     m.Point,
			BookingID: m.BookingID,
		})
	case realtime.RequesterLocationMessage:
		return h.tracker.PublishRequesterLocation(ctx, sender.Identity, m.BookingID, m.Point)
	case realtime.DutyMessage:
		if m.OnDuty {
			return h.tracker.SetOnDuty(ctx, sender.Identity)
		}
		return h.tracker.SetOffDuty(ctx, sender.Identity)
	default:
		return service.ErrInvalidPayload
	}
}

// ErrorCode implements realtime.ErrorCoder.
func (h *RealtimeHandler) ErrorCode(err error) string {
	return errorCode(err)
}

// ServeWS handles GET /ws?identity=
func (h *RealtimeHandler) ServeWS(c *gin.Context) {
	identity := c.Query("identity")
	if !realtime.ValidID(identity) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid identity", Code: "invalid_payload"})
		return
	}
	if h.server == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "realtime unavailable", Code: "upstream_unavailable"})
		return
	}

	h.server.ServeWS(c.Writer, c.Request, identity)
}
