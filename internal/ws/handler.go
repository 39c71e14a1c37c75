package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"classchat-service/internal/auth"
	"classchat-service/internal/observability"
)

// Handler upgrades websocket connections and runs their pumps.
type Handler struct {
	hub        *Hub
	server     *Server
	validator  *auth.Validator
	sendBuffer int
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, server *Server, validator *auth.Validator, sendBuffer int) *Handler {
	return &Handler{hub: hub, server: server, validator: validator, sendBuffer: sendBuffer}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, upgrades and registers the connection.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("classchat-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		if q := c.Query("token"); q != "" {
			token = "Bearer " + q
		}
	}

	identity, err := auth.IdentityFromBearer(h.validator, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := newClient(uuid.NewString(), identity, conn, h.sendBuffer)
	client.RequestID = observability.RequestIDFromRequest(c.Request)
	client.TraceID = span.SpanContext().TraceID().String()
	client.DeviceID = observability.DeviceIDFromRequest(c.Request)
	client.IP = observability.IPFromRequest(c.Request)

	h.hub.Register(client)
	observability.IncWSActive("chat")
	observability.IncWSEvent("chat", "ws_connect")
	publishConnEvent(ctx, client, "ws_connect", "")

	go client.writePump()
	go func() {
		var closeReason string
		defer func() {
			h.hub.Unregister(client)
			client.close()
			observability.DecWSActive("chat")
			observability.IncWSEvent("chat", "ws_disconnect")
			publishConnEvent(ctx, client, "ws_disconnect", closeReason)
			conn.Close()
		}()
		closeReason = client.readPump(h.server)
		if closeReason != "" {
			observability.IncWSEvent("chat", "ws_error")
			publishConnEvent(ctx, client, "ws_error", closeReason)
		}
	}()
}
