package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-sync/internal/middleware"
	"chat-sync/internal/observability"
	"chat-sync/internal/repositories"
)

// ConversationWebSocketHandler handles conversation websocket connections.
type ConversationWebSocketHandler struct {
	hub       *Hub
	convRepo  repositories.ConversationRepository
	jwtSecret []byte
}

// NewConversationWebSocketHandler constructs a ConversationWebSocketHandler.
func NewConversationWebSocketHandler(hub *Hub, convRepo repositories.ConversationRepository, jwtSecret []byte) *ConversationWebSocketHandler {
	return &ConversationWebSocketHandler{hub: hub, convRepo: convRepo, jwtSecret: jwtSecret}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection, registers the client and relays its
// payloads to the rest of the room until the connection closes.
func (h *ConversationWebSocketHandler) Handle(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	ctx, span := otel.Tracer("chat-sync/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := middleware.TokenFromRequest(c)
	claims, err := middleware.ParseToken(h.jwtSecret, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	member, err := h.convRepo.IsParticipant(c.Request.Context(), conversationID, claims.UserID)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized for conversation"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	traceID := span.SpanContext().TraceID().String()
	requestID := observability.RequestIDFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      claims.UserID,
		UserName:    claims.UserName,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(conversationID, conn, info)
	h.hub.BroadcastJoin(conversationID, conn, claims.UserID)

	observability.IncActiveSessions()
	observability.IncWSEvent("ws_connect")
	_ = observability.PublishEvent(ctx, "ws_events.conversations", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: "ws_connect",
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"conversation_id": conversationID,
				"event":           "ws_connect",
				"conn_id":         info.ConnID,
				"duration_ms":     0,
				"reason":          "",
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(requestID, traceID))

	// Relay loop, cleans up on close.
	go func() {
		var closeReason string
		defer func() {
			h.hub.RemoveClient(conversationID, conn)
			h.hub.BroadcastLeave(conversationID, conn, claims.UserID)
			observability.DecActiveSessions()
			observability.IncWSEvent("ws_disconnect")
			_ = observability.PublishEvent(ctx, "ws_events.conversations", observability.EventEnvelope{
				EventType: "ws_events",
				EventName: "ws_disconnect",
				Payload: map[string]interface{}{
					"ws": map[string]interface{}{
						"conversation_id": conversationID,
						"event":           "ws_disconnect",
						"conn_id":         info.ConnID,
						"duration_ms":     time.Since(info.ConnectedAt).Milliseconds(),
						"reason":          closeReason,
					},
					"identity": map[string]interface{}{
						"user_id":   info.UserID,
						"device_id": info.DeviceID,
						"ip":        info.IP,
					},
				},
			}, observability.BuildHeaders(requestID, traceID))
			conn.Close()
		}()
		for {
			_, body, err := conn.ReadMessage()
			if err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("ws_error")
					_ = observability.PublishEvent(ctx, "ws_events.conversations", observability.EventEnvelope{
						EventType: "ws_events",
						EventName: "ws_error",
						Payload: map[string]interface{}{
							"ws": map[string]interface{}{
								"conversation_id": conversationID,
								"event":           "ws_error",
								"conn_id":         info.ConnID,
								"duration_ms":     time.Since(info.ConnectedAt).Milliseconds(),
								"reason":          closeReason,
							},
							"identity": map[string]interface{}{
								"user_id":   info.UserID,
								"device_id": info.DeviceID,
								"ip":        info.IP,
							},
						},
					}, observability.BuildHeaders(requestID, traceID))
				}
				return
			}
			h.hub.Relay(conversationID, conn, body)
		}
	}()
}
