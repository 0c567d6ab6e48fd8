package wsocket

import (
	"encoding/json"
	"net/http"

	"walter_go_backend/internal/models"
	"walter_go_backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Frame is the structured envelope carried over the socket: metadata and
// content share one stream instead of hiding the conversation id in a
// transport header.
//
//	client -> server: {type: "message", content, conversationId?}
//	server -> client: {type: "meta", conversationId}
//	                  {type: "token", content}
//	                  {type: "done"}
//	                  {type: "error", content}
type Frame struct {
	Type           string `json:"type"`
	Content        string `json:"content,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

type Handler struct {
	chatService *services.ChatStreamService
	upgrader    websocket.Upgrader
}

func NewHandler(chatService *services.ChatStreamService, upgrader websocket.Upgrader) *Handler {
	return &Handler{
		chatService: chatService,
		upgrader:    upgrader,
	}
}

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request, user interface{}) {
	userModel, ok := user.(*models.User)
	if !ok {
		http.Error(w, "User not found in context", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade websocket connection")
		return
	}
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("Websocket read ended")
			}
			break
		}

		var frame Frame
		if err := json.Unmarshal(message, &frame); err != nil {
			conn.WriteJSON(Frame{Type: "error", Content: "Invalid frame"})
			continue
		}

		switch frame.Type {
		case "message":
			h.handleChatMessage(r, conn, userModel, frame)
		default:
			log.Debug().Str("type", frame.Type).Msg("Unknown websocket frame type")
		}
	}
}

func (h *Handler) handleChatMessage(r *http.Request, conn *websocket.Conn, user *models.User, frame Frame) {
	if frame.Content == "" {
		conn.WriteJSON(Frame{Type: "error", Content: "Message is required"})
		return
	}

	exchange, err := h.chatService.BeginExchange(r.Context(), user, frame.ConversationID, frame.Content)
	if err != nil {
		log.Error().Err(err).Msg("Failed to begin chat exchange")
		conn.WriteJSON(Frame{Type: "error", Content: err.Error()})
		return
	}

	// Metadata goes out before the first token.
	if err := conn.WriteJSON(Frame{Type: "meta", ConversationID: exchange.Conversation.ID.String()}); err != nil {
		log.Debug().Err(err).Msg("Client went away before stream start")
		return
	}

	streamErr := exchange.Stream(func(token string) error {
		return conn.WriteJSON(Frame{Type: "token", Content: token})
	})
	if streamErr != nil {
		conn.WriteJSON(Frame{Type: "error", Content: "Stream interrupted"})
		return
	}

	if err := conn.WriteJSON(Frame{Type: "done", ConversationID: exchange.Conversation.ID.String()}); err != nil {
		log.Debug().Err(err).Msg("Failed to send done frame")
	}
}
