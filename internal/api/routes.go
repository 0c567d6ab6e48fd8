package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"walter_go_backend/internal/auth"
	apperrors "walter_go_backend/internal/errors"
	"walter_go_backend/internal/models"
	"walter_go_backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func SetupRoutes(
	r *gin.Engine,
	chatService *services.ChatStreamService,
	conversations services.ConversationStore,
	billingService *services.BillingService,
	stripeService *services.StripeService,
	transcriptService *services.TranscriptService,
	userService *services.UserService,
) {
	api := r.Group("/api")
	{
		api.POST("/chat", auth.AuthMiddleware(userService), auth.RequireActiveSubscription(), sendChatMessageHandler(chatService))
		api.GET("/conversations", auth.AuthMiddleware(userService), listConversationsHandler(conversations))
		api.GET("/conversations/:conversation_id/messages", auth.AuthMiddleware(userService), getConversationMessagesHandler(conversations))
		api.GET("/conversations/:conversation_id/transcript.pdf", auth.AuthMiddleware(userService), downloadTranscriptHandler(conversations, transcriptService))
		api.POST("/stripe/checkout", auth.AuthMiddleware(userService), createCheckoutSessionHandler(billingService))
		api.POST("/stripe/portal", auth.AuthMiddleware(userService), createPortalSessionHandler(billingService))
		api.POST("/webhooks/stripe", stripeWebhookHandler(stripeService, billingService))
	}
}

func currentUser(c *gin.Context) (*models.User, bool) {
	user, exists := c.Get("user")
	if !exists {
		return nil, false
	}
	userModel, ok := user.(*models.User)
	return userModel, ok
}

// sendChatMessageHandler streams the model's reply as raw text. The
// conversation id travels in the X-Conversation-Id header since the body
// carries only content.
func sendChatMessageHandler(chatService *services.ChatStreamService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			Message        string `json:"message" binding:"required"`
			ConversationID string `json:"conversationId"`
		}

		if err := c.ShouldBindJSON(&request); err != nil {
			apperrors.HandleError(c, apperrors.New400Error("Message is required"))
			return
		}

		user, ok := currentUser(c)
		if !ok {
			apperrors.HandleError(c, apperrors.New401Error())
			return
		}

		exchange, err := chatService.BeginExchange(c.Request.Context(), user, request.ConversationID, request.Message)
		if err != nil {
			if errors.Is(err, services.ErrConversationNotFound) {
				apperrors.HandleError(c, apperrors.New404Error("Conversation not found"))
				return
			}
			apperrors.HandleError(c, apperrors.LogAndReturn500(err))
			return
		}

		c.Header("X-Conversation-Id", exchange.Conversation.ID.String())
		c.Header("Content-Type", "text/plain; charset=utf-8")
		c.Status(http.StatusOK)

		streamErr := exchange.Stream(func(token string) error {
			if _, err := c.Writer.WriteString(token); err != nil {
				return err
			}
			c.Writer.Flush()
			return nil
		})
		if streamErr != nil {
			// The response is already streaming, nothing left to send.
			log.Error().
				Err(streamErr).
				Str("conversationID", exchange.Conversation.ID.String()).
				Msg("Chat stream ended with error")
		}
	}
}

func listConversationsHandler(conversations services.ConversationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			apperrors.HandleError(c, apperrors.New401Error())
			return
		}

		list, err := conversations.ListConversationsByUser(user.ID)
		if err != nil {
			apperrors.HandleError(c, apperrors.LogAndReturn500(err))
			return
		}

		payload := make([]gin.H, 0, len(list))
		for _, conversation := range list {
			payload = append(payload, gin.H{
				"id":         conversation.ID,
				"title":      conversation.Title,
				"created_at": conversation.CreatedAt.Format(time.RFC3339),
				"updated_at": conversation.UpdatedAt.Format(time.RFC3339),
			})
		}

		c.JSON(http.StatusOK, gin.H{"conversations": payload})
	}
}

// ownedConversation loads the path conversation and checks it belongs to the
// authenticated user.
func ownedConversation(c *gin.Context, conversations services.ConversationStore) (*models.Conversation, error) {
	user, ok := currentUser(c)
	if !ok {
		return nil, apperrors.New401Error()
	}

	id, err := uuid.Parse(c.Param("conversation_id"))
	if err != nil {
		return nil, apperrors.New400Error("Invalid conversation id")
	}

	conversation, err := conversations.GetConversationByID(id)
	if err != nil {
		return nil, apperrors.LogAndReturn500(err)
	}
	if conversation == nil || conversation.UserID != user.ID {
		return nil, apperrors.New404Error("Conversation not found")
	}
	return conversation, nil
}

func getConversationMessagesHandler(conversations services.ConversationStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversation, err := ownedConversation(c, conversations)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}

		messages, err := conversations.GetMessages(conversation.ID)
		if err != nil {
			apperrors.HandleError(c, apperrors.LogAndReturn500(err))
			return
		}

		payload := make([]gin.H, 0, len(messages))
		for _, msg := range messages {
			payload = append(payload, gin.H{
				"role":       msg.Role,
				"content":    msg.Content,
				"created_at": msg.CreatedAt.Format(time.RFC3339),
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"conversation_id": conversation.ID,
			"title":           conversation.Title,
			"messages":        payload,
		})
	}
}

func downloadTranscriptHandler(conversations services.ConversationStore, transcriptService *services.TranscriptService) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversation, err := ownedConversation(c, conversations)
		if err != nil {
			apperrors.HandleError(c, err)
			return
		}

		messages, err := conversations.GetMessages(conversation.ID)
		if err != nil {
			apperrors.HandleError(c, apperrors.LogAndReturn500(err))
			return
		}

		c.Header("Content-Type", "application/pdf")
		c.Header("Content-Disposition", `attachment; filename="transcript.pdf"`)
		if err := transcriptService.RenderPDF(conversation, messages, c.Writer); err != nil {
			log.Error().Err(err).Str("conversationID", conversation.ID.String()).Msg("Failed to render transcript")
		}
	}
}

func createCheckoutSessionHandler(billingService *services.BillingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			IsTrial bool `json:"isTrial"`
		}
		// An empty body means no trial.
		_ = c.ShouldBindJSON(&request)

		user, ok := currentUser(c)
		if !ok {
			apperrors.HandleError(c, apperrors.New401Error())
			return
		}

		url, err := billingService.CheckoutURL(user, request.IsTrial)
		if err != nil {
			apperrors.HandleError(c, apperrors.LogAndReturn500(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"url": url})
	}
}

func createPortalSessionHandler(billingService *services.BillingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			apperrors.HandleError(c, apperrors.New401Error())
			return
		}

		url, err := billingService.PortalURL(user)
		if err != nil {
			if errors.Is(err, services.ErrNoBillingAccount) {
				apperrors.HandleError(c, apperrors.New400Error("No subscription found"))
				return
			}
			apperrors.HandleError(c, apperrors.LogAndReturn500(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"url": url})
	}
}

// stripeWebhookHandler verifies the provider signature and feeds the event to
// the billing engine. A processing failure returns 500 so the provider
// redelivers; duplicates are absorbed by the storage layer.
func stripeWebhookHandler(stripeService *services.StripeService, billingService *services.BillingService) gin.HandlerFunc {
	return func(c *gin.Context) {
		const MaxBodyBytes = int64(65536)
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)

		payload, err := io.ReadAll(c.Request.Body)
		if err != nil {
			log.Error().Err(err).Msg("Error reading webhook request body")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Error reading request body"})
			return
		}

		signatureHeader := c.GetHeader("Stripe-Signature")
		event, err := stripeService.VerifyWebhook(payload, signatureHeader)
		if err != nil {
			log.Error().Err(err).Msg("Webhook signature verification failed")
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to verify webhook signature"})
			return
		}

		if err := billingService.HandleEvent(event); err != nil {
			log.Error().Err(err).Str("type", string(event.Type)).Msg("Webhook event processing failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process webhook event"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"received": true})
	}
}
