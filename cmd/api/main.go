package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"walter_go_backend/cmd/api/config"
	"walter_go_backend/internal/api"
	"walter_go_backend/internal/auth"
	"walter_go_backend/internal/database"
	"walter_go_backend/internal/services"
	"walter_go_backend/internal/wsocket"

	"github.com/gorilla/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/generative-ai-go/genai"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	genaiAPIKey := os.Getenv("GOOGLE_AI_STUDIO_API_KEY")
	if genaiAPIKey == "" {
		log.Fatal("GOOGLE_AI_STUDIO_API_KEY is not set in the environment")
	}

	ctx := context.Background()

	database.InitDB()

	cfg := config.NewConfig()

	// Initialize external services clients
	stripePublicKey := os.Getenv("STRIPE_PUBLIC_KEY")
	stripeSecretKey := os.Getenv("STRIPE_SECRET_KEY")
	stripeWebhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if stripeWebhookSecret == "" {
		log.Fatal("STRIPE_WEBHOOK_SECRET is not set in the environment")
	}
	stripePriceID := os.Getenv("STRIPE_PRICE_ID")
	if stripePriceID == "" {
		log.Fatal("STRIPE_PRICE_ID is not set in the environment")
	}
	appURL := os.Getenv("APP_URL")
	if appURL == "" {
		appURL = "http://localhost:5173"
	}
	stripeService := services.NewStripeService(stripePublicKey, stripeSecretKey, stripeWebhookSecret, stripePriceID, appURL, cfg.TrialPeriodDays)

	genaiClient, err := genai.NewClient(ctx, option.WithAPIKey(genaiAPIKey))
	if err != nil {
		log.Fatalf("Failed to create GenAI client: %v", err)
	}
	defer genaiClient.Close()

	// Initialize internal services
	billingStore := services.NewBillingStoreDB(database.DB)
	conversationStore := services.NewConversationStoreDB(database.DB)

	userService := services.NewUserService(billingStore, billingStore)
	billingService := services.NewBillingService(stripeService, billingStore, billingStore, cfg.DefaultPeriod)

	streamer := services.NewGenAIStreamer(genaiClient, cfg.GenerativeModelName)
	chatService := services.NewChatStreamService(streamer, conversationStore, cfg.HistoryWindow)
	transcriptService := services.NewTranscriptService()

	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	if allowedOrigins == "" {
		allowedOrigins = "http://localhost:5173" // Default to your local frontend
	}

	// CORS middleware configuration
	r.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(allowedOrigins, ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "X-Conversation-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// WebSocket upgrader
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // TODO: Implement a more secure check in production
		},
	}

	// Create WebSocket handler
	wsHandler := wsocket.NewHandler(chatService, upgrader)

	api.SetupRoutes(r, chatService, conversationStore, billingService, stripeService, transcriptService, userService)
	auth.SetupRoutes(r, userService)

	// Add WebSocket route
	r.GET("/ws", auth.AuthMiddleware(userService), auth.RequireActiveSubscription(), func(c *gin.Context) {
		user, _ := c.Get("user")
		wsHandler.HandleWebSocket(c.Writer, c.Request, user)
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	log.Printf("Server starting on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
