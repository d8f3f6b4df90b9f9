package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/cmms-omnibot/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/cmms-omnibot/internal/http/middleware"
	"github.com/wolfman30/cmms-omnibot/internal/messaging"
	"github.com/wolfman30/cmms-omnibot/internal/webchat"
	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

// Config holds router configuration. Nil handlers leave their routes
// unmounted.
type Config struct {
	Logger             *logging.Logger
	ServiceName        string
	WhatsApp           *messaging.Handler
	WebChat            *webchat.Handler
	Gateway            *handlers.GatewayHandler
	Workflows          *handlers.WorkflowHandler
	Notify             *handlers.NotifyHandler
	MetricsHandler     http.Handler
	ServiceAuthSecret  string
	CORSAllowedOrigins []string
	RateLimiter        *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", handlers.Health(cfg.ServiceName))
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Channel traffic from end users is rate limited per client IP.
	r.Group(func(channels chi.Router) {
		if cfg.RateLimiter != nil {
			channels.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		}
		if cfg.WhatsApp != nil {
			channels.Post("/whatsapp", cfg.WhatsApp.WhatsAppWebhook)
		}
		if cfg.WebChat != nil {
			channels.Post("/chat", cfg.WebChat.HandleChat)
			channels.Get("/chat/history", cfg.WebChat.HandleHistory)
			channels.Get("/ws", cfg.WebChat.HandleWebSocket)
		}
		if cfg.Gateway != nil {
			channels.Post("/api/bot/message", cfg.Gateway.HandleMessage)
		}
	})

	// Service-to-service routes require a bearer JWT and stay closed without a
	// configured secret.
	r.Group(func(service chi.Router) {
		service.Use(httpmiddleware.ServiceJWT(cfg.ServiceAuthSecret))
		if cfg.Workflows != nil {
			service.Post("/api/bot/webhook", cfg.Workflows.HandleCallback)
			service.Get("/api/bot/workflows/{correlationID}", cfg.Workflows.HandleGetRun)
		}
		if cfg.Notify != nil {
			service.Post("/api/notify", cfg.Notify.Handle)
		}
	})

	return r
}
