/**
 * @description
 * This file sets up the HTTP router for the score-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies the
 * middleware stack: request ids, logging, panic recovery, timeouts, CORS and
 * operator authentication.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// RouterConfig carries the settings the router needs.
type RouterConfig struct {
	OperatorJWTSecret string
	AllowedOrigins    []string
	Logger            *zap.Logger
}

// ScoreRoutes creates and returns a new router for the score service.
func ScoreRoutes(h *ScoreHandlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}

	// Add standard middleware for request ids, logging, panic recovery, and timeouts.
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Route("/scores", func(r chi.Router) {
		r.Use(OperatorAuthMiddleware(cfg.OperatorJWTSecret))

		// Account score origins and derived balances
		r.Post("/accounts", h.RegisterAccountHandler)
		r.Get("/accounts/{nationalCode}/{accountNumber}/balance", h.GetBalanceHandler)
		r.Put("/accounts/{nationalCode}/{accountNumber}/score", h.CorrectScoreHandler)
		r.Get("/accounts/{nationalCode}/{accountNumber}/transfers", h.ListTransfersHandler)

		// Transfers
		r.Post("/transfers", h.TransferHandler)
		r.Get("/transfers/{referenceCode}", h.GetTransfersHandler)
		r.Post("/transfers/{referenceCode}/reversal", h.ReverseHandler)

		// Consumptions
		r.Post("/consumptions", h.ProposeConsumptionHandler)
		r.Get("/consumptions/{referenceCode}", h.GetConsumptionsHandler)
		r.Post("/consumptions/{referenceCode}/accept", h.AcceptConsumptionHandler)
		r.Delete("/consumptions/{referenceCode}", h.CancelConsumptionHandler)
	})

	return r
}
