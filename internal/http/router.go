package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

func NewRouter(h *CartHandler, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Get("/", h.GetCart)
		r.Delete("/", h.ClearCart)
		r.Post("/expire", h.ClearExpired)
		r.Get("/remote", h.FetchRemote)

		r.Route("/items", func(r chi.Router) {
			r.Post("/", h.AddItem)
			r.Put("/", h.UpdateQuantity)
			r.Delete("/", h.RemoveItem)
		})

		r.Route("/restaurants", func(r chi.Router) {
			r.Get("/", h.ListRestaurants)
			r.Get("/{restaurantID}", h.GetRestaurant)
			r.Post("/{restaurantID}/sync", h.SyncRestaurant)
		})
	})

	return cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
	}).Handler(r)
}
