package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewRouter wires the cart routes. The returned handler is traced with otelhttp.
func NewRouter(h *CartHandler, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ClientSessionMiddleware)

		r.Put("/session/auth", h.SetAuth)
		r.Delete("/session", h.EndSession)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.GetCart)
			r.Delete("/", h.ClearCart)
			r.Post("/items", h.AddItem)
			r.Put("/items/{product_id}", h.UpdateQuantity)
			r.Delete("/items/{product_id}", h.RemoveItem)
			r.Post("/checkout", h.Checkout)
		})
	})

	return otelhttp.NewHandler(r, "cartd")
}
