package routes

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/quii/vue-fast-sub001/handlers"
	"github.com/quii/vue-fast-sub001/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

func SetupRoutes(
	router chi.Router,
	logger *slog.Logger,
	allowedOrigins []string,
	shootHandler *handlers.ShootHandler,
	webSocketHandler *handlers.WebSocketHandler,
) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.RequestLogger(logger))
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/healthz", handlers.Health)
	router.Get("/ws", webSocketHandler.ServeWs)

	router.Get("/swagger/doc.json", handlers.OpenAPIDocument)
	router.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	router.Route("/shoots", func(r chi.Router) {
		r.Post("/", shootHandler.CreateShoot)
		r.Route("/{code}", func(r chi.Router) {
			r.Get("/", shootHandler.GetShoot)
			r.Post("/join", shootHandler.JoinShoot)
			r.Put("/score", shootHandler.UpdateScore)
			r.Put("/finish", shootHandler.FinishShoot)
			r.Delete("/archer/{archerName}", shootHandler.LeaveShoot)
		})
	})
}
