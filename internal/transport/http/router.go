package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"lrnr-quiz-service/internal/auth"
	"lrnr-quiz-service/internal/config"
	"lrnr-quiz-service/internal/metrics"
)

// NewRouter mounts the API, the leaderboard feed, health and metrics.
func NewRouter(h *Handler, ws *WSHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())
	if ws != nil {
		r.Get("/ws/leaderboard", ws.ServeLeaderboard)
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Get("/leaderboard", h.Leaderboard)
		r.Get("/styles", h.Styles)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(h.issuer))
			r.Post("/score", h.SubmitScore)
			r.Get("/account", h.Account)
			r.Post("/questions", h.GenerateQuestions)
			r.Post("/checkAnswer", h.CheckAnswer)
		})
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		config.WithContext(r.Context()).WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		}).Info("request")
	})
}
