package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"collabdocs/collab"
	"collabdocs/config"
	"collabdocs/handlers/api/documents"
	"collabdocs/handlers/api/enhance"
	"collabdocs/handlers/auth"
	"collabdocs/handlers/websocket"
	authMiddleware "collabdocs/middleware"
	"collabdocs/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

func setupRouter(cfg *config.Config, store stores.Store, saver *collab.Saver) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.ClientOrigin},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Origin", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/register", auth.HandleRegister(store))
		r.Post("/login", auth.HandleLogin(store))

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.AuthJWT)
			r.Get("/documents", documents.HandleList(store))
			r.Post("/doc", documents.HandleCreate(store))
			r.Route("/doc/{id}", func(r chi.Router) {
				r.Get("/", documents.HandleGet(store))
				r.Put("/", documents.HandleSave(saver))
				r.Post("/share", documents.HandleShare(store, cfg.ClientOrigin))
			})
			r.Post("/ai/enhance", enhance.HandleEnhance())
		})
	})

	r.Route("/auth", func(r chi.Router) {
		r.Get("/github/login", auth.HandleGitHubLogin)
		r.Get("/github/callback", auth.HandleGitHubCallback)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func waitForShutdown(srv *socketio.Server) {
	exit := make(chan struct{})
	signalC := make(chan os.Signal, 1)

	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range signalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	logrus.Info("Shutting down...")
	srv.Close(nil)
	os.Exit(0)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	auth.InitAuth(cfg)
	enhance.Init(cfg)
	store := stores.GetStore(cfg)

	registry := collab.NewRegistry()
	saver := collab.NewSaver(store, cfg.AutosaveInterval)

	r := setupRouter(cfg, store, saver)

	io := websocket.Setup(registry, saver, auth.ResolvePrincipal, cfg.ClientOrigin)
	r.Mount("/socket.io/", io.ServeHandler(nil))

	logrus.WithField("addr", cfg.ListenAddr).Info("starting server")
	go func() {
		if err := http.ListenAndServe(cfg.ListenAddr, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	waitForShutdown(io)
}
