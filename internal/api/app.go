package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/chatrelay/chatrelay/internal/config"
	"github.com/chatrelay/chatrelay/internal/server"
	"github.com/chatrelay/chatrelay/internal/upload"
	"github.com/gorilla/handlers"
)

type ChatRelayApp struct {
	log            *log.Logger
	cs             *server.ChatServer
	uploads        *upload.Store
	mux            *http.Server
	allowedOrigins []string
}

func NewChatRelayApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer,
	uploads *upload.Store, cfg *config.Config) *ChatRelayApp {
	s := &ChatRelayApp{
		log:            logger,
		cs:             cs,
		uploads:        uploads,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /{$}", s.root)
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("POST /api/rooms/private", s.createPrivateRoom)
	mux.HandleFunc("POST /api/rooms/group", s.createGroupRoom)
	mux.HandleFunc("GET /api/rooms", s.getUserRooms)
	mux.HandleFunc("GET /api/rooms/history", s.getRoomHistory)
	mux.HandleFunc("GET /api/users/online", s.getOnlineUsers)
	mux.HandleFunc("POST /api/upload", s.uploadFile)
	mux.HandleFunc("GET /uploads/{filename}", s.getFile)
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *ChatRelayApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *ChatRelayApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
