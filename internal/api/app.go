package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"

	"github.com/Kelvince01/kaa-realtime/internal/config"
	"github.com/Kelvince01/kaa-realtime/internal/database"
	"github.com/Kelvince01/kaa-realtime/internal/server"
	"github.com/Kelvince01/kaa-realtime/internal/stats"
)

// RealtimeApp is the HTTP surface of the realtime service: account and
// conversation management plus the websocket entrypoint and the
// introspection endpoints backing the frontend's presence widgets.
type RealtimeApp struct {
	log            *zap.Logger
	db             database.Repository
	cs             *server.ChatServer
	stats          stats.Provider
	srv            *http.Server
	signingKey     []byte
	allowedOrigins []string
}

func NewRealtimeApp(mux *http.ServeMux, logger *zap.Logger, cs *server.ChatServer, db database.Repository, st stats.Provider, cfg *config.Config) *RealtimeApp {
	s := &RealtimeApp{
		log:            logger,
		db:             db,
		cs:             cs,
		stats:          st,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("POST /api/conversations", s.authMiddleware(s.createConversation))
	mux.HandleFunc("GET /api/conversations", s.authMiddleware(s.listConversations))
	mux.HandleFunc("DELETE /api/conversations", s.authMiddleware(s.deleteConversation))
	mux.HandleFunc("GET /api/messages", s.authMiddleware(s.getMessages))

	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /ws/health", s.healthCheck)
	mux.HandleFunc("GET /ws/online", s.onlineUsers)
	mux.HandleFunc("GET /ws/conversation/{id}/participants", s.conversationParticipants)
	mux.HandleFunc("GET /ws/conversation/{id}/typing", s.conversationTyping)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *RealtimeApp) Start() error {
	s.log.Info("starting http server", zap.String("addr", s.srv.Addr))
	return s.srv.ListenAndServe()
}

func (s *RealtimeApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down http server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
