package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"

	"github.com/planforge/teamchat/internal/chat"
	"github.com/planforge/teamchat/internal/config"
	"github.com/planforge/teamchat/internal/database"
	"github.com/planforge/teamchat/internal/directory"
	"github.com/planforge/teamchat/internal/stats"
)

type TeamChatApp struct {
	log            *log.Logger
	db             database.TeamChatRepository
	mux            *http.Server
	cs             *chat.ChatServer
	dir            *directory.Directory
	stats          stats.StatsProvider
	signingKey     []byte
	allowedOrigins []string
	summaryRefresh time.Duration

	generateShortId func() (string, error)
}

func NewTeamChatApp(mux *http.ServeMux, logger *log.Logger, cs *chat.ChatServer, dir *directory.Directory, db database.TeamChatRepository, su stats.StatsProvider, cfg *config.Config) *TeamChatApp {
	s := &TeamChatApp{
		log:             logger,
		db:              db,
		cs:              cs,
		dir:             dir,
		stats:           su,
		signingKey:      cfg.SigningKey,
		allowedOrigins:  cfg.AllowedOrigins,
		summaryRefresh:  cfg.SummaryRefresh,
		generateShortId: shortid.Generate,
	}

	mux.Handle("GET /api/session", s.authMiddleware(s.session))
	mux.Handle("POST /api/channels", s.authMiddleware(s.createChannel))
	mux.Handle("GET /api/channels", s.authMiddleware(s.listChannels))
	mux.Handle("POST /api/channels/members", s.authMiddleware(s.addMember))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.Handle("GET /api/messages/receipts", s.authMiddleware(s.getReceipts))
	mux.Handle("DELETE /api/messages", s.authMiddleware(s.deleteMessage))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
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

func (s *TeamChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *TeamChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
