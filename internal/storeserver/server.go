// Package storeserver hosts the document-store gateway the call clients
// signal through. It serves the wire protocol over websocket against a
// single in-memory store.
package storeserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/amigotalk/meshcall/internal/store/memstore"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server is the gateway.
type Server struct {
	db  *memstore.Store
	log zerolog.Logger
}

// New creates a gateway over a fresh in-memory store.
func New(log zerolog.Logger) *Server {
	return &Server{
		db:  memstore.New(),
		log: log.With().Str("component", "storeserver").Logger(),
	}
}

// Router builds the HTTP routes: the websocket store endpoint and a health
// check.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/store", s.serveStore)

	return r
}

// serveStore upgrades the connection and starts the client pumps.
func (s *Server) serveStore(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	c := newClient(conn, s.db, s.log.With().Str("remote", conn.RemoteAddr().String()).Logger())
	s.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("client connected")

	go c.WritePump()
	go c.ReadPump()
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("store gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return s.db.Close()
}
