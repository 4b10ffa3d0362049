// README: API gateway; owns the HTTP listener and delegates to module services.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"dispatch/internal/auth"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/user"
	"dispatch/internal/notify"
)

const shutdownTimeout = 10 * time.Second

type ServerDeps struct {
	Addr        string
	CORSOrigins []string
	Order       *order.Service
	User        *user.Service
	Hub         *notify.Hub
	Verifier    auth.Verifier
	Log         zerolog.Logger
}

type Server struct {
	deps ServerDeps
	log  zerolog.Logger
}

func NewServer(deps ServerDeps) *Server {
	return &Server{deps: deps, log: deps.Log.With().Str("component", "http").Logger()}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.deps.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.deps.Addr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.log.Info().Msg("http shutting down")
	return srv.Shutdown(shutdownCtx)
}
