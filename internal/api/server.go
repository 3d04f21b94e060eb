package api

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/rs/cors"

	"github.com/tendermint/aquarius/config"
	"github.com/tendermint/aquarius/libs/log"
	"github.com/tendermint/aquarius/libs/service"
	rpcserver "github.com/tendermint/aquarius/rpc/server"
)

// Server runs the API on the configured listen address.
type Server struct {
	service.BaseService

	env *Environment
	cfg *config.APIConfig

	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewServer returns a Server for env.
func NewServer(env *Environment, cfg *config.APIConfig) *Server {
	if env.Logger == nil {
		env.Logger = log.NewNopLogger()
	}
	s := &Server{env: env, cfg: cfg, done: make(chan struct{})}
	s.BaseService = *service.NewBaseService(env.Logger, "API", s)
	return s
}

// Addr returns the address the server listens on, once started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handler() http.Handler {
	var h http.Handler = s.env.Handler()
	if s.cfg.IsCorsEnabled() {
		corsMiddleware := cors.New(cors.Options{
			AllowedOrigins: s.cfg.CORSAllowedOrigins,
			AllowedMethods: s.cfg.CORSAllowedMethods,
			AllowedHeaders: s.cfg.CORSAllowedHeaders,
		})
		h = corsMiddleware.Handler(h)
	}
	return h
}

func (s *Server) OnStart(ctx context.Context) error {
	listener, err := rpcserver.Listen(s.cfg.ListenAddress)
	if err != nil {
		return err
	}
	s.listener = listener

	ctx, s.cancel = context.WithCancel(ctx)
	serverCfg := rpcserver.DefaultConfig()
	serverCfg.MaxBodyBytes = s.cfg.MaxBodyBytes
	serverCfg.ReadTimeout = s.cfg.ReadTimeout
	serverCfg.WriteTimeout = s.cfg.WriteTimeout

	handler := s.handler()
	go func() {
		defer close(s.done)
		err := rpcserver.Serve(ctx, listener, handler, s.env.Logger, serverCfg)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.env.Logger.Error("API server stopped", "err", err)
		}
	}()
	return nil
}

func (s *Server) OnStop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}
