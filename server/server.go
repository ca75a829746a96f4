// Package server exposes the JIT cache and native execution statistics over
// Connect and gRPC.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/chazu/aurora/jit"
	"github.com/chazu/aurora/native"
	"github.com/tliron/commonlog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

var log = commonlog.GetLogger("aurora.server")

// JITServer serves the JITService procedures. Connect (HTTP/JSON) and gRPC
// clients share one port.
type JITServer struct {
	service *JITService
	mux     *http.ServeMux
}

// New creates a server over the manager's cache and the executor's entry
// points.
func New(m *jit.Manager, exec *native.Executor) *JITServer {
	s := &JITServer{
		service: NewJITService(m, exec),
		mux:     http.NewServeMux(),
	}
	svc := s.service
	s.mux.Handle(ProcedureListCompiled, connect.NewUnaryHandler(ProcedureListCompiled, svc.ListCompiled))
	s.mux.Handle(ProcedureGetCompiled, connect.NewUnaryHandler(ProcedureGetCompiled, svc.GetCompiled))
	s.mux.Handle(ProcedureNativeStats, connect.NewUnaryHandler(ProcedureNativeStats, svc.NativeStats))
	s.mux.Handle(ProcedureClearCache, connect.NewUnaryHandler(ProcedureClearCache, svc.ClearCache))
	return s
}

func (s *JITServer) Service() *JITService { return s.service }

// Handler returns the mux wrapped for HTTP/2 without TLS.
func (s *JITServer) Handler() http.Handler {
	return h2c.NewHandler(s.mux, &http2.Server{})
}

// ListenAndServe serves on addr until ctx is done.
func (s *JITServer) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warningf("shutdown: %s", err)
		}
	}()

	log.Noticef("JIT service listening on %s", addr)
	log.Infof("  Connect (HTTP/JSON): http://%s%s", addr, ProcedureListCompiled)
	log.Infof("  gRPC (binary):       grpc://%s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
