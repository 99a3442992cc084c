// Package server exposes the compiler and interpreter over Connect RPC and
// the Language Server Protocol.
package server

import (
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/imp/cache"
	"github.com/chazu/imp/manifest"
	"github.com/chazu/imp/vm"
)

var log = commonlog.GetLogger("imp.server")

// Procedure paths of the imp.v1.ImpService.
const (
	ServiceName          = "imp.v1.ImpService"
	CompileProcedure     = "/" + ServiceName + "/Compile"
	RunProcedure         = "/" + ServiceName + "/Run"
	DisassembleProcedure = "/" + ServiceName + "/Disassemble"
)

// DefaultMaxConcurrentRuns is used when Config leaves the bound unset.
const DefaultMaxConcurrentRuns = 4

// Config bounds the work the server accepts. Zero values mean the runner
// and interpreter defaults.
type Config struct {
	MaxConcurrentRuns int
	MaxSteps          uint64
	MaxFrames         int
}

// ConfigFromManifest extracts the server limits from a project manifest.
func ConfigFromManifest(m *manifest.Manifest) Config {
	return Config{
		MaxConcurrentRuns: m.Server.MaxConcurrentRuns,
		MaxSteps:          m.Run.MaxSteps,
		MaxFrames:         m.Run.MaxFrames,
	}
}

// ImpServer serves the Compile, Run and Disassemble procedures over the
// Connect, gRPC and gRPC-Web protocols on one mux.
type ImpServer struct {
	service *ImpService
	mux     *http.ServeMux
}

// ServerOption configures an ImpServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	cache *cache.Cache
	hosts vm.HostTable
}

// WithCache compiles sources through c.
func WithCache(c *cache.Cache) ServerOption {
	return func(sc *serverConfig) { sc.cache = c }
}

// WithHosts replaces the default host table programs are linked against.
func WithHosts(hosts vm.HostTable) ServerOption {
	return func(sc *serverConfig) { sc.hosts = hosts }
}

// New creates an ImpServer.
func New(cfg Config, opts ...ServerOption) *ImpServer {
	sc := &serverConfig{}
	for _, opt := range opts {
		opt(sc)
	}

	svc := NewImpService(NewRunner(cfg, sc.hosts), sc.cache)
	s := &ImpServer{
		service: svc,
		mux:     http.NewServeMux(),
	}

	handlerOpts := []connect.HandlerOption{
		connect.WithCodec(JSONCodec{}),
		connect.WithCodec(CBORCodec{}),
	}
	s.mux.Handle(CompileProcedure, connect.NewUnaryHandler(CompileProcedure, svc.Compile, handlerOpts...))
	s.mux.Handle(RunProcedure, connect.NewUnaryHandler(RunProcedure, svc.Run, handlerOpts...))
	s.mux.Handle(DisassembleProcedure, connect.NewUnaryHandler(DisassembleProcedure, svc.Disassemble, handlerOpts...))

	return s
}

// Handler returns the HTTP handler serving every procedure.
func (s *ImpServer) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address. The address
// should be in the form "host:port" or ":port". Cleartext HTTP/2 is enabled
// so gRPC clients can connect without TLS; they must use the json or cbor
// codec, since no protobuf codec is registered.
func (s *ImpServer) ListenAndServe(addr string) error {
	fmt.Print(banner(addr))

	var protocols http.Protocols
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)
	srv := &http.Server{
		Addr:      addr,
		Handler:   s.mux,
		Protocols: &protocols,
	}
	log.Noticef("serving on %s", addr)
	return srv.ListenAndServe()
}

// banner lists the endpoints and the codecs they accept.
func banner(addr string) string {
	return fmt.Sprintf("imp server listening on %s\n", addr) +
		fmt.Sprintf("  Connect (json, cbor):           http://%s%s\n", addr, RunProcedure) +
		fmt.Sprintf("  gRPC h2c (grpc+json, grpc+cbor): grpc://%s\n", addr)
}
