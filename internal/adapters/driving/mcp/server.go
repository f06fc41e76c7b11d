package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/planaudit/internal/logger"
)

// Version is the MCP server version.
const Version = "0.1.0"

// instructions tell the assistant how the tools fit together.
const instructions = `planaudit audits construction plans against a catalog of known plan defects.
Upload a plan with upload_plan, then pass its plan_id to query_plan, ask_plan, check_category or full_audit.
Identical content always gets the same plan_id, so uploading twice is cheap.
Read planaudit://catalog for the defect categories that full_audit accepts.`

const shutdownTimeout = 5 * time.Second

// Server exposes the plan and audit services as MCP tools and resources.
type Server struct {
	ports    *Ports
	server   *mcp.Server
	fileRoot string
}

// Option configures a Server.
type Option func(*Server)

// WithFileRoot lets upload_plan read documents by path. Paths must resolve
// inside dir; without a root, path uploads are refused.
func WithFileRoot(dir string) Option {
	return func(s *Server) {
		s.fileRoot = dir
	}
}

// NewServer creates a server for ports. All ports are required.
func NewServer(ports *Ports, opts ...Option) (*Server, error) {
	if err := ports.Validate(); err != nil {
		return nil, fmt.Errorf("validating ports: %w", err)
	}

	s := &Server{
		ports: ports,
		server: mcp.NewServer(
			&mcp.Implementation{Name: "planaudit", Version: Version},
			&mcp.ServerOptions{Instructions: instructions},
		),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.fileRoot != "" {
		root, err := filepath.Abs(s.fileRoot)
		if err == nil {
			root, err = filepath.EvalSymlinks(root)
		}
		if err != nil {
			return nil, fmt.Errorf("file root %s: %w", s.fileRoot, err)
		}
		s.fileRoot = root
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Run serves one client over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	logger.Info("MCP server on stdio, catalog has %d rules", s.ports.Audit.Catalog().Len())
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Handler serves MCP over streamable HTTP at / and a liveness probe at /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("/", mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil))
	return mux
}

// RunHTTP serves MCP over HTTP on addr, a host:port pair, until ctx is cancelled.
func (s *Server) RunHTTP(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("MCP HTTP shutdown: %v", err)
		}
	}()

	logger.Info("MCP server on http://%s", addr)
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
