// Package gateway wires every core component into a running HTTP/JSON-RPC
// service, per spec §4.8 and §6.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/t402-io/paymaster-relay/internal/auth"
	"github.com/t402-io/paymaster-relay/internal/config"
	"github.com/t402-io/paymaster-relay/internal/health"
	"github.com/t402-io/paymaster-relay/internal/mempool"
	"github.com/t402-io/paymaster-relay/internal/metrics"
	"github.com/t402-io/paymaster-relay/internal/ratelimit"
	"github.com/t402-io/paymaster-relay/internal/rpc"
	"github.com/t402-io/paymaster-relay/internal/sponsorship"
)

// shutdownTimeout bounds how long Stop waits for in-flight requests to
// drain before forcing the listener closed.
const shutdownTimeout = 30 * time.Second

// Server is the gateway's HTTP surface: the JSON-RPC endpoint bundlers and
// wallets talk to, a REST facade over the same sponsorship pipeline, and
// the operational endpoints (health/ready/metrics).
type Server struct {
	cfg     *config.Config
	engine  *gin.Engine
	http    *http.Server
	metrics *metrics.Metrics
	limiter ratelimit.Limiter
	auth    *auth.Authenticator
	checker *health.Checker
	router  *rpc.Router
	service *sponsorship.Service
}

// New builds the gateway server and its full middleware/route tree.
func New(cfg *config.Config, m *metrics.Metrics, limiter ratelimit.Limiter, authenticator *auth.Authenticator, checker *health.Checker, svc *sponsorship.Service, bundler *mempool.Client) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		engine:  gin.New(),
		metrics: m,
		limiter: limiter,
		auth:    authenticator,
		checker: checker,
		service: svc,
	}
	s.router = rpc.NewRouter(bundler.Forward)
	s.router.Register("pm_sponsorUserOperation", s.handleSponsorUserOperation)
	s.router.Register("pm_getSupportedEntryPoints", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return []string{cfg.EntryPointV06, cfg.EntryPointV07}, nil
	})
	s.router.Register("pm_getChainId", func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return fmt.Sprintf("0x%x", cfg.ChainID), nil
	})

	s.setupMiddleware()
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// setupMiddleware installs the middleware chain in the fixed order of
// spec §4.8: CORS, recovery, request id, logging, metrics, rate limiting,
// auth, then the 1 MiB body-size cap. CORS goes first so preflight OPTIONS requests get their
// headers and short-circuit before hitting recovery/logging/auth.
func (s *Server) setupMiddleware() {
	s.engine.Use(CORSMiddleware())
	s.engine.Use(gin.Recovery())
	s.engine.Use(RequestIDMiddleware())
	s.engine.Use(LoggingMiddleware())
	s.engine.Use(s.metrics.Middleware())
	s.engine.Use(RateLimitMiddleware(s.limiter))
	s.engine.Use(AuthMiddleware(s.auth))
	s.engine.Use(BodySizeLimitMiddleware(1 << 20))
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/ready", s.handleReady)
	s.engine.GET("/metrics", s.metrics.Handler())

	s.engine.POST("/", s.handleRPC)
	s.engine.POST("/rpc", s.handleRPC)

	api := s.engine.Group("/api/v1")
	api.POST("/sponsor", s.handleSponsorREST)
}

// Start begins serving and blocks until the server is shut down or fails.
func (s *Server) Start() error {
	log.Printf("paymaster relay listening on %s (env=%s)", s.http.Addr, s.cfg.Environment)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Stop gracefully drains in-flight requests before closing the listener.
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
