// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/delegation-service/internal/circuitbreaker"
	"github.com/delegation-service/internal/logging"
	"github.com/delegation-service/internal/metrics"
	"github.com/delegation-service/internal/models"
	"github.com/delegation-service/internal/service"
	"github.com/delegation-service/internal/types"
)

// Service interfaces for dependency injection and testing

// ConnectionServiceInterface defines the interface for the connection workflow
type ConnectionServiceInterface interface {
	Connect(ctx context.Context, input *service.ConnectChildInput) (*service.ConnectChildResult, error)
}

// ChildrenServiceInterface defines the interface for child account management
type ChildrenServiceInterface interface {
	ListChildren(ctx context.Context) *service.ChildrenList
	GetChild(ctx context.Context, address string) (*models.ChildAccount, error)
	UpdateChild(ctx context.Context, address string, input *service.UpdateChildInput) (*models.ChildAccount, error)
	AddFunds(ctx context.Context, address string, amount interface{}) (*models.ChildAccount, error)
	Activity(ctx context.Context, address string, limit int) ([]*models.ActivityEvent, error)
	OnChainBalance(ctx context.Context, address string) (*types.TokenBalance, error)
	ClearChildren(ctx context.Context) error
}

// QRServiceInterface defines the interface for QR payload generation
type QRServiceInterface interface {
	Generate(ctx context.Context, input *service.GenerateQRInput) (*service.QRResult, error)
}

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router            *mux.Router
	httpServer        *http.Server
	connectionService ConnectionServiceInterface
	childrenService   ChildrenServiceInterface
	qrService         QRServiceInterface
	store             Pinger
	breakers          *circuitbreaker.Manager
	config            *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond float64 // Per client, 0 disables rate limiting
	Burst             int
}

// NewServer creates a new API server instance. store and breakers are only
// used by the health endpoint and may be nil.
func NewServer(
	config *ServerConfig,
	connectionService ConnectionServiceInterface,
	childrenService ChildrenServiceInterface,
	qrService QRServiceInterface,
	store Pinger,
	breakers *circuitbreaker.Manager,
) *Server {
	s := &Server{
		router:            mux.NewRouter(),
		connectionService: connectionService,
		childrenService:   childrenService,
		qrService:         qrService,
		store:             store,
		breakers:          breakers,
		config:            config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(metrics.InstrumentHandler)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes. The delegation routes are served at
// the root and again under /api for the mobile app.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	s.registerDelegationRoutes(s.router.PathPrefix("/api").Subrouter())
	s.registerDelegationRoutes(s.router)
}

func (s *Server) registerDelegationRoutes(r *mux.Router) {
	handle := func(path, method string, h http.HandlerFunc) {
		// OPTIONS must match so CORS preflight reaches the middleware
		r.HandleFunc(path, h).Methods(method, http.MethodOptions)
	}

	handle("/connect-child", http.MethodPost, s.handleConnectChild)
	handle("/generate-qr", http.MethodPost, s.handleGenerateQR)

	handle("/children", http.MethodGet, s.handleListChildren)
	handle("/children", http.MethodDelete, s.handleClearChildren)
	handle("/children/{address}", http.MethodGet, s.handleGetChild)
	handle("/children/{address}", http.MethodPut, s.handleUpdateChild)
	handle("/children/{address}/add-funds", http.MethodPost, s.handleAddFunds)
	handle("/children/{address}/activity", http.MethodGet, s.handleGetActivity)
	handle("/children/{address}/onchain-balance", http.MethodGet, s.handleGetOnChainBalance)
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status          string                  `json:"status"`
	Service         string                  `json:"service"`
	Store           string                  `json:"store"`
	CircuitBreakers []*circuitbreaker.Stats `json:"circuitBreakers,omitempty"`
}

// handleHealth reports the store reachability and provider breaker states.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		Service: "delegation-service",
		Store:   "ok",
	}
	if s.breakers != nil {
		resp.CircuitBreakers = s.breakers.AllStats()
	}

	status := http.StatusOK
	if s.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			logging.FromContext(r.Context()).WithError(err).Warn("health check: account store unreachable")
			resp.Status = "degraded"
			resp.Store = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}

	respondJSON(w, status, resp)
}

// Router exposes the configured handler, mainly for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
