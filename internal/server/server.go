package server

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ksred/goldfeed/internal/config"
	"github.com/ksred/goldfeed/internal/database"
	"github.com/ksred/goldfeed/internal/feed"
	"github.com/ksred/goldfeed/internal/ledger"
	"github.com/ksred/goldfeed/internal/pricing"
	"github.com/ksred/goldfeed/internal/purchase"
	"github.com/ksred/goldfeed/internal/report"
	"github.com/ksred/goldfeed/pkg/middleware"
	"github.com/ksred/goldfeed/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Server wires the price feed, the purchase ledger and the HTTP routes
type Server struct {
	cfg        *config.Config
	registry   *feed.Registry
	ticker     *feed.Ticker
	purchases  *purchase.Service
	reports    *report.Scheduler
	limiter    *middleware.RateLimiter
	router     *gin.Engine
	httpServer *http.Server
	closers    []func() error
}

// New builds a server from cfg. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	s := &Server{cfg: cfg}

	l, err := s.openLedger()
	if err != nil {
		return nil, err
	}

	model, err := pricing.NewSimulator(decimal.NewFromFloat(cfg.Price.Base), newRand(cfg.Price.Seed))
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to create price model: %w", err)
	}

	s.registry = feed.NewRegistry()
	s.ticker = feed.NewTicker(model, s.registry, cfg.Price.Interval)
	s.purchases = purchase.NewService(l)
	s.limiter = middleware.NewRateLimiter(cfg.RateLimit.PurchasesPerMinute, cfg.RateLimit.Burst)

	s.reports = report.NewScheduler(ctx, s.registry, s.ticker.Ticks, s.purchases)
	if cfg.Report.Schedule != "" {
		if err := s.reports.Register(cfg.Report.Schedule); err != nil {
			s.close()
			return nil, err
		}
	}

	s.router = gin.New()
	s.router.Use(middleware.RequestLogger(), middleware.Recovery())
	s.setupRoutes(
		feed.NewGinHandlers(s.registry, s.ticker, feed.StreamConfig{
			Buffer:    cfg.Stream.Buffer,
			Heartbeat: cfg.Stream.Heartbeat,
		}),
		purchase.NewGinHandlers(s.purchases),
	)

	s.httpServer = &http.Server{
		Addr:    cfg.Addr(),
		Handler: s.router,
	}
	// Streams only end when their subscriber closes, so close them all once
	// Shutdown has stopped accepting connections
	s.httpServer.RegisterOnShutdown(s.registry.CloseAll)

	return s, nil
}

func (s *Server) openLedger() (*ledger.Ledger, error) {
	switch s.cfg.Ledger.Driver {
	case config.DriverSQLite:
		db, err := database.NewDatabase(s.cfg.Ledger.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database handle: %w", err)
		}
		s.closers = append(s.closers, sqlDB.Close)
		log.Info().Str("component", "ledger").Str("path", s.cfg.Ledger.SQLitePath).Msg("using sqlite ledger")
		return ledger.New(ledger.NewSQLStore(db)), nil
	default:
		log.Info().Str("component", "ledger").Str("path", s.cfg.Ledger.Path).Msg("using file ledger")
		return ledger.New(ledger.NewFileStore(s.cfg.Ledger.Path)), nil
	}
}

// newRand returns nil for seed 0 so the model seeds itself from the clock
func newRand(seed int64) pricing.Rand {
	if seed == 0 {
		return nil
	}
	return rand.New(rand.NewSource(seed))
}

// setupRoutes configures all API endpoints and their handlers
// - Feed routes: price stream over SSE and WebSocket, and the latest price
// - Purchase routes: rate limited per client IP
// - Admin routes: market events, only when admin.enabled is set
func (s *Server) setupRoutes(feedHandlers *feed.GinHandlers, purchaseHandlers *purchase.GinHandlers) {
	api := s.router.Group("/api")
	{
		api.GET("/price-stream", feedHandlers.StreamPricesHandler())
		api.GET("/price-ws", feedHandlers.StreamPricesWSHandler())
		api.GET("/price", feedHandlers.CurrentPriceHandler())

		api.POST("/purchase", s.limiter.Middleware(), purchaseHandlers.CreatePurchaseHandler())
		api.GET("/purchases", purchaseHandlers.ListPurchasesHandler())

		if s.cfg.Admin.Enabled {
			admin := api.Group("/admin")
			{
				admin.POST("/market-event", feedHandlers.MarketEventHandler())
				admin.POST("/reset", feedHandlers.ResetHandler())
			}
		}
	}

	s.router.NoRoute(s.fallback())
}

// fallback answers unknown API paths with a JSON 404 and serves the public
// directory for everything else
func (s *Server) fallback() gin.HandlerFunc {
	var files http.Handler
	if dir := s.cfg.Server.PublicDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			files = http.FileServer(http.Dir(dir))
		} else {
			log.Warn().Str("component", "http").Str("dir", dir).Msg("public dir not found, static files disabled")
		}
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		isRead := c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead
		if files == nil || !isRead || path == "/api" || strings.HasPrefix(path, "/api/") {
			response.NotFound(c, response.MsgNotFound)
			return
		}
		files.ServeHTTP(c.Writer, c.Request)
	}
}

// Handler is the HTTP handler serving every route
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start launches the ticker, the rate limiter cleanup and the stats
// report. They run until ctx is done or Shutdown is called.
func (s *Server) Start(ctx context.Context) {
	go s.ticker.Start(ctx)
	go s.limiter.Cleanup(ctx)
	s.reports.Start()

	log.Info().
		Str("component", "server").
		Float64("base_price", s.cfg.Price.Base).
		Dur("interval", s.cfg.Price.Interval).
		Bool("admin", s.cfg.Admin.Enabled).
		Msg("price feed started")
}

// ListenAndServe serves HTTP on the configured port until Shutdown
func (s *Server) ListenAndServe() error {
	log.Info().Str("component", "server").Str("addr", s.httpServer.Addr).Msg("listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the ticker, ends open streams, waits for in-flight
// requests and releases the ledger storage
func (s *Server) Shutdown(ctx context.Context) error {
	s.ticker.Stop()
	s.reports.Stop()

	err := s.httpServer.Shutdown(ctx)
	s.registry.CloseAll()

	return errors.Join(err, s.close())
}

// Ticks is the number of prices broadcast so far
func (s *Server) Ticks() int64 {
	return s.ticker.Ticks()
}

func (s *Server) close() error {
	var errs []error
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
