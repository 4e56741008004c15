// Package api serves read-only views of the live books over HTTP.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"l4book/book"
	"l4book/config"
	"l4book/internal/metrics"
	"l4book/logger"
)

const maxDepth = 5000

// Server hosts the book query API and the Prometheus endpoint.
type Server struct {
	cfg     config.APIConfig
	log     *logger.Log
	books   Directory
	events  *eventStore
	logs    *logTail
	host    *hostSampler
	handler metrics.MetricHandlerID

	// prometheus mounts /metrics; collection has to be enabled first.
	prometheus bool

	httpServer *http.Server
}

// NewServer returns nil when the API is disabled.
func NewServer(cfg config.APIConfig, log *logger.Log, books Directory) *Server {
	if !cfg.Enabled {
		return nil
	}
	if log == nil {
		log = logger.GetLogger()
	}
	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.Depth <= 0 {
		cfg.Depth = 20
	}

	s := &Server{
		cfg:    cfg,
		log:    log,
		books:  books,
		events: newEventStore(500),
		logs:   newLogTail(200),
		host:   newHostSampler(5*time.Second, "/"),

		prometheus: metrics.Enabled(),
	}
	s.handler = metrics.RegisterMetricHandler(s.events.handle)
	log.AddHook(s.logs)
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	s.host.start(ctx)
	defer s.host.wait()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.WithComponent("api").WithFields(logger.Fields{"address": s.cfg.Address}).Info("book api listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.handler)
	s.logs.close()
}

func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	_ = router.SetTrustedProxies(nil)

	router.GET("/healthz", s.health)
	if s.prometheus {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	api := router.Group("/api")
	api.GET("/markets", s.markets)
	api.GET("/books/:market", s.bookDepth)
	api.GET("/books/:market/orders/:oid", s.order)
	api.GET("/events", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"events": s.events.snapshot(c.Query("market"))})
	})
	api.GET("/logs", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"logs": s.logs.snapshot()})
	})
	api.GET("/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.host.snapshot())
	})
	return router
}

// health is 503 while any book is known to have missed deltas.
func (s *Server) health(c *gin.Context) {
	stale := []string{}
	markets := s.books.Markets()
	for _, m := range markets {
		if bk, ok := s.books.Book(m); ok && bk.Snapshot().Stale() {
			stale = append(stale, m)
		}
	}
	status, code := "ok", http.StatusOK
	if len(stale) > 0 {
		status, code = "stale", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "markets": markets, "stale": stale})
}

func (s *Server) markets(c *gin.Context) {
	out := []marketSummary{}
	for _, m := range s.books.Markets() {
		if bk, ok := s.books.Book(m); ok {
			out = append(out, summarise(bk))
		}
	}
	c.JSON(http.StatusOK, gin.H{"markets": out})
}

func (s *Server) lookup(c *gin.Context) (*book.Book, bool) {
	market := c.Param("market")
	bk, ok := s.books.Book(market)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown market " + market})
	}
	return bk, ok
}

// bookDepth serves ?depth=N (0 for every level) and ?orders=true to list
// the resting orders of each level.
func (s *Server) bookDepth(c *gin.Context) {
	bk, ok := s.lookup(c)
	if !ok {
		return
	}
	depth := s.cfg.Depth
	if raw, set := c.GetQuery("depth"); set {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 || n > maxDepth {
			c.JSON(http.StatusBadRequest, gin.H{"error": "depth must be an integer between 0 and " + strconv.Itoa(maxDepth)})
			return
		}
		depth = n
	}
	withOrders, _ := strconv.ParseBool(c.DefaultQuery("orders", "false"))

	view := renderBook(bk.Snapshot(), depth, withOrders)
	stats := bk.Stats()
	view.Stats = &stats
	c.JSON(http.StatusOK, view)
}

func (s *Server) order(c *gin.Context) {
	bk, ok := s.lookup(c)
	if !ok {
		return
	}
	oid := c.Param("oid")
	snap := bk.Snapshot()
	o, found := snap.Order(oid)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "order " + oid + " is not resting"})
		return
	}
	pos, _ := snap.QueuePosition(oid)
	c.JSON(http.StatusOK, orderView{
		Market: bk.Market(),
		Side:   o.Side.String(),
		Order:  o,
		Queue:  pos,
		Stale:  snap.Stale(),
	})
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}
	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil && parsed.Host != "" {
			addr = parsed.Host
		}
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return net.JoinHostPort(addr, "8080")
	}
	if host == "" || host == "*" {
		host = "0.0.0.0"
	}
	if port == "" {
		port = "8080"
	}
	return net.JoinHostPort(host, port)
}
