package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/droidpool/droidpool/internal/config"
	"github.com/droidpool/droidpool/internal/errors"
	"github.com/droidpool/droidpool/internal/history"
	"github.com/droidpool/droidpool/internal/logging"
	"github.com/droidpool/droidpool/internal/metrics"
	"github.com/droidpool/droidpool/internal/models"
	"github.com/droidpool/droidpool/internal/pool"
	"github.com/droidpool/droidpool/internal/store"
)

// Server exposes the pool over a local HTTP API.
type Server struct {
	router     *gin.Engine
	config     config.ServerConfig
	store      store.Store
	manager    *pool.Manager
	hist       *history.History
	metrics    *metrics.Metrics
	logger     *logging.Logger
	httpServer *http.Server
}

// Router returns the gin router for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// NewServer creates the API server. hist and m may be nil.
func NewServer(cfg config.ServerConfig, st store.Store, manager *pool.Manager, hist *history.History, m *metrics.Metrics, logger *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	if logger == nil {
		logger = logging.NewLogger()
	}

	server := &Server{
		router:  gin.New(),
		config:  cfg,
		store:   st,
		manager: manager,
		hist:    hist,
		metrics: m,
		logger:  logger,
	}
	server.router.HandleMethodNotAllowed = true

	server.router.Use(gin.Recovery())
	server.router.Use(metrics.Middleware(m))
	server.router.Use(loggingMiddleware(logger))

	server.setupRoutes()
	return server
}

// loggingMiddleware provides structured logging for all requests
func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = logging.GenerateCorrelationID()
		}
		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		logger.InfoWithContext(ctx, "request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", time.Since(start).Seconds(),
		)
	}
}

func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	s.router.GET("/healthz", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/active", s.handleGetActive)
		v1.POST("/active/check", s.handleCheckActive)
		v1.GET("/pool", s.handleListPool)
		v1.POST("/pool/check", s.handleCheckAll)
		v1.POST("/pool/check-selected", s.handleCheckSelected)
		v1.POST("/pool/import", s.handleImport)
		v1.DELETE("/pool", s.handleDelete)
		v1.POST("/switch/:id", s.handleSwitch)
		v1.POST("/failover", s.handleFailover)
		v1.GET("/history", s.handleHistory)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

// credentialView is the wire shape for one pool entry. Tokens are masked;
// the API never returns full secrets.
type credentialView struct {
	ID           string  `json:"id"`
	Status       string  `json:"status,omitempty"`
	Usage        string  `json:"usage"`
	Ratio        float64 `json:"ratio"`
	RatioKnown   bool    `json:"ratio_known"`
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
}

func viewOf(c *models.Credential) credentialView {
	ratio, known := c.KnownRatio()
	return credentialView{
		ID:           c.ID,
		Status:       string(c.Status),
		Usage:        c.UsageLabel(),
		Ratio:        ratio,
		RatioKnown:   known,
		AccessToken:  maskToken(c.AccessToken),
		RefreshToken: maskToken(c.RefreshToken),
	}
}

func maskToken(tok string) string {
	if len(tok) <= 8 {
		if tok == "" {
			return ""
		}
		return "****"
	}
	return "****" + tok[len(tok)-8:]
}

func (s *Server) handleGetActive(c *gin.Context) {
	active, ok := s.store.LoadActive()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active credential"})
		return
	}
	c.JSON(http.StatusOK, viewOf(active))
}

func (s *Server) handleCheckActive(c *gin.Context) {
	result, err := s.manager.CheckActive(c.Request.Context(), true)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":        result.ID,
		"ratio":     result.Ratio,
		"usage":     pool.FormatRatio(result.Ratio),
		"exhausted": result.Exhausted,
		"total":     result.Info.Total,
		"used":      result.Info.Used,
		"remaining": result.Info.Remaining,
	})
}

func (s *Server) handleListPool(c *gin.Context) {
	reserve := s.store.LoadReserve()
	views := make([]credentialView, 0, len(reserve))
	for i := range reserve {
		views = append(views, viewOf(&reserve[i]))
	}
	c.JSON(http.StatusOK, gin.H{"count": len(views), "credentials": views})
}

func (s *Server) handleCheckAll(c *gin.Context) {
	results, err := s.manager.CheckAll(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checked": len(results), "results": results})
}

type idsRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

func (s *Server) handleCheckSelected(c *gin.Context) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids array required"})
		return
	}
	results, err := s.manager.CheckSelected(c.Request.Context(), req.IDs)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checked": len(results), "results": results})
}

type importRequest struct {
	Lines []string `json:"lines" binding:"required"`
}

func (s *Server) handleImport(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lines array required"})
		return
	}
	added, skipped, err := s.manager.Import(req.Lines)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"added": added, "skipped": skipped})
}

func (s *Server) handleDelete(c *gin.Context) {
	var req idsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ids array required"})
		return
	}
	removed, err := s.manager.Delete(req.IDs)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (s *Server) handleSwitch(c *gin.Context) {
	id := c.Param("id")
	// The API is non-interactive; the request itself is the confirmation.
	ratio, err := s.manager.Switch(c.Request.Context(), id, nil)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "ratio": ratio, "usage": pool.FormatRatio(ratio)})
}

func (s *Server) handleFailover(c *gin.Context) {
	id, err := s.manager.AutoFailover(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.hist == nil {
		c.JSON(http.StatusOK, gin.H{"events": []history.Event{}})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	events, err := s.hist.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// renderError maps pool errors onto HTTP statuses.
func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch err.(type) {
	case *errors.ErrBusy, *errors.ErrNoBackupAvailable:
		status = http.StatusConflict
	case *errors.ErrNotInPool, *errors.ErrNoActiveCredential:
		status = http.StatusNotFound
	case *errors.ErrQueryFailed, *errors.ErrQuotaExhausted, *errors.ErrSwitchRejected:
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)

	if s.httpServer == nil {
		s.httpServer = NewHTTPServer(addr, s.router)
	}

	s.logger.Info("starting HTTP server", "addr", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return &errors.ErrServerStart{Addr: addr, Err: err}
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	if err := GracefulShutdown(s.httpServer, s.config.ShutdownTimeout); err != nil {
		return &errors.ErrServerShutdown{Err: err}
	}
	return nil
}
