// Package server exposes the catalog, flow and export operations over HTTP.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"github.com/dvhoang/cpidash/internal/catalog"
	"github.com/dvhoang/cpidash/internal/config"
	"github.com/dvhoang/cpidash/internal/datefmt"
	"github.com/dvhoang/cpidash/internal/export"
	"github.com/dvhoang/cpidash/internal/metrics"
	"github.com/dvhoang/cpidash/internal/sap"
	"github.com/dvhoang/cpidash/internal/storage"
)

// Response buffer pool for reducing allocations
var responseBufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

type Server struct {
	config  *config.Config
	cache   *catalog.Cache
	engine  *catalog.Engine
	sap     *sap.Client
	exports *export.Store
	prom    *metrics.Catalog
	router  *gin.Engine
	started time.Time
}

// New wires the HTTP layer on top of already constructed components.
// prom may be nil, in which case no scrape endpoint is registered.
func New(cfg *config.Config, cache *catalog.Cache, engine *catalog.Engine, sapClient *sap.Client, exports *export.Store, prom *metrics.Catalog) *Server {
	// Set Gin mode based on log level
	if cfg.LogLevel == "DEBUG" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] %d - %v %s %s\n",
			param.TimeStamp.Format(time.RFC3339),
			param.StatusCode,
			param.Latency,
			param.Method,
			param.Path,
		)
	}))
	router.Use(requestID())
	router.Use(cors(cfg.CORSOrigins))
	router.Use(gzip.Gzip(gzip.BestSpeed))

	s := &Server{
		config:  cfg,
		cache:   cache,
		engine:  engine,
		sap:     sapClient,
		exports: exports,
		prom:    prom,
		router:  router,
		started: time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/packages", s.handleListPackages)
		api.GET("/packages/:id", s.handleGetPackage)
		api.DELETE("/cache/packages", s.handleInvalidateCache)

		api.GET("/iflows", s.handleListFlows)
		api.GET("/iflows/:id/configurations", s.handleFlowConfigurations)
		api.POST("/iflows/:id/deploy", s.handleDeployFlow)

		api.POST("/exports/configurations", s.handleExportConfigurations)
		api.GET("/exports", s.handleListExports)
		api.GET("/exports/:name", s.handleDownloadExport)
		api.DELETE("/exports/:name", s.handleDeleteExport)

		api.GET("/token/status", s.handleTokenStatus)
		api.POST("/token/refresh", s.handleTokenRefresh)

		api.GET("/config", s.handleConfig)
	}

	if s.prom != nil {
		s.router.GET("/metrics", gin.WrapH(s.prom.Handler()))
	}

	s.router.NoRoute(func(c *gin.Context) {
		s.fail(c, http.StatusNotFound, "Not found")
	})
}

// envelope is the wire shape of every JSON response.
type envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type pagination struct {
	CurrentPage     int  `json:"current_page"`
	PageSize        int  `json:"page_size"`
	TotalCount      int  `json:"total_count"`
	TotalPages      int  `json:"total_pages"`
	HasNextPage     bool `json:"has_next_page"`
	HasPreviousPage bool `json:"has_previous_page"`
}

// packageView enriches a record with display strings so clients never
// parse tenant date formats themselves.
type packageView struct {
	catalog.Record
	ModifiedRelative string `json:"modifiedRelative"`
	ModifiedExact    string `json:"modifiedExact"`
	CreatedRelative  string `json:"createdRelative,omitempty"`
	CreatedExact     string `json:"createdExact,omitempty"`
}

func newPackageView(rec catalog.Record, now time.Time) packageView {
	v := packageView{
		Record:           rec,
		ModifiedRelative: datefmt.Humanize(rec.ModifiedDate, now),
		ModifiedExact:    datefmt.Exact(rec.ModifiedDate),
	}
	if rec.CreatedDate != "" {
		v.CreatedRelative = datefmt.Humanize(rec.CreatedDate, now)
		v.CreatedExact = datefmt.Exact(rec.CreatedDate)
	}
	return v
}

func (s *Server) respond(c *gin.Context, status int, data interface{}) {
	s.writeJSON(c, status, envelope{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) respondMessage(c *gin.Context, status int, message string) {
	s.writeJSON(c, status, envelope{
		Success:   true,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) fail(c *gin.Context, status int, message string) {
	s.writeJSON(c, status, envelope{
		Success:   false,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) writeJSON(c *gin.Context, status int, v interface{}) {
	buf := responseBufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		responseBufferPool.Put(buf)
	}()

	encoder := sonic.ConfigFastest.NewEncoder(buf)
	if err := encoder.Encode(v); err != nil {
		c.String(http.StatusInternalServerError, "JSON encoding error")
		return
	}

	// Copy out of the pooled buffer before it is reused
	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())

	c.Data(status, "application/json; charset=utf-8", data)
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.cache.Stats()

	s.respond(c, http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"catalog": gin.H{
			"state":      string(stats.State),
			"records":    stats.Records,
			"fetched_at": stats.FetchedAt,
			"generation": stats.Generation,
			"page_views": stats.PageViews,
		},
		"tenant_configured":   s.sap.Configured(),
		"storage_type":        s.config.StorageType,
		"catalog_ttl_seconds": int(s.config.CatalogTTL.Seconds()),
	})
}

func (s *Server) handleListPackages(c *gin.Context) {
	// sort_by is kept as an alias for older clients.
	sortField := c.Query("sort_field")
	if sortField == "" {
		sortField = c.Query("sort_by")
	}

	q := catalog.Query{
		Page:     intQuery(c, "page", 1),
		PageSize: intQuery(c, "page_size", catalog.DefaultPageSize),
		Search:   c.Query("search"),
		SortBy:   catalog.ParseSortField(sortField),
		SortDir:  catalog.ParseSortDirection(c.Query("sort_direction")),
	}
	if q.PageSize > catalog.MaxPageSize {
		q.PageSize = catalog.MaxPageSize
	}

	if c.Query("refresh") == "true" {
		s.cache.Invalidate()
	}

	page, err := s.engine.Query(c.Request.Context(), q)
	if err != nil {
		log.Error().Err(err).Str("request_id", c.GetString("request_id")).Msg("Failed to query packages")
		s.fail(c, http.StatusBadGateway, "Package data unavailable")
		return
	}

	now := time.Now()
	views := make([]packageView, 0, len(page.Records))
	for _, rec := range page.Records {
		views = append(views, newPackageView(rec, now))
	}

	s.respond(c, http.StatusOK, gin.H{
		"packages": views,
		"pagination": pagination{
			CurrentPage:     page.CurrentPage,
			PageSize:        page.PageSize,
			TotalCount:      page.TotalCount,
			TotalPages:      page.TotalPages,
			HasNextPage:     page.HasNext,
			HasPreviousPage: page.HasPrev,
		},
	})
}

func (s *Server) handleGetPackage(c *gin.Context) {
	id := c.Param("id")

	rec, err := s.cache.Find(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			s.fail(c, http.StatusNotFound, "Package not found")
			return
		}
		log.Error().Err(err).Str("package", id).Msg("Failed to look up package")
		s.fail(c, http.StatusBadGateway, "Package data unavailable")
		return
	}

	s.respond(c, http.StatusOK, gin.H{"package": newPackageView(rec, time.Now())})
}

func (s *Server) handleInvalidateCache(c *gin.Context) {
	s.cache.Invalidate()
	s.respondMessage(c, http.StatusOK, "Package cache invalidated")
}

func (s *Server) handleListFlows(c *gin.Context) {
	ids := splitIDs(c.Query("package_ids"))
	if len(ids) == 0 {
		s.fail(c, http.StatusBadRequest, "package_ids query parameter is required")
		return
	}

	flows, err := s.sap.FetchFlows(c.Request.Context(), ids)
	if err != nil {
		s.failUpstream(c, err, "Failed to fetch flows")
		return
	}

	s.respond(c, http.StatusOK, gin.H{
		"iflows": flows,
		"count":  len(flows),
	})
}

func (s *Server) handleFlowConfigurations(c *gin.Context) {
	flowID := c.Param("id")
	version := c.Query("version")

	configs, err := s.sap.FetchFlowConfigurations(c.Request.Context(), flowID, version)
	if err != nil {
		s.failUpstream(c, err, "Failed to fetch flow configurations")
		return
	}

	s.respond(c, http.StatusOK, gin.H{
		"configurations": configs,
		"count":          len(configs),
	})
}

func (s *Server) handleDeployFlow(c *gin.Context) {
	flowID := c.Param("id")
	version := c.Query("version")

	taskID, err := s.sap.DeployFlow(c.Request.Context(), flowID, version)
	if err != nil {
		s.failUpstream(c, err, "Failed to trigger deployment")
		return
	}

	log.Info().Str("flow", flowID).Str("task_id", taskID).Msg("Deployment triggered")
	s.respond(c, http.StatusAccepted, gin.H{"task_id": taskID})
}

func (s *Server) handleExportConfigurations(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.fail(c, http.StatusBadRequest, "Failed to read request body")
		return
	}

	var req struct {
		PackageIDs  []string `json:"package_ids"`
		Environment string   `json:"environment"`
	}
	if err := sonic.ConfigFastest.Unmarshal(body, &req); err != nil {
		s.fail(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.PackageIDs) == 0 {
		s.fail(c, http.StatusBadRequest, "package_ids is required")
		return
	}
	if strings.TrimSpace(req.Environment) == "" {
		s.fail(c, http.StatusBadRequest, "environment is required")
		return
	}
	env, err := export.NormalizeEnvironment(req.Environment)
	if err != nil {
		s.fail(c, http.StatusBadRequest, "Invalid environment name")
		return
	}

	entries, err := s.collectConfigurations(c.Request.Context(), req.PackageIDs)
	if err != nil {
		s.failUpstream(c, err, "Failed to collect configurations")
		return
	}
	if len(entries) == 0 {
		s.fail(c, http.StatusBadRequest, "No flows found for the requested packages")
		return
	}

	artifact, err := s.exports.WriteConfigurations(c.Request.Context(), env, entries)
	if err != nil {
		log.Error().Err(err).Msg("Failed to write export")
		s.fail(c, http.StatusInternalServerError, "Failed to write export")
		return
	}

	s.respond(c, http.StatusCreated, gin.H{"export": artifact})
}

// collectConfigurations resolves every flow of the given packages and
// fetches its configuration in parallel, bounded like the flow fan-out.
func (s *Server) collectConfigurations(ctx context.Context, packageIDs []string) ([]export.FlowConfigurations, error) {
	flows, err := s.sap.FetchFlows(ctx, packageIDs)
	if err != nil {
		return nil, err
	}

	g, ctx := errgroup.WithContext(ctx)
	limit := s.config.FlowConcurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	entries := make([]export.FlowConfigurations, len(flows))
	for i, flow := range flows {
		i, flow := i, flow
		g.Go(func() error {
			configs, err := s.sap.FetchFlowConfigurations(ctx, flow.ID, flow.Version)
			if err != nil {
				return fmt.Errorf("flow %s: %w", flow.ID, err)
			}
			entries[i] = export.FlowConfigurations{Flow: flow, Configurations: configs}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return entries, nil
}

func (s *Server) handleListExports(c *gin.Context) {
	artifacts, err := s.exports.List(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list exports")
		s.fail(c, http.StatusInternalServerError, "Failed to list exports")
		return
	}

	s.respond(c, http.StatusOK, gin.H{
		"exports": artifacts,
		"count":   len(artifacts),
	})
}

func (s *Server) handleDownloadExport(c *gin.Context) {
	name := c.Param("name")

	reader, info, err := s.exports.Open(c.Request.Context(), name)
	if err != nil {
		switch {
		case errors.Is(err, export.ErrBadName):
			s.fail(c, http.StatusBadRequest, "Invalid export name")
		case errors.Is(err, storage.ErrNotExist):
			s.fail(c, http.StatusNotFound, "Export not found")
		default:
			log.Error().Err(err).Str("name", name).Msg("Failed to open export")
			s.fail(c, http.StatusInternalServerError, "Failed to open export")
		}
		return
	}
	defer func() { _ = reader.Close() }()

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.DataFromReader(http.StatusOK, info.Size, "text/csv", reader, nil)
}

func (s *Server) handleDeleteExport(c *gin.Context) {
	name := c.Param("name")

	if err := s.exports.Delete(c.Request.Context(), name); err != nil {
		if errors.Is(err, export.ErrBadName) {
			s.fail(c, http.StatusBadRequest, "Invalid export name")
			return
		}
		log.Error().Err(err).Str("name", name).Msg("Failed to delete export")
		s.fail(c, http.StatusInternalServerError, "Failed to delete export")
		return
	}

	s.respondMessage(c, http.StatusOK, "Export deleted")
}

func (s *Server) handleTokenStatus(c *gin.Context) {
	s.respond(c, http.StatusOK, gin.H{
		"configured": s.sap.Configured(),
		"token":      s.sap.TokenStatus(),
	})
}

func (s *Server) handleTokenRefresh(c *gin.Context) {
	status, err := s.sap.RefreshToken(c.Request.Context())
	if err != nil {
		s.failUpstream(c, err, "Failed to refresh token")
		return
	}

	s.respond(c, http.StatusOK, gin.H{"token": status})
}

func (s *Server) handleConfig(c *gin.Context) {
	s.respond(c, http.StatusOK, gin.H{
		"api_base_url":        s.config.APIBaseURL,
		"catalog_ttl_seconds": int(s.config.CatalogTTL.Seconds()),
		"prefetch":            s.config.Prefetch,
		"flow_concurrency":    s.config.FlowConcurrency,
		"storage_type":        s.config.StorageType,
		"metrics":             s.config.Metrics,
		"client_id_set":       s.config.ClientID != "",
	})
}

// failUpstream maps tenant client errors onto response codes.
func (s *Server) failUpstream(c *gin.Context, err error, message string) {
	if errors.Is(err, sap.ErrNotConfigured) {
		s.fail(c, http.StatusServiceUnavailable, "Tenant credentials not configured")
		return
	}
	log.Error().Err(err).Str("request_id", c.GetString("request_id")).Msg(message)
	s.fail(c, http.StatusBadGateway, message)
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func cors(origins []string) gin.HandlerFunc {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, origin := range origins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			if allowAll {
				c.Header("Access-Control-Allow-Origin", "*")
			} else if allowed[origin] {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Accept, Content-Type, X-Request-ID")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func splitIDs(raw string) []string {
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}
