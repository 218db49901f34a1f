package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"

	"github.com/tinytelemetry/mapstats/internal/model"
	"github.com/tinytelemetry/mapstats/internal/report"
)

const (
	defaultMatchLimit = 50
	maxMatchLimit     = 1000
	defaultRunLimit   = 20
)

// Server provides an HTTP API for querying stored match statistics.
type Server struct {
	addr       string
	store      model.ReadAPI
	reportDays int
	server     *http.Server
	ctx        context.Context
	cancel     context.CancelFunc
	startTime  time.Time
	now        func() time.Time
}

// ServerConfig holds optional parameters for the HTTP API.
type ServerConfig struct {
	ReportDays int // default look-back for /api/report
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, store model.ReadAPI, conf ...ServerConfig) *Server {
	if addr == "" {
		addr = "0.0.0.0:3000"
	}
	reportDays := model.DefaultReportDays
	if len(conf) > 0 && conf[0].ReportDays != 0 {
		reportDays = conf[0].ReportDays
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:       addr,
		store:      store,
		reportDays: reportDays,
		ctx:        ctx,
		cancel:     cancel,
		now:        time.Now,
	}
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/schema", s.handleSchema)
	r.POST("/api/query", s.handleQuery)
	r.GET("/api/matches", s.handleMatches)
	r.GET("/api/report", s.handleReport)
	r.GET("/api/runs", s.handleRuns)
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.routes(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.startTime = time.Now()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("httpserver: serve: %v", err)
		}
	}()
	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.addr }

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// renderJSON encodes record-heavy bodies with go-json.
func renderJSON(c *gin.Context, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode response"})
		return
	}
	c.Data(status, "application/json; charset=utf-8", data)
}

// intQuery parses an optional integer query parameter.
func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	matchCount, err := s.store.MatchCount(model.MatchFilter{})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"uptime":      time.Since(s.startTime).String(),
		"match_count": matchCount,
	})
}

func (s *Server) handleSchema(c *gin.Context) {
	description := s.store.GetSchemaDescription()

	tables, err := s.store.ExecuteQuery(
		"SELECT table_name, column_name, data_type FROM information_schema.columns WHERE table_schema = 'main' ORDER BY table_name, ordinal_position",
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read schema metadata"})
		return
	}

	schema := make(map[string][]map[string]string)
	for _, row := range tables {
		tableName := fmt.Sprintf("%v", row["table_name"])
		schema[tableName] = append(schema[tableName], map[string]string{
			"column": fmt.Sprintf("%v", row["column_name"]),
			"type":   fmt.Sprintf("%v", row["data_type"]),
		})
	}

	counts, err := s.store.TableRowCounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read table row counts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"description": description,
		"tables":      schema,
		"row_counts":  counts,
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	var req struct {
		SQL string `json:"sql" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing sql field"})
		return
	}

	results, err := s.store.ExecuteQuery(req.SQL)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var columns []string
	if len(results) > 0 {
		for col := range results[0] {
			columns = append(columns, col)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"columns":   columns,
		"rows":      results,
		"row_count": len(results),
	})
}

func (s *Server) handleMatches(c *gin.Context) {
	limit, err := intQuery(c, "limit", defaultMatchLimit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if limit <= 0 {
		limit = defaultMatchLimit
	}
	if limit > maxMatchLimit {
		limit = maxMatchLimit
	}

	filter := model.MatchFilter{Map: strings.TrimSpace(c.Query("map"))}
	if filter.MinPlayers, err = intQuery(c, "min-players", 0); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	matches, err := s.store.RecentMatches(limit, filter)
	if err != nil {
		log.Printf("httpserver: recent matches: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read matches"})
		return
	}
	if matches == nil {
		matches = []model.MatchRecord{}
	}

	renderJSON(c, http.StatusOK, gin.H{
		"matches": matches,
		"count":   len(matches),
	})
}

func (s *Server) handleReport(c *gin.Context) {
	days, err := intQuery(c, "days", s.reportDays)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	minPlayers, err := intQuery(c, "min-players", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	r, err := report.Build(s.store, report.Options{
		Days:       days,
		MinPlayers: minPlayers,
		Map:        c.Query("map"),
		Now:        s.now(),
	})
	if errors.Is(err, report.ErrUnknownMap) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		log.Printf("httpserver: build report: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build report"})
		return
	}
	renderJSON(c, http.StatusOK, r)
}

func (s *Server) handleRuns(c *gin.Context) {
	limit, err := intQuery(c, "limit", defaultRunLimit)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	runs, err := s.store.RecentIngestRuns(limit)
	if err != nil {
		log.Printf("httpserver: ingest runs: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ingest runs"})
		return
	}
	if runs == nil {
		runs = []model.IngestRun{}
	}
	renderJSON(c, http.StatusOK, gin.H{"runs": runs})
}
