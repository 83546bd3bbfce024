package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tinytelemetry/rutrace/internal/model"
)

// Store is the storage contract required by the HTTP API.
type Store interface {
	model.FileStore
	model.ReadAPI
}

// Uploader accepts uploaded trace files and archives.
type Uploader interface {
	Accept(ctx context.Context, name string, src io.Reader) ([]model.LogFile, error)
}

// Reparser queues a stored file for a fresh parse.
type Reparser interface {
	Reparse(fileID int64) error
}

// Deps wires the server to the rest of the service.
type Deps struct {
	Store   Store
	Intake  Uploader
	Jobs    Reparser
	Metrics http.Handler // served at /metrics when set
	Logger  *zap.Logger
	// MaxUploadBytes bounds a multipart upload body. Zero means no limit.
	MaxUploadBytes int64
}

// Server provides the HTTP API over stored trace files and their records.
type Server struct {
	addr      string
	deps      Deps
	log       *zap.Logger
	server    *http.Server
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, deps Deps) *Server {
	if addr == "" {
		addr = "0.0.0.0:3000"
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   addr,
		deps:   deps,
		log:    log.Named("http"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.routes(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.startTime = time.Now()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("serve failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.MaxMultipartMemory = 32 << 20

	r.GET("/api/health", s.handleHealth)
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
	r.GET("/api/schema", s.handleSchema)
	r.POST("/api/query", s.handleQuery)

	files := r.Group("/api/files")
	files.POST("/upload", s.handleUpload)
	files.GET("", s.handleListFiles)
	files.GET("/:file_id", s.handleGetFile)
	files.DELETE("/:file_id", s.handleDeleteFile)
	files.POST("/:file_id/reparse", s.handleReparse)

	msgs := r.Group("/api/messages/:file_id", s.requireFile)
	msgs.GET("/rpc", s.handleListMessages)
	msgs.GET("/rpc/:id", s.handleGetMessage)
	msgs.GET("/errors", s.handleListErrors)
	msgs.GET("/errors/:id", s.handleGetError)
	msgs.GET("/statistics", s.handleStatistics)

	carriers := r.Group("/api/carriers/:file_id", s.requireFile)
	carriers.GET("/events", s.handleListCarrierEvents)
	carriers.GET("/events/:id", s.handleGetCarrierEvent)
	carriers.GET("/statistics", s.handleCarrierStatistics)
	carriers.GET("/timeline/:name", s.handleCarrierTimeline)

	return r
}

// accessLog logs one line per request at debug level, and at warn level
// for server errors.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.log.Warn("request failed", append(fields, zap.Strings("errors", c.Errors.Errors()))...)
			return
		}
		s.log.Debug("request", fields...)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	counts, err := s.deps.Store.TableRowCounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"uptime":        time.Since(s.startTime).String(),
		"file_count":    counts["log_files"],
		"message_count": counts["rpc_messages"],
	})
}

func (s *Server) handleSchema(c *gin.Context) {
	description := s.deps.Store.GetSchemaDescription()

	res, err := s.deps.Store.ExecuteQuery(c.Request.Context(),
		"SELECT table_name, column_name, data_type FROM information_schema.columns WHERE table_schema = 'main' ORDER BY table_name, ordinal_position",
		model.MaxQueryRows,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read schema metadata"})
		return
	}

	schema := make(map[string][]map[string]string)
	for _, row := range res.Rows {
		table := fmt.Sprint(row[0])
		schema[table] = append(schema[table], map[string]string{
			"column": fmt.Sprint(row[1]),
			"type":   fmt.Sprint(row[2]),
		})
	}

	counts, err := s.deps.Store.TableRowCounts()
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
		SQL   string `json:"sql" binding:"required"`
		Limit int    `json:"limit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing sql field"})
		return
	}
	if req.Limit < 0 || req.Limit > model.MaxQueryRows {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit must be between 0 and %d", model.MaxQueryRows)})
		return
	}

	res, err := s.deps.Store.ExecuteQuery(c.Request.Context(), req.SQL, req.Limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"columns":   res.Columns,
		"rows":      res.Rows,
		"row_count": len(res.Rows),
		"truncated": res.Truncated,
	})
}
